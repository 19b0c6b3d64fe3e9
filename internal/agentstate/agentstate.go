// Package agentstate models an agent's live state: its working memory,
// step lock, tool/skill whitelists, and the autonomous-vs-operator
// variant split called for in spec §9's design notes ("Model the agent
// state as a concrete record (sum-type for autonomous vs operator) rather
// than an untyped mapping").
package agentstate

import (
	"sync"

	"github.com/agentruntime/masrt/internal/idgen"
	"github.com/agentruntime/masrt/internal/step"
)

// WorkingState is the agent's current activity (spec §3 "Agent state").
type WorkingState string

const (
	WorkingIdle    WorkingState = "idle"
	WorkingActive  WorkingState = "working"
	WorkingWaiting WorkingState = "waiting"
)

// Variant distinguishes LLM-driven agents from human-operator-driven ones
// (spec §2 "Agent runtime").
type Variant string

const (
	VariantAutonomous Variant = "autonomous"
	VariantOperator   Variant = "operator"
)

// workingMemory is the nested task_id -> stage_id -> []step_id index
// (spec §3). Per spec §9's design note, this is a convenience view we
// still maintain directly (rather than deriving it on every read) because
// the worker loop and intake path both need O(1) mutation under the
// agent mutex; ownership of each step already lives on the Step record
// itself, so this index can always be rebuilt from a step log if it ever
// drifts.
type workingMemory map[string]map[string][]string

// State is the mutable state every agent (autonomous or operator) owns:
// working state, working memory, the step lock implementing the
// step-level distributed lock (spec §3 "Waiting ID semantics"), and the
// executor whitelists.
type State struct {
	AgentID string
	Name    string
	Role    string
	Profile string
	Variant Variant

	Tools  map[string]bool
	Skills map[string]bool

	AgentStep *step.Log

	// PersistentMemory is the only cross-task memory an agent sees (spec §3).
	PersistentMemory string

	mu            sync.Mutex
	workingState  WorkingState
	memory        workingMemory
	stepLock      map[string]bool // set of outstanding waiting IDs

	// ExecMu is the agent-wide mutex held for the full duration of an
	// executor call (spec §4.2 step 3), so the worker loop and the
	// intake path never race on agent state (spec §5).
	ExecMu sync.Mutex

	// Operator is non-nil only for VariantOperator agents; Autonomous is
	// non-nil only for VariantAutonomous agents (spec §9 sum-type note).
	Operator   *OperatorState
	Autonomous *AutonomousState
}

// AutonomousState is the LLM-driven variant's extra context: the LLM
// handle lives behind the LLMClient interface (spec §6) and is supplied
// by the caller, not stored as a concrete type here.
type AutonomousState struct {
	LLM any // holds an llm.Client; kept untyped here to avoid an import cycle
}

// OperatorState is the human-driven variant's extra context. It omits the
// LLM handle and instead keeps a conversation pool grouped by peer agent
// and task (SPEC_FULL.md §9, grounded on original_source/mas/agent/human_agent.py).
type OperatorState struct {
	mu               sync.Mutex
	ConversationPool map[PeerTask][]string // peer+task -> message texts, in delivery order
}

// PeerTask is the (peer agent, task) composite key for an operator's
// conversation pool.
type PeerTask struct {
	PeerAgentID string
	TaskID      string
}

// RecordConversation appends a message's text to the operator's
// conversation pool for the given peer+task.
func (o *OperatorState) RecordConversation(peerID, taskID, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ConversationPool == nil {
		o.ConversationPool = make(map[PeerTask][]string)
	}
	key := PeerTask{PeerAgentID: peerID, TaskID: taskID}
	o.ConversationPool[key] = append(o.ConversationPool[key], text)
}

// New creates an agent's live state.
func New(agentID, name, role, profile string, variant Variant, tools, skills []string) *State {
	s := &State{
		AgentID:      agentID,
		Name:         name,
		Role:         role,
		Profile:      profile,
		Variant:      variant,
		Tools:        toSet(tools),
		Skills:       toSet(skills),
		AgentStep:    step.NewLog(),
		workingState: WorkingIdle,
		memory:       make(workingMemory),
		stepLock:     make(map[string]bool),
	}
	switch variant {
	case VariantOperator:
		s.Operator = &OperatorState{ConversationPool: make(map[PeerTask][]string)}
	default:
		s.Autonomous = &AutonomousState{}
	}
	return s
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// WorkingState returns the agent's current activity.
func (s *State) WorkingState() WorkingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingState
}

// SetWorkingState sets the agent's current activity.
func (s *State) SetWorkingState(ws WorkingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingState = ws
}

// IsWhitelisted reports whether executorName is permitted for the given
// step kind (INV-Whitelist).
func (s *State) IsWhitelisted(kind step.Kind, executorName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == step.KindTool {
		return s.Tools[executorName]
	}
	return s.Skills[executorName]
}

// UpdateWorkingMemory initializes the nested task/stage entry (spec §4.4
// update_working_memory). stageID == "" records a task-level entry.
func (s *State) UpdateWorkingMemory(taskID, stageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory[taskID] == nil {
		s.memory[taskID] = make(map[string][]string)
	}
	if _, ok := s.memory[taskID][stageID]; !ok {
		s.memory[taskID][stageID] = nil
	}
}

// RecordStepOwnership appends a step ID to working_memory[task][stage]
// (spec §4.5 add_step/add_next_step).
func (s *State) RecordStepOwnership(taskID, stageID, stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory[taskID] == nil {
		s.memory[taskID] = make(map[string][]string)
	}
	s.memory[taskID][stageID] = append(s.memory[taskID][stageID], stepID)
}

// PurgeStage removes working_memory[task][stage] (spec §4.4 finish_stage).
func (s *State) PurgeStage(taskID, stageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byStage, ok := s.memory[taskID]; ok {
		delete(byStage, stageID)
	}
}

// PurgeTask removes working_memory[task] entirely (spec §4.4 finish_task).
func (s *State) PurgeTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, taskID)
}

// StepsFor returns the recorded step IDs for a task/stage.
func (s *State) StepsFor(taskID, stageID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.memory[taskID][stageID]
	cp := make([]string, len(out))
	copy(cp, out)
	return cp
}

// AddStep constructs a step and appends it to the tail of the agent's log
// and ready queue, recording its ID in working memory (spec §4.5
// add_step). A tool step created without instruction content starts in
// status pending rather than init, so a reader can tell at a glance that
// instruction generation is still owed.
func (s *State) AddStep(taskID, stageID, intention string, kind step.Kind, executorName, text string, instruction map[string]any) *step.Step {
	st := s.newStep(taskID, stageID, intention, kind, executorName, text, instruction)
	s.AgentStep.Append(st)
	s.RecordStepOwnership(taskID, stageID, st.ID)
	return st
}

// AddNextStep constructs a step and inserts it at the head of the ready
// queue, so it runs before any previously queued step (spec §4.5
// add_next_step).
func (s *State) AddNextStep(taskID, stageID, intention string, kind step.Kind, executorName, text string, instruction map[string]any) *step.Step {
	st := s.newStep(taskID, stageID, intention, kind, executorName, text, instruction)
	s.AgentStep.InsertNext(st)
	s.RecordStepOwnership(taskID, stageID, st.ID)
	return st
}

func (s *State) newStep(taskID, stageID, intention string, kind step.Kind, executorName, text string, instruction map[string]any) *step.Step {
	status := step.StatusInit
	if kind == step.KindTool && instruction == nil {
		status = step.StatusPending
	}
	return &step.Step{
		ID:                 idgen.New(),
		TaskID:             taskID,
		StageID:            stageID,
		AgentID:            s.AgentID,
		Intention:          intention,
		Kind:               kind,
		ExecutorName:       executorName,
		Status:             status,
		TextContent:        text,
		InstructionContent: instruction,
	}
}

// AddWaiting inserts a waiting ID into the step lock (spec §3 "Waiting ID
// semantics"; §4.8 send-message/ask-info).
func (s *State) AddWaiting(waitingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepLock[waitingID] = true
}

// ResolveWaiting removes a waiting ID from the step lock. Unknown tokens
// are a no-op, making re-delivery idempotent (spec §8 round-trip
// property).
func (s *State) ResolveWaiting(waitingID string) {
	if waitingID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stepLock, waitingID)
}

// IsLocked reports whether the step lock is non-empty (INV-Lock-Implies-Idle).
func (s *State) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stepLock) > 0
}

// OutstandingWaitingIDs returns a snapshot of the step lock's contents.
func (s *State) OutstandingWaitingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.stepLock))
	for id := range s.stepLock {
		out = append(out, id)
	}
	return out
}
