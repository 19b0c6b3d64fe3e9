// Package stage implements the Stage record: a goal shared by a subset of
// a task's agents, tracked through per-agent state to completion (spec §3
// "Stage", §4.6 stage-completion feedback).
package stage

import "sync"

// ExecutionState is the stage's overall lifecycle state.
type ExecutionState string

const (
	ExecInit     ExecutionState = "init"
	ExecRunning  ExecutionState = "running"
	ExecFinished ExecutionState = "finished"
	ExecFailed   ExecutionState = "failed"
)

// AgentState is a single agent's progress within a stage.
type AgentState string

const (
	AgentIdle     AgentState = "idle"
	AgentWorking  AgentState = "working"
	AgentWaiting  AgentState = "waiting"
	AgentFinished AgentState = "finished"
	AgentFailed   AgentState = "failed"
)

// CompletionCallback fires exactly once, the moment completion_summary's
// key set equals agent_allocation's key set (INV-Stage-Completion-Once).
type CompletionCallback func(taskID, stageID string, summary map[string]string)

// Stage is a goal assigned to a subset of agents within a task.
type Stage struct {
	ID        string
	TaskID    string
	Intention string

	mu                sync.Mutex
	agentAllocation   map[string]string // agent_id -> per-agent goal text
	executionState    ExecutionState
	perAgentState     map[string]AgentState
	completionSummary map[string]string

	completionFired bool
	onComplete      CompletionCallback
}

// New creates a stage with every allocated agent starting idle.
func New(id, taskID, intention string, allocation map[string]string, onComplete CompletionCallback) *Stage {
	perAgent := make(map[string]AgentState, len(allocation))
	for agentID := range allocation {
		perAgent[agentID] = AgentIdle
	}
	return &Stage{
		ID:                id,
		TaskID:            taskID,
		Intention:         intention,
		agentAllocation:   allocation,
		executionState:    ExecInit,
		perAgentState:     perAgent,
		completionSummary: make(map[string]string),
		onComplete:        onComplete,
	}
}

// Allocation returns a copy of the agent allocation map.
func (s *Stage) Allocation() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.agentAllocation))
	for k, v := range s.agentAllocation {
		out[k] = v
	}
	return out
}

// ExecutionState returns the current lifecycle state.
func (s *Stage) ExecutionState() ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionState
}

// SetExecutionState sets the stage's lifecycle state. A stage already
// ExecFailed is never overwritten with ExecFinished (spec §4.6
// finish_stage: "unless already failed").
func (s *Stage) SetExecutionState(next ExecutionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executionState == ExecFailed && next == ExecFinished {
		return
	}
	s.executionState = next
}

// SetAgentState updates a single agent's per-agent state.
func (s *Stage) SetAgentState(agentID string, state AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perAgentState[agentID] = state
}

// AgentStateOf returns an agent's current per-agent state.
func (s *Stage) AgentStateOf(agentID string) (AgentState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.perAgentState[agentID]
	return st, ok
}

// RecordCompletion records an agent's completion summary and fires the
// completion callback exactly once when every allocated agent has
// reported (INV-Stage-Completion-Once).
func (s *Stage) RecordCompletion(agentID, summary string) {
	s.mu.Lock()
	s.completionSummary[agentID] = summary
	s.perAgentState[agentID] = AgentFinished

	done := len(s.completionSummary) == len(s.agentAllocation)
	for a := range s.agentAllocation {
		if _, ok := s.completionSummary[a]; !ok {
			done = false
			break
		}
	}

	fire := done && !s.completionFired
	if fire {
		s.completionFired = true
	}
	var snapshot map[string]string
	if fire {
		snapshot = make(map[string]string, len(s.completionSummary))
		for k, v := range s.completionSummary {
			snapshot[k] = v
		}
	}
	cb := s.onComplete
	s.mu.Unlock()

	if fire && cb != nil {
		cb(s.TaskID, s.ID, snapshot)
	}
}

// CompletionSummary returns a copy of the completion summary recorded so far.
func (s *Stage) CompletionSummary() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.completionSummary))
	for k, v := range s.completionSummary {
		out[k] = v
	}
	return out
}
