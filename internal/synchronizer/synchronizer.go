// Package synchronizer is the single writer to task and stage records
// (spec §4.6). It owns the authoritative task_id -> Task map, applies
// side-effect descriptors emitted by executors, and is the only component
// permitted to mutate a Task's stage list or a Stage's lifecycle state.
//
// Grounded on the teacher's pkg/task service layer (pkg/task/factory.go,
// pkg/task/task.go): a single struct owning a registry of tasks behind a
// mutex, exposing get/add/mutate operations with structured logging on
// every transition.
package synchronizer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/errs"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/stage"
	"github.com/agentruntime/masrt/internal/taskstate"
)

// AgentDirectory resolves an agent_id to its live state, as the
// synchronizer needs to reach working memory and step logs when applying
// instructions (e.g. update_working_memory, finish_stage purges).
type AgentDirectory interface {
	Agent(agentID string) (*agentstate.State, bool)
}

// Synchronizer is the authoritative owner of every Task record.
type Synchronizer struct {
	log *slog.Logger

	agents AgentDirectory

	// mu serializes every apply/start_stage/add_task call (spec §4.6:
	// "MUST serialize concurrent apply calls").
	mu    sync.Mutex
	tasks map[string]*taskstate.Task
}

// New creates a Synchronizer bound to an agent directory used to resolve
// agent_id -> live state.
func New(log *slog.Logger, agents AgentDirectory) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{
		log:    log,
		agents: agents,
		tasks:  make(map[string]*taskstate.Task),
	}
}

// GetTask returns a task by ID. The synchronizer mutex is held only for
// the map lookup; the caller then reads the returned Task through the
// Task's own lock, not the synchronizer's.
func (s *Synchronizer) GetTask(taskID string) (*taskstate.Task, bool) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	return t, ok
}

// GetStage returns a stage by task and stage ID.
func (s *Synchronizer) GetStage(taskID, stageID string) (*stage.Stage, bool) {
	t, ok := s.GetTask(taskID)
	if !ok {
		return nil, false
	}
	return t.Stage(stageID)
}

// AddTask registers a new task.
func (s *Synchronizer) AddTask(t *taskstate.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// Tasks returns a snapshot of every registered task, satisfying the
// dispatcher's TaskDirectory dependency (spec §4.7 "for each registered
// task, drain its communication_queue").
func (s *Synchronizer) Tasks() []*taskstate.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*taskstate.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// AddStage appends one or more stages to an already-registered task,
// reusing the same add_stage machinery a task_manager skill's
// task_instruction descriptor drives (spec §4.6 "add_stage"). Exposed so
// the supervisor can seed a task's initial stage(s) directly at creation
// time (grounded on the teacher-original's init_and_start_first_task,
// which builds and appends a Stage before ever starting it).
func (s *Synchronizer) AddStage(ti *executor.TaskInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addStage(ti)
}

// StartStage enqueues a start_stage instruction to every agent allocated
// to the stage (spec §4.6).
func (s *Synchronizer) StartStage(taskID, stageID, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startStageLocked(taskID, stageID, senderID)
}

func (s *Synchronizer) startStageLocked(taskID, stageID, senderID string) error {
	t, ok := s.tasks[taskID]
	if !ok {
		return newError("start_stage", errs.KindStageLogic, fmt.Sprintf("unknown task %q", taskID), nil)
	}
	stg, ok := t.Stage(stageID)
	if !ok {
		s.log.Warn("start_stage on unknown stage", "task_id", taskID, "stage_id", stageID)
		return newError("start_stage", errs.KindStageLogic, fmt.Sprintf("unknown stage %q", stageID), nil)
	}

	for agentID := range stg.Allocation() {
		instr := &message.Instruction{
			Key:         message.ActionStartStage,
			StartStage:  &message.StartStage{StageID: stageID},
		}
		text, err := message.EmbedInstruction("", instr)
		if err != nil {
			return err
		}
		t.Enqueue(message.Message{
			TaskID:        taskID,
			SenderID:      senderID,
			Receiver:      []string{agentID},
			Text:          text,
			StageRelative: stageID,
		})
	}
	return nil
}

// Apply dispatches a side-effect descriptor on its populated variant
// (spec §4.1, §4.6). Multiple variants in one descriptor are all applied.
func (s *Synchronizer) Apply(sfx *executor.SideEffect) error {
	if sfx == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if sfx.UpdateStageAgentState != nil {
		if err := s.applyAgentState(sfx.UpdateStageAgentState); err != nil {
			errs = append(errs, err)
		}
	}
	if sfx.SendSharedMessage != nil {
		s.applySharedMessage(sfx.SendSharedMessage)
	}
	if sfx.SendMessage != nil {
		s.applySendMessage(*sfx.SendMessage)
	}
	if sfx.TaskInstruction != nil {
		if err := s.applyTaskInstruction(sfx.TaskInstruction); err != nil {
			errs = append(errs, err)
		}
	}
	if sfx.AgentInstruction != nil {
		s.log.Info("agent_instruction received", "action", sfx.AgentInstruction.Action)
	}
	if sfx.AskInfo != nil {
		if err := s.applyAskInfo(sfx.AskInfo); err != nil {
			errs = append(errs, err)
		}
	}
	if sfx.UpdateStageAgentCompletion != nil {
		if err := s.applyStageCompletion(sfx.UpdateStageAgentCompletion); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (s *Synchronizer) applyAgentState(u *executor.PerAgentStateUpdate) error {
	stg, ok := s.stageLocked(u.TaskID, u.StageID)
	if !ok {
		s.log.Warn("update_stage_agent_state: unknown stage", "task_id", u.TaskID, "stage_id", u.StageID)
		return newError("update_stage_agent_state", errs.KindStageLogic, fmt.Sprintf("unknown stage %q/%q", u.TaskID, u.StageID), nil)
	}
	stg.SetAgentState(u.AgentID, stage.AgentState(u.State))
	return nil
}

func (s *Synchronizer) applySharedMessage(m *executor.SharedMessage) {
	t, ok := s.tasks[m.TaskID]
	if !ok {
		s.log.Warn("send_shared_message: unknown task", "task_id", m.TaskID)
		return
	}
	t.RecordProgress(taskstate.ProgressEntry{
		AgentID: m.AgentID,
		Role:    m.Role,
		StageID: m.StageID,
		Content: m.Content,
	})
}

func (s *Synchronizer) applySendMessage(m message.Message) {
	t, ok := s.tasks[m.TaskID]
	if !ok {
		s.log.Warn("send_message: unknown task", "task_id", m.TaskID)
		return
	}
	t.Enqueue(m)
}

func (s *Synchronizer) applyTaskInstruction(ti *executor.TaskInstruction) error {
	switch ti.Action {
	case executor.TaskInstructionAddTask:
		return s.addTask(ti)
	case executor.TaskInstructionAddStage:
		return s.addStage(ti)
	case executor.TaskInstructionFinishStg:
		return s.finishStage(ti)
	case executor.TaskInstructionFinish:
		return s.finishTask(ti)
	default:
		s.log.Warn("unknown task_instruction action", "action", ti.Action)
		return nil
	}
}

func (s *Synchronizer) addTask(ti *executor.TaskInstruction) error {
	id := ti.TaskID
	if id == "" {
		return newError("add_task", errs.KindStageLogic, "add_task requires a task ID", nil)
	}
	t := taskstate.New(id, ti.TaskIntention, ti.TaskIntention, ti.AgentID, []string{ti.AgentID})
	s.tasks[id] = t

	instr := &message.Instruction{
		Key:                 message.ActionUpdateWorkingMemory,
		UpdateWorkingMemory: &message.UpdateWorkingMemory{TaskID: id},
	}
	text, err := message.EmbedInstruction("", instr)
	if err != nil {
		return newError("add_task", errs.KindProtocol, "embed update_working_memory instruction", err)
	}
	t.Enqueue(message.Message{
		TaskID:   id,
		SenderID: ti.AgentID,
		Receiver: []string{ti.AgentID},
		Text:     text,
	})
	return nil
}

func (s *Synchronizer) addStage(ti *executor.TaskInstruction) error {
	t, ok := s.tasks[ti.TaskID]
	if !ok {
		return newError("add_stage", errs.KindStageLogic, fmt.Sprintf("unknown task %q", ti.TaskID), nil)
	}
	for _, spec := range ti.Stages {
		stg := stage.New(spec.StageID, ti.TaskID, spec.Intention, spec.AgentAllocation, s.completionCallback())
		t.AppendStage(stg)

		for agentID := range spec.AgentAllocation {
			instr := &message.Instruction{
				Key:                 message.ActionUpdateWorkingMemory,
				UpdateWorkingMemory: &message.UpdateWorkingMemory{TaskID: ti.TaskID, StageID: spec.StageID},
			}
			text, err := message.EmbedInstruction("", instr)
			if err != nil {
				return newError("add_stage", errs.KindProtocol, "embed update_working_memory instruction", err)
			}
			t.Enqueue(message.Message{
				TaskID:        ti.TaskID,
				SenderID:      ti.AgentID,
				Receiver:      []string{agentID},
				Text:          text,
				StageRelative: spec.StageID,
			})
		}
	}
	return nil
}

// finishStage implements spec §4.6 finish_stage: mark the stage finished
// (unless already failed), then advance to the next init stage, preferring
// one already running, or mark the task done.
func (s *Synchronizer) finishStage(ti *executor.TaskInstruction) error {
	t, ok := s.tasks[ti.TaskID]
	if !ok {
		return newError("finish_stage", errs.KindStageLogic, fmt.Sprintf("unknown task %q", ti.TaskID), nil)
	}
	stg, ok := t.Stage(ti.StageID)
	if !ok {
		s.log.Warn("finish_stage on unknown stage", "task_id", ti.TaskID, "stage_id", ti.StageID)
		return newError("finish_stage", errs.KindStageLogic, fmt.Sprintf("unknown stage %q", ti.StageID), nil)
	}
	stg.SetExecutionState(stage.ExecFinished)

	s.broadcastFinishStage(t, ti.StageID)

	if running, ok := t.RunningStage(); ok {
		running.SetExecutionState(stage.ExecRunning)
		return s.startStageLocked(ti.TaskID, running.ID, ti.AgentID)
	}
	if next, ok := t.NextPendingStage(); ok {
		next.SetExecutionState(stage.ExecRunning)
		return s.startStageLocked(ti.TaskID, next.ID, ti.AgentID)
	}
	t.SetExecutionState(taskstate.ExecFinished)
	return nil
}

// broadcastFinishStage sends a finish_stage instruction to every agent
// allocated to the completed stage, so each purges that stage's steps and
// working memory (spec §4.4, §5 cascade removal).
func (s *Synchronizer) broadcastFinishStage(t *taskstate.Task, stageID string) {
	stg, ok := t.Stage(stageID)
	if !ok {
		return
	}
	for agentID := range stg.Allocation() {
		instr := &message.Instruction{
			Key:          message.ActionFinishStage,
			FinishStage:  &message.FinishStage{StageID: stageID},
		}
		text, err := message.EmbedInstruction("", instr)
		if err != nil {
			s.log.Error("finish_stage: embed instruction", "error", newError("finish_stage", errs.KindProtocol, "embed finish_stage instruction", err))
			continue
		}
		t.Enqueue(message.Message{
			TaskID:        t.ID,
			Receiver:      []string{agentID},
			Text:          text,
			StageRelative: stageID,
		})
	}
}

// finishTask implements spec §4.6 finish_task: terminal, broadcasts
// finish_task instructions to the whole task group (spec §5 cascade).
func (s *Synchronizer) finishTask(ti *executor.TaskInstruction) error {
	t, ok := s.tasks[ti.TaskID]
	if !ok {
		return newError("finish_task", errs.KindStageLogic, fmt.Sprintf("unknown task %q", ti.TaskID), nil)
	}
	t.SetExecutionState(taskstate.ExecFinished)

	instr := &message.Instruction{
		Key:        message.ActionFinishTask,
		FinishTask: &message.FinishTask{TaskID: ti.TaskID},
	}
	text, err := message.EmbedInstruction("", instr)
	if err != nil {
		return newError("finish_task", errs.KindProtocol, "embed finish_task instruction", err)
	}
	for _, agentID := range t.TaskGroup {
		t.Enqueue(message.Message{
			TaskID:   ti.TaskID,
			Receiver: []string{agentID},
			Text:     text,
		})
	}
	return nil
}

func (s *Synchronizer) applyAskInfo(ai *executor.AskInfo) error {
	if ai.WaitingID == "" {
		return newError("ask_info", errs.KindProtocol, "ask_info requires a waiting_id", nil)
	}
	t, ok := s.tasks[ai.SenderTaskID]
	if !ok {
		return newError("ask_info", errs.KindStageLogic, fmt.Sprintf("unknown task %q", ai.SenderTaskID), nil)
	}
	t.Enqueue(message.Message{
		TaskID:          ai.SenderTaskID,
		Receiver:        []string{ai.SenderID},
		ReturnWaitingID: ai.WaitingID,
	})
	return nil
}

func (s *Synchronizer) applyStageCompletion(sc *executor.StageCompletion) error {
	stg, ok := s.stageLocked(sc.TaskID, sc.StageID)
	if !ok {
		return newError("update_stage_agent_completion", errs.KindStageLogic, fmt.Sprintf("unknown stage %q/%q", sc.TaskID, sc.StageID), nil)
	}
	stg.RecordCompletion(sc.AgentID, sc.CompletionSummary)
	return nil
}

func (s *Synchronizer) stageLocked(taskID, stageID string) (*stage.Stage, bool) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Stage(stageID)
}

// completionCallback informs the task manager when a stage's completion
// summary fills out (spec §4.6 "the synchronizer uses this to inform the
// task manager") by enqueueing a message to the task's ManagerID that
// lists each agent's summary. It runs inside Apply, so s.mu is held.
func (s *Synchronizer) completionCallback() stage.CompletionCallback {
	return func(taskID, stageID string, summary map[string]string) {
		s.log.Info("stage completed", "task_id", taskID, "stage_id", stageID, "agents", len(summary))
		t, ok := s.tasks[taskID]
		if !ok || t.ManagerID == "" {
			return
		}
		t.Enqueue(message.Message{
			TaskID:        taskID,
			Receiver:      []string{t.ManagerID},
			Text:          fmt.Sprintf("Stage %s completed. Completion summaries by agent: %v", stageID, summary),
			StageRelative: stageID,
		})
	}
}
