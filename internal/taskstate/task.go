// Package taskstate implements the Task record (spec §3 "Task"): a
// top-level goal owning a sequential list of stages, an outbound message
// queue, and the two append-only pools described in spec §3/§9. Grounded
// on the teacher's pkg/task.Task state-machine pattern (mutex-guarded
// struct, typed Status, thread-safe accessors).
package taskstate

import (
	"sync"
	"time"

	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/stage"
)

// ExecutionState is the task's overall lifecycle state.
type ExecutionState string

const (
	ExecInit     ExecutionState = "init"
	ExecRunning  ExecutionState = "running"
	ExecFinished ExecutionState = "finished"
	ExecFailed   ExecutionState = "failed"
)

// ConversationEntry is one delivered envelope recorded in the shared
// conversation pool (spec §3 "shared_conversation_pool"), keyed by the
// time it was delivered.
type ConversationEntry struct {
	Timestamp time.Time
	Message   message.Message
}

// ProgressEntry is one per-step progress note recorded in the shared
// message pool (spec §3 "shared_message_pool").
type ProgressEntry struct {
	AgentID string
	Role    string
	StageID string
	Content string
}

// Task is the top-level goal a task group collaborates on.
type Task struct {
	ID          string
	Name        string
	Intention   string
	ManagerID   string
	TaskGroup   []string

	mu                     sync.RWMutex
	stages                 []*stage.Stage
	communicationQueue     []message.Message
	sharedConversationPool []ConversationEntry
	sharedMessagePool      []ProgressEntry
	executionState         ExecutionState
}

// New creates a Task in its initial state.
func New(id, name, intention, managerID string, group []string) *Task {
	return &Task{
		ID:             id,
		Name:           name,
		Intention:      intention,
		ManagerID:      managerID,
		TaskGroup:      append([]string(nil), group...),
		executionState: ExecInit,
	}
}

// ExecutionState returns the task's current lifecycle state.
func (t *Task) ExecutionState() ExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.executionState
}

// SetExecutionState sets the task's lifecycle state.
func (t *Task) SetExecutionState(s ExecutionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executionState = s
}

// AppendStage appends a stage to the task's sequential stage list.
func (t *Task) AppendStage(s *stage.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages = append(t.stages, s)
}

// Stages returns a snapshot slice of the task's stages, in order.
func (t *Task) Stages() []*stage.Stage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*stage.Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

// Stage returns a stage by ID.
func (t *Task) Stage(stageID string) (*stage.Stage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.stages {
		if s.ID == stageID {
			return s, true
		}
	}
	return nil, false
}

// RunningStage returns the single stage currently running, if any
// (INV-Single-Running-Stage).
func (t *Task) RunningStage() (*stage.Stage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.stages {
		if s.ExecutionState() == stage.ExecRunning {
			return s, true
		}
	}
	return nil, false
}

// NextPendingStage returns the first stage whose ExecutionState is init,
// implementing the rule in spec §4.6 finish_stage: advance to the next
// init stage in list order.
func (t *Task) NextPendingStage() (*stage.Stage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.stages {
		if s.ExecutionState() == stage.ExecInit {
			return s, true
		}
	}
	return nil, false
}

// Enqueue appends a message to the outbound communication queue (spec §3
// "communication_queue"). The synchronizer is the only writer.
func (t *Task) Enqueue(m message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.communicationQueue = append(t.communicationQueue, m)
}

// Drain removes and returns every message currently queued, non-blocking
// (spec §4.7 dispatcher step 1).
func (t *Task) Drain() []message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.communicationQueue
	t.communicationQueue = nil
	return out
}

// RecordDelivery appends a delivered message to the shared conversation
// pool (spec §4.7 step 3).
func (t *Task) RecordDelivery(m message.Message, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedConversationPool = append(t.sharedConversationPool, ConversationEntry{Timestamp: at, Message: m})
}

// ConversationPool returns a snapshot of delivered messages.
func (t *Task) ConversationPool() []ConversationEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ConversationEntry, len(t.sharedConversationPool))
	copy(out, t.sharedConversationPool)
	return out
}

// RecordProgress appends a per-step progress note to the shared message
// pool (spec §4.1 send_shared_message).
func (t *Task) RecordProgress(e ProgressEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedMessagePool = append(t.sharedMessagePool, e)
}

// ProgressPool returns a snapshot of progress notes.
func (t *Task) ProgressPool() []ProgressEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProgressEntry, len(t.sharedMessagePool))
	copy(out, t.sharedMessagePool)
	return out
}

// PurgeTaskScoped removes conversation/progress entries scoped to this
// task (spec §4.4 finish_task: "purge any conversation entries scoped to
// that task"). Since a Task object is itself scoped to one task_id, this
// simply clears both pools.
func (t *Task) PurgeTaskScoped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedConversationPool = nil
	t.sharedMessagePool = nil
}
