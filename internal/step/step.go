// Package step implements the Step record and an agent's step log: an
// append-only ordered map of steps plus a FIFO ready queue of step IDs
// awaiting execution (spec §3 "Step", "Agent-step log").
package step

import (
	"fmt"
	"sync"
)

// Kind distinguishes skill invocations from tool calls.
type Kind string

const (
	KindSkill Kind = "skill"
	KindTool  Kind = "tool"
)

// Status is the step's execution status. Transitions are monotonic:
// init|pending -> running -> finished|failed. A terminal status never
// regresses (INV-Step-Monotonic).
type Status string

const (
	StatusInit     Status = "init"
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Sentinel values for stage/relative scoping, per spec §3.
const (
	NoStage    = "no_stage"
	NoRelative = "no_relative"
)

// Step is an atomic unit of work owned by one agent.
type Step struct {
	ID              string
	TaskID          string
	StageID         string // NoStage for task-scoped work
	AgentID         string
	Intention       string
	Kind            Kind
	ExecutorName    string
	Status          Status
	TextContent     string
	InstructionContent map[string]any
	ExecuteResult      map[string]any
}

// CanTransitionTo enforces INV-Step-Monotonic.
func (s *Step) CanTransitionTo(next Status) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("step %s: cannot transition out of terminal status %s", s.ID, s.Status)
	}
	switch s.Status {
	case StatusInit:
		if next == StatusPending || next == StatusRunning {
			return nil
		}
	case StatusPending:
		if next == StatusInit || next == StatusRunning {
			return nil
		}
	case StatusRunning:
		if next == StatusFinished || next == StatusFailed {
			return nil
		}
	}
	return fmt.Errorf("step %s: illegal transition %s -> %s", s.ID, s.Status, next)
}

// SetStatus applies a validated transition.
func (s *Step) SetStatus(next Status) error {
	if err := s.CanTransitionTo(next); err != nil {
		return err
	}
	s.Status = next
	return nil
}

// Log is an agent's ordered step log and FIFO ready queue (spec §3
// "Agent-step log"). It owns its own mutex since the agent worker and the
// intake path both append to it; callers needing the single agent-wide
// mutex described in spec §5 should still take the agent's lock around
// any call that must be atomic with other agent-state mutation.
type Log struct {
	mu         sync.Mutex
	steps      map[string]*Step
	order      []string // insertion order, for deterministic snapshots
	readyQueue []string
}

// NewLog creates an empty step log.
func NewLog() *Log {
	return &Log{
		steps: make(map[string]*Step),
	}
}

// Append pushes a step onto the tail of the log and the ready queue.
func (l *Log) Append(s *Step) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps[s.ID] = s
	l.order = append(l.order, s.ID)
	l.readyQueue = append(l.readyQueue, s.ID)
}

// InsertNext pushes a step onto the log and the *front* of the ready
// queue, so it runs before any previously queued step (spec §4.2, §4.4).
func (l *Log) InsertNext(s *Step) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps[s.ID] = s
	l.order = append(l.order, s.ID)
	l.readyQueue = append([]string{s.ID}, l.readyQueue...)
}

// PopReady removes and returns the head of the ready queue, or ok=false
// if it is empty.
func (l *Log) PopReady() (stepID string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.readyQueue) == 0 {
		return "", false
	}
	stepID, l.readyQueue = l.readyQueue[0], l.readyQueue[1:]
	return stepID, true
}

// ReadyLen reports the current ready-queue depth.
func (l *Log) ReadyLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.readyQueue)
}

// Get returns the step by ID.
func (l *Log) Get(stepID string) (*Step, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.steps[stepID]
	return s, ok
}

// All returns a snapshot copy of the steps in insertion order.
func (l *Log) All() []*Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Step, 0, len(l.order))
	for _, id := range l.order {
		if s, ok := l.steps[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// RemoveByStage removes every step belonging to stageID, purging both the
// log and any queue references (spec §3 "remove_by", §4.4 finish_stage).
func (l *Log) RemoveByStage(taskID, stageID string) {
	l.removeWhere(func(s *Step) bool {
		return s.TaskID == taskID && s.StageID == stageID
	})
}

// RemoveByTask removes every step belonging to taskID (spec §4.4
// finish_task).
func (l *Log) RemoveByTask(taskID string) {
	l.removeWhere(func(s *Step) bool {
		return s.TaskID == taskID
	})
}

func (l *Log) removeWhere(match func(*Step) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, s := range l.steps {
		if match(s) {
			delete(l.steps, id)
		}
	}

	order := l.order[:0:0]
	for _, id := range l.order {
		if _, ok := l.steps[id]; ok {
			order = append(order, id)
		}
	}
	l.order = order

	queue := l.readyQueue[:0:0]
	for _, id := range l.readyQueue {
		if _, ok := l.steps[id]; ok {
			queue = append(queue, id)
		}
	}
	l.readyQueue = queue
}
