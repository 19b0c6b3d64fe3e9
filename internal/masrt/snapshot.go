package masrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/stage"
	"github.com/agentruntime/masrt/internal/store"
	"github.com/agentruntime/masrt/internal/taskstate"
)

// Snapshot is the serializable view of every task, stage, agent, and step
// record the supervisor owns (spec §6 "snapshot()").
type Snapshot struct {
	Tasks  []TaskSnapshot  `json:"tasks"`
	Agents []AgentSnapshot `json:"agents"`
}

// TaskSnapshot is one task and its stages.
type TaskSnapshot struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Intention      string         `json:"intention"`
	ManagerID      string         `json:"manager_id"`
	ExecutionState string         `json:"execution_state"`
	Stages         []StageSnapshot `json:"stages"`
}

// StageSnapshot is one stage's allocation, lifecycle state, and
// completion progress.
type StageSnapshot struct {
	ID                string            `json:"id"`
	Intention         string            `json:"intention"`
	ExecutionState    string            `json:"execution_state"`
	Allocation        map[string]string `json:"allocation"`
	AgentStates       map[string]string `json:"agent_states"`
	CompletionSummary map[string]string `json:"completion_summary"`
}

// AgentSnapshot is one agent or operator's live state and step log.
type AgentSnapshot struct {
	AgentID      string         `json:"agent_id"`
	Name         string         `json:"name"`
	Role         string         `json:"role"`
	Variant      string         `json:"variant"`
	WorkingState string         `json:"working_state"`
	Steps        []StepSnapshot `json:"steps"`
}

// StepSnapshot is one step in an agent's log.
type StepSnapshot struct {
	ID           string `json:"id"`
	TaskID       string `json:"task_id"`
	StageID      string `json:"stage_id"`
	Intention    string `json:"intention"`
	Kind         string `json:"kind"`
	ExecutorName string `json:"executor_name"`
	Status       string `json:"status"`
	TextContent  string `json:"text_content"`
}

// Snapshot builds the full-system view (spec §6). Reads only use each
// component's own exported accessors, all of which take their own lock,
// so Snapshot never blocks the worker loops or the dispatcher for longer
// than one field read at a time.
func (s *Supervisor) Snapshot() Snapshot {
	var out Snapshot
	for _, t := range s.sync.Tasks() {
		out.Tasks = append(out.Tasks, taskSnapshot(t))
	}

	s.mu.RLock()
	agentIDs := make([]string, 0, len(s.agents))
	for id := range s.agents {
		agentIDs = append(agentIDs, id)
	}
	s.mu.RUnlock()

	for _, id := range agentIDs {
		st, ok := s.Agent(id)
		if !ok {
			continue
		}
		out.Agents = append(out.Agents, agentSnapshot(st))
	}
	return out
}

func taskSnapshot(t *taskstate.Task) TaskSnapshot {
	ts := TaskSnapshot{
		ID:             t.ID,
		Name:           t.Name,
		Intention:      t.Intention,
		ManagerID:      t.ManagerID,
		ExecutionState: string(t.ExecutionState()),
	}
	for _, stg := range t.Stages() {
		ts.Stages = append(ts.Stages, stageSnapshot(stg))
	}
	return ts
}

func stageSnapshot(stg *stage.Stage) StageSnapshot {
	allocation := stg.Allocation()
	agentStates := make(map[string]string, len(allocation))
	for agentID := range allocation {
		if as, ok := stg.AgentStateOf(agentID); ok {
			agentStates[agentID] = string(as)
		}
	}
	return StageSnapshot{
		ID:                stg.ID,
		Intention:         stg.Intention,
		ExecutionState:    string(stg.ExecutionState()),
		Allocation:        allocation,
		AgentStates:       agentStates,
		CompletionSummary: stg.CompletionSummary(),
	}
}

func agentSnapshot(st *agentstate.State) AgentSnapshot {
	as := AgentSnapshot{
		AgentID:      st.AgentID,
		Name:         st.Name,
		Role:         st.Role,
		Variant:      string(st.Variant),
		WorkingState: string(st.WorkingState()),
	}
	for _, stp := range st.AgentStep.All() {
		as.Steps = append(as.Steps, StepSnapshot{
			ID:           stp.ID,
			TaskID:       stp.TaskID,
			StageID:      stp.StageID,
			Intention:    stp.Intention,
			Kind:         string(stp.Kind),
			ExecutorName: stp.ExecutorName,
			Status:       string(stp.Status),
			TextContent:  stp.TextContent,
		})
	}
	return as
}

// PersistAll writes every task's current snapshot to st, for crash
// recovery (SPEC_FULL.md §8.3's persistence supplement). A task's Stages
// field is marshaled as a JSON array, matching store.Snapshot's
// serialization contract ("serializing and deserializing a Task snapshot
// yields an equal record", spec §8).
func (s *Supervisor) PersistAll(ctx context.Context, st store.Store) error {
	now := time.Now()
	for _, t := range s.sync.Tasks() {
		ts := taskSnapshot(t)
		stages, err := json.Marshal(ts.Stages)
		if err != nil {
			return fmt.Errorf("masrt: marshal stages for task %q: %w", ts.ID, err)
		}
		snap := store.Snapshot{
			TaskID:    ts.ID,
			Name:      ts.Name,
			Intention: ts.Intention,
			State:     ts.ExecutionState,
			Stages:    stages,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.Save(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}
