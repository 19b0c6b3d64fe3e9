package skill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// TaskManager emits a task_instruction descriptor: add_task, add_stage,
// finish_stage, or finish_task (spec §4.8, §4.6).
type TaskManager struct{}

// NewTaskManager constructs the task-manager skill.
func NewTaskManager() *TaskManager { return &TaskManager{} }

type taskInstructionPayload struct {
	Action          string                     `json:"action"`
	AgentID         string                     `json:"agent_id,omitempty"`
	TaskIntention   string                     `json:"task_intention,omitempty"`
	TaskID          string                     `json:"task_id,omitempty"`
	StageID         string                     `json:"stage_id,omitempty"`
	Stages          []taskInstructionStagePlan `json:"stages,omitempty"`
}

type taskInstructionStagePlan struct {
	StageID         string            `json:"stage_id"`
	Intention       string            `json:"intention"`
	AgentAllocation map[string]string `json:"agent_allocation"`
}

// Execute implements executor.Executor.
func (m *TaskManager) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("task_manager: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Task Manager", st, "Decide the task-level action to take. Reply with a JSON object between <task_instruction> and </task_instruction> shaped "+
			"{\"action\":\"add_task|add_stage|finish_stage|finish_task\", ...the fields that action needs}.")

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("task_manager: llm call: %w", err)
	}

	payload, ok := extractTagged("task_instruction", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("task_manager: no <task_instruction> block in LLM response")
	}

	var req taskInstructionPayload
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("task_manager: malformed <task_instruction> payload: %w", err)
	}

	instr := executor.TaskInstruction{
		Action:        executor.TaskInstructionAction(req.Action),
		AgentID:       req.AgentID,
		TaskIntention: req.TaskIntention,
		TaskID:        req.TaskID,
		StageID:       req.StageID,
	}
	for _, s := range req.Stages {
		instr.Stages = append(instr.Stages, executor.StageSpec{
			StageID:         s.StageID,
			Intention:       s.Intention,
			AgentAllocation: s.AgentAllocation,
		})
	}

	switch instr.Action {
	case executor.TaskInstructionAddTask, executor.TaskInstructionAddStage,
		executor.TaskInstructionFinishStg, executor.TaskInstructionFinish:
	default:
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("task_manager: unknown action %q", req.Action)
	}

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return &executor.SideEffect{TaskInstruction: &instr}, nil
}

var _ executor.Executor = (*TaskManager)(nil)
