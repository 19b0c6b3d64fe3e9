package skill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// InstructionGeneration reads the next queued tool step and generates its
// instruction_content, transitioning it from pending to init. It fails if
// no next tool step exists or the LLM output is unparseable (spec §4.8).
type InstructionGeneration struct{}

// NewInstructionGeneration constructs the instruction-generation skill.
func NewInstructionGeneration() *InstructionGeneration { return &InstructionGeneration{} }

// Execute implements executor.Executor.
func (g *InstructionGeneration) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("instruction_generation: step %s not found", stepID)
	}

	target := nextPendingTool(agent, st.TaskID, st.StageID)
	if target == nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("instruction_generation: no queued pending tool step for task %s stage %s", st.TaskID, st.StageID)
	}

	prompt := promptHeader(agent) +
		stepSection("Instruction Generation", st, fmt.Sprintf("Generate the instruction_content for the pending tool step %q (executor %s). Reply with a JSON object between <tool_instruction> and </tool_instruction>, either {\"instruction_type\":\"get_description\"} or {\"instruction_type\":\"function_call\",\"tool_name\":\"...\",\"arguments\":{...}}.", target.Intention, target.ExecutorName))

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("instruction_generation: llm call: %w", err)
	}

	payload, ok := extractTagged("tool_instruction", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("instruction_generation: no <tool_instruction> block in LLM response")
	}

	var instruction map[string]any
	if err := json.Unmarshal([]byte(payload), &instruction); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("instruction_generation: malformed <tool_instruction> payload: %w", err)
	}

	target.InstructionContent = instruction
	if err := target.SetStatus(step.StatusInit); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("instruction_generation: %w", err)
	}

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

// nextPendingTool finds the first pending tool step for a task/stage, in
// the order it was recorded (working memory preserves insertion order).
func nextPendingTool(agent *agentstate.State, taskID, stageID string) *step.Step {
	for _, id := range agent.StepsFor(taskID, stageID) {
		st, ok := agent.AgentStep.Get(id)
		if !ok {
			continue
		}
		if st.Kind == step.KindTool && st.Status == step.StatusPending {
			return st
		}
	}
	return nil
}

var _ executor.Executor = (*InstructionGeneration)(nil)
