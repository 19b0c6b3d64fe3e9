package skill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// AgentManager emits an agent_instruction descriptor (spec §4.8). Its
// concrete sub-actions are left to this skill's prompt contract; the
// core only routes the descriptor to the synchronizer.
type AgentManager struct{}

// NewAgentManager constructs the agent-manager skill.
func NewAgentManager() *AgentManager { return &AgentManager{} }

type agentInstructionPayload struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Execute implements executor.Executor.
func (m *AgentManager) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("agent_manager: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Agent Manager", st, "Decide the agent-level action to take. Reply with a JSON object between <agent_instruction> and </agent_instruction> shaped {\"action\":\"...\",\"params\":{...}}.") +
		persistentMemorySection(agent)

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("agent_manager: llm call: %w", err)
	}

	payload, ok := extractTagged("agent_instruction", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("agent_manager: no <agent_instruction> block in LLM response")
	}

	var req agentInstructionPayload
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("agent_manager: malformed <agent_instruction> payload: %w", err)
	}

	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return &executor.SideEffect{AgentInstruction: &executor.AgentInstruction{
		Action: req.Action,
		Params: req.Params,
	}}, nil
}

var _ executor.Executor = (*AgentManager)(nil)
