package skill

import (
	"context"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// Think is the history-aware counterpart of QuickThink: a regular
// LLM call/text-generation task grounded on the stage's prior step
// results (SPEC_FULL.md §9, grounded on
// original_source/mas/skills/think.py).
type Think struct{}

// NewThink constructs the think skill.
func NewThink() *Think { return &Think{} }

// Execute implements executor.Executor.
func (t *Think) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("think: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Think", st, "Reply with your reasoning between <think_result> and </think_result>.") +
		historySection(agent, st.TaskID, st.StageID) +
		persistentMemorySection(agent)

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("think: llm call: %w", err)
	}

	thought, ok := extractTagged("think_result", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("think: no <think_result> block in LLM response")
	}

	st.ExecuteResult = map[string]any{"think": thought}
	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

var _ executor.Executor = (*Think)(nil)
