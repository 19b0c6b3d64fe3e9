package skill

import (
	"context"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// QuickThink is a single LLM call/text-generation skill for reactions
// that need no history (SPEC_FULL.md §9, grounded on
// original_source/mas/skills/quick_think.py). Its output is recorded in
// execute_result and it may append to persistent_memory.
type QuickThink struct{}

// NewQuickThink constructs the quick-think skill.
func NewQuickThink() *QuickThink { return &QuickThink{} }

// Execute implements executor.Executor.
func (q *QuickThink) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("quick_think: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Quick Think", st, "Reply with your answer between <quick_think> and </quick_think>.") +
		persistentMemorySection(agent)

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("quick_think: llm call: %w", err)
	}

	thought, ok := extractTagged("quick_think", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("quick_think: no <quick_think> block in LLM response")
	}

	st.ExecuteResult = map[string]any{"quick_think": thought}
	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

var _ executor.Executor = (*QuickThink)(nil)
