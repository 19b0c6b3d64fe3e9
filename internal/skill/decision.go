package skill

import (
	"context"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// Decision is like reflection but appends steps at the head of the queue
// (insert-next), used for off-stage reactive work (spec §4.8).
type Decision struct{}

// NewDecision constructs the decision skill.
func NewDecision() *Decision { return &Decision{} }

// Execute implements executor.Executor.
func (d *Decision) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("decision: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Decision", st, "Decide how to react. If new work is needed, reply with a JSON array between <planned_step> and </planned_step> (same shape as planning) to run next, ahead of any queued work. Otherwise reply with a single closing note between <summary_step> and </summary_step>.") +
		historySection(agent, st.TaskID, st.StageID) +
		persistentMemorySection(agent)

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("decision: llm call: %w", err)
	}

	insertNext := func(taskID, stageID, intention string, kind step.Kind, executorName, text string, instruction map[string]any) *step.Step {
		return agent.AddNextStep(taskID, stageID, intention, kind, executorName, text, instruction)
	}
	if err := applyPlannedOrSummary(agent, st, response, insertNext); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, err
	}

	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

var _ executor.Executor = (*Decision)(nil)
