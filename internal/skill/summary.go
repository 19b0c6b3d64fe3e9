package skill

import (
	"context"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// Summary closes out an agent's participation in a stage: it reviews the
// stage's step history and emits an update_stage_agent_completion
// descriptor carrying the completion summary, plus a finished
// update_stage_agent_state (SPEC_FULL.md §9, grounded on
// original_source/mas/skills/summary.py). It does not deliver the
// stage's result on its own — delivery is a separate skill like
// send-message.
type Summary struct{}

// NewSummary constructs the summary skill.
func NewSummary() *Summary { return &Summary{} }

// Execute implements executor.Executor.
func (s *Summary) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("summary: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Summary", st, "Summarize what you accomplished in this stage. Reply with the summary text between <completion_summary> and </completion_summary>.") +
		historySection(agent, st.TaskID, st.StageID) +
		persistentMemorySection(agent)

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("summary: llm call: %w", err)
	}

	summary, ok := extractTagged("completion_summary", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("summary: no <completion_summary> block in LLM response")
	}

	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}

	return &executor.SideEffect{
		UpdateStageAgentCompletion: &executor.StageCompletion{
			TaskID:            st.TaskID,
			StageID:           st.StageID,
			AgentID:           agent.AgentID,
			CompletionSummary: summary,
		},
		UpdateStageAgentState: &executor.PerAgentStateUpdate{
			TaskID:  st.TaskID,
			StageID: st.StageID,
			AgentID: agent.AgentID,
			State:   "finished",
		},
	}, nil
}

var _ executor.Executor = (*Summary)(nil)
