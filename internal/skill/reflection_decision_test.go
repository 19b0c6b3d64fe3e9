package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentruntime/masrt/internal/step"
)

func TestReflectionAppendsSummaryStepAtTail(t *testing.T) {
	agent := newTestAgent(&fakeLLM{response: `<summary_step>{"step_intention":"wrap up","text_content":"all done"}</summary_step>`}, nil, []string{"summary"})
	agent.Skills["summary"] = true

	st := agent.AddStep("T1", "S1", "reflect", step.KindSkill, "reflection", "", nil)
	_, _ = agent.AgentStep.PopReady() // the worker pops a step before running it
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := NewReflection().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Equal(t, step.StatusFinished, st.Status)
	assert.Equal(t, 1, agent.AgentStep.ReadyLen())
}

func TestDecisionInsertsAtHeadOfQueue(t *testing.T) {
	agent := newTestAgent(&fakeLLM{response: `<planned_step>[{"step_intention":"react","type":"skill","executor":"quick_think","text_content":"go"}]</planned_step>`}, nil, []string{"quick_think"})

	existing := agent.AddStep("T1", "S1", "already queued", step.KindSkill, "quick_think", "", nil)
	st := agent.AddStep("T1", "S1", "decide", step.KindSkill, "decision", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))
	require.Equal(t, 2, agent.AgentStep.ReadyLen()) // existing, then st, both queued by AddStep

	_, err := NewDecision().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)

	head, ok := agent.AgentStep.PopReady()
	require.True(t, ok)
	headStep, _ := agent.AgentStep.Get(head)
	assert.Equal(t, "quick_think", headStep.ExecutorName)
	assert.Equal(t, "react", headStep.Intention)
	assert.NotEqual(t, existing.ID, headStep.ID)
}
