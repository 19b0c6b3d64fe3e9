package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentruntime/masrt/internal/step"
)

func TestPlanningEnqueuesWhitelistedSteps(t *testing.T) {
	llmResponse := `<planned_step>[
		{"step_intention":"search the web","type":"tool","executor":"search_api","text_content":"find X"},
		{"step_intention":"reflect","type":"skill","executor":"reflection","text_content":""}
	]</planned_step>`
	agent := newTestAgent(&fakeLLM{response: llmResponse}, []string{"search_api"}, []string{"reflection"})

	st := agent.AddStep("T1", "S1", "plan the stage", step.KindSkill, "planning", "", nil)
	poppedID, ok := agent.AgentStep.PopReady()
	require.True(t, ok)
	require.Equal(t, st.ID, poppedID)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	p := NewPlanning()
	sfx, err := p.Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Nil(t, sfx)
	assert.Equal(t, step.StatusFinished, st.Status)

	assert.Equal(t, 2, agent.AgentStep.ReadyLen())
	first, _ := agent.AgentStep.PopReady()
	firstStep, _ := agent.AgentStep.Get(first)
	assert.Equal(t, "search_api", firstStep.ExecutorName)

	second, _ := agent.AgentStep.PopReady()
	secondStep, _ := agent.AgentStep.Get(second)
	assert.Equal(t, "reflection", secondStep.ExecutorName)
}

func TestPlanningRetriesOnceAndSucceeds(t *testing.T) {
	violating := `<planned_step>[
		{"step_intention":"call a banned tool","type":"tool","executor":"not_whitelisted","text_content":"nope"}
	]</planned_step>`
	corrected := `<planned_step>[
		{"step_intention":"search the web","type":"tool","executor":"search_api","text_content":"find X"}
	]</planned_step>`
	llm := &fakeLLM{responses: []string{violating, corrected}}
	agent := newTestAgent(llm, []string{"search_api"}, nil)

	st := agent.AddStep("T1", "S1", "plan the stage", step.KindSkill, "planning", "", nil)
	_, ok := agent.AgentStep.PopReady()
	require.True(t, ok)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	p := NewPlanning()
	sfx, err := p.Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Nil(t, sfx)
	assert.Equal(t, step.StatusFinished, st.Status)
	assert.Len(t, llm.prompts, 2)

	assert.Equal(t, 1, agent.AgentStep.ReadyLen())
	id, _ := agent.AgentStep.PopReady()
	enqueued, _ := agent.AgentStep.Get(id)
	assert.Equal(t, "search_api", enqueued.ExecutorName)
}

// TestPlanningFailsOnPersistentWhitelistViolation covers spec §8 scenario
// 5: the planning skill re-prompts once, and if the violation persists the
// planning step ends failed with no new steps enqueued.
func TestPlanningFailsOnPersistentWhitelistViolation(t *testing.T) {
	violating := `<planned_step>[
		{"step_intention":"call a banned tool","type":"tool","executor":"not_whitelisted","text_content":"nope"}
	]</planned_step>`
	llm := &fakeLLM{responses: []string{violating, violating}}
	agent := newTestAgent(llm, []string{"search_api"}, nil)

	st := agent.AddStep("T1", "S1", "plan the stage", step.KindSkill, "planning", "", nil)
	_, ok := agent.AgentStep.PopReady()
	require.True(t, ok)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := NewPlanning().Execute(context.Background(), st.ID, agent)
	require.Error(t, err)
	assert.Equal(t, step.StatusFailed, st.Status)
	assert.Len(t, llm.prompts, 2)
	assert.Equal(t, 0, agent.AgentStep.ReadyLen())
}

func TestPlanningFailsOnUnparseableResponse(t *testing.T) {
	agent := newTestAgent(&fakeLLM{response: "no tags here"}, nil, nil)
	st := agent.AddStep("T1", "S1", "plan the stage", step.KindSkill, "planning", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := NewPlanning().Execute(context.Background(), st.ID, agent)
	require.Error(t, err)
	assert.Equal(t, step.StatusFailed, st.Status)
}
