package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentruntime/masrt/internal/step"
)

func TestTaskManagerEmitsAddStageInstruction(t *testing.T) {
	response := `<task_instruction>{"action":"add_stage","task_id":"T1","stages":[{"stage_id":"S2","intention":"review","agent_allocation":{"A2":"reviewer"}}]}</task_instruction>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, nil)

	st := agent.AddStep("T1", step.NoStage, "advance the task", step.KindSkill, "task_manager", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := NewTaskManager().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	require.NotNil(t, sfx.TaskInstruction)
	assert.Equal(t, "add_stage", string(sfx.TaskInstruction.Action))
	require.Len(t, sfx.TaskInstruction.Stages, 1)
	assert.Equal(t, "S2", sfx.TaskInstruction.Stages[0].StageID)
}

func TestAgentManagerEmitsInstruction(t *testing.T) {
	response := `<agent_instruction>{"action":"revoke_tool","params":{"tool":"search_api"}}</agent_instruction>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, nil)

	st := agent.AddStep("T1", step.NoStage, "manage roster", step.KindSkill, "agent_manager", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := NewAgentManager().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	require.NotNil(t, sfx.AgentInstruction)
	assert.Equal(t, "revoke_tool", sfx.AgentInstruction.Action)
}

func TestSummaryEmitsStageCompletionAndFinishedState(t *testing.T) {
	response := `<completion_summary>finished the search and reported back</completion_summary>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, nil)

	st := agent.AddStep("T1", "S1", "summarize the stage", step.KindSkill, "summary", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := NewSummary().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	require.NotNil(t, sfx.UpdateStageAgentCompletion)
	assert.Equal(t, "finished the search and reported back", sfx.UpdateStageAgentCompletion.CompletionSummary)
	require.NotNil(t, sfx.UpdateStageAgentState)
	assert.Equal(t, "finished", sfx.UpdateStageAgentState.State)
}

func TestQuickThinkStoresResult(t *testing.T) {
	agent := newTestAgent(&fakeLLM{response: `<quick_think>yes, proceed</quick_think>`}, nil, nil)
	st := agent.AddStep("T1", "S1", "quick reaction", step.KindSkill, "quick_think", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := NewQuickThink().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Equal(t, "yes, proceed", st.ExecuteResult["quick_think"])
}

func TestThinkStoresResult(t *testing.T) {
	agent := newTestAgent(&fakeLLM{response: `<think_result>the plan checks out</think_result>`}, nil, nil)
	st := agent.AddStep("T1", "S1", "think it over", step.KindSkill, "think", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := NewThink().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Equal(t, "the plan checks out", st.ExecuteResult["think"])
}

func TestProcessMessageAppendsPersistentMemory(t *testing.T) {
	response := `<persistent_memory>remember that A2 prefers concise replies</persistent_memory>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, nil)
	st := agent.AddStep("T1", "S1", "process incoming message", step.KindSkill, "process_message", "hi there", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := NewProcessMessage().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Equal(t, step.StatusFinished, st.Status)
	assert.Contains(t, agent.PersistentMemory, "concise replies")
}
