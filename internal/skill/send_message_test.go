package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentruntime/masrt/internal/step"
)

func TestSendMessageEmitsDirectSendWithWaitingIDs(t *testing.T) {
	response := `<send_message>{"receiver":["A2"],"text":"hello","need_reply":true,"waiting":true}</send_message>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, nil)

	st := agent.AddStep("T1", "S1", "tell A2", step.KindSkill, "send_message", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := NewSendMessage().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	require.NotNil(t, sfx)
	require.NotNil(t, sfx.SendMessage)
	assert.Equal(t, []string{"A2"}, sfx.SendMessage.Receiver)
	assert.True(t, sfx.SendMessage.NeedReply)
	require.Len(t, sfx.SendMessage.Waiting, 1)
	assert.NotEmpty(t, sfx.SendMessage.Waiting[0])
	assert.True(t, agent.IsLocked())
	assert.Equal(t, step.StatusFinished, st.Status)
}

// TestSendMessageNeedReplyWithoutWaitingDoesNotBlock covers the case the
// conflated need_reply/waiting fields used to make unrepresentable: asking
// for a reply without the sender blocking on a waiting ID.
func TestSendMessageNeedReplyWithoutWaitingDoesNotBlock(t *testing.T) {
	response := `<send_message>{"receiver":["A2"],"text":"hello","need_reply":true,"waiting":false}</send_message>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, nil)

	st := agent.AddStep("T1", "S1", "tell A2", step.KindSkill, "send_message", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := NewSendMessage().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	require.NotNil(t, sfx)
	require.NotNil(t, sfx.SendMessage)
	assert.True(t, sfx.SendMessage.NeedReply)
	assert.Empty(t, sfx.SendMessage.Waiting)
	assert.False(t, agent.IsLocked())
	assert.Equal(t, step.StatusFinished, st.Status)
}

func TestSendMessageGetMoreInfoQueuesDecisionThenRetry(t *testing.T) {
	response := `<get_more_info>{"step_intention":"find the doc","text_content":"need the exact section"}</get_more_info>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, []string{"decision"})

	st := agent.AddStep("T1", "S1", "tell A2", step.KindSkill, "send_message", "original text", nil)
	_, _ = agent.AgentStep.PopReady() // the worker pops a step before running it
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := NewSendMessage().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Nil(t, sfx)
	assert.Equal(t, step.StatusFinished, st.Status)

	require.Equal(t, 2, agent.AgentStep.ReadyLen())
	first, _ := agent.AgentStep.PopReady()
	firstStep, _ := agent.AgentStep.Get(first)
	assert.Equal(t, "decision", firstStep.ExecutorName)

	second, _ := agent.AgentStep.PopReady()
	secondStep, _ := agent.AgentStep.Get(second)
	assert.Equal(t, "send_message", secondStep.ExecutorName)
	assert.Equal(t, "original text", secondStep.TextContent)
}
