package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentruntime/masrt/internal/step"
)

func TestAskInfoLocksAWaitingID(t *testing.T) {
	response := `<ask_info>{"type":"peer_roster","params":{"task_id":"T1"}}</ask_info>`
	agent := newTestAgent(&fakeLLM{response: response}, nil, nil)

	st := agent.AddStep("T1", "S1", "ask who's on this task", step.KindSkill, "ask_info", "", nil)
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := NewAskInfo().Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	require.NotNil(t, sfx)
	require.NotNil(t, sfx.AskInfo)
	assert.Equal(t, "peer_roster", sfx.AskInfo.Type)
	assert.NotEmpty(t, sfx.AskInfo.WaitingID)
	assert.True(t, agent.IsLocked())
	assert.Equal(t, step.StatusFinished, st.Status)
}
