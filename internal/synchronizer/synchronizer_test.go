package synchronizer

import (
	"strings"
	"testing"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/stage"
	"github.com/agentruntime/masrt/internal/taskstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct{}

func (fakeDirectory) Agent(string) (*agentstate.State, bool) { return nil, false }

func newTestSynchronizer() *Synchronizer {
	return New(nil, fakeDirectory{})
}

func TestStartStageEnqueuesToEveryAllocatedAgent(t *testing.T) {
	s := newTestSynchronizer()
	task := taskstate.New("T1", "name", "intention", "A", []string{"A", "B"})
	stg := stage.New("S1", "T1", "goal", map[string]string{"A": "do x", "B": "do y"}, nil)
	task.AppendStage(stg)
	s.AddTask(task)

	require.NoError(t, s.StartStage("T1", "S1", "A"))

	msgs := task.Drain()
	require.Len(t, msgs, 2)
	receivers := map[string]bool{}
	for _, m := range msgs {
		require.Len(t, m.Receiver, 1)
		receivers[m.Receiver[0]] = true
		assert.Contains(t, m.Text, "start_stage")
	}
	assert.True(t, receivers["A"] && receivers["B"])
}

func TestFinishStageAdvancesToNextStage(t *testing.T) {
	s := newTestSynchronizer()
	task := taskstate.New("T1", "name", "intention", "A", []string{"A"})
	s1 := stage.New("S1", "T1", "goal1", map[string]string{"A": "x"}, nil)
	s2 := stage.New("S2", "T1", "goal2", map[string]string{"A": "y"}, nil)
	task.AppendStage(s1)
	task.AppendStage(s2)
	s1.SetExecutionState(stage.ExecRunning)
	s.AddTask(task)

	err := s.Apply(&executor.SideEffect{
		TaskInstruction: &executor.TaskInstruction{
			Action:  executor.TaskInstructionFinishStg,
			TaskID:  "T1",
			StageID: "S1",
			AgentID: "A",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, stage.ExecFinished, s1.ExecutionState())
	assert.Equal(t, stage.ExecRunning, s2.ExecutionState())

	msgs := task.Drain()
	var sawFinish, sawStart bool
	for _, m := range msgs {
		if strings.Contains(m.Text, "finish_stage") {
			sawFinish = true
		}
		if strings.Contains(m.Text, "start_stage") {
			sawStart = true
		}
	}
	assert.True(t, sawFinish)
	assert.True(t, sawStart)
}

func TestFinishStageOnLastStageFinishesTask(t *testing.T) {
	s := newTestSynchronizer()
	task := taskstate.New("T1", "name", "intention", "A", []string{"A"})
	s1 := stage.New("S1", "T1", "goal1", map[string]string{"A": "x"}, nil)
	task.AppendStage(s1)
	s1.SetExecutionState(stage.ExecRunning)
	s.AddTask(task)

	err := s.Apply(&executor.SideEffect{
		TaskInstruction: &executor.TaskInstruction{
			Action:  executor.TaskInstructionFinishStg,
			TaskID:  "T1",
			StageID: "S1",
			AgentID: "A",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, taskstate.ExecFinished, task.ExecutionState())
}

func TestStageCompletionFiresOnceWhenAllAgentsReport(t *testing.T) {
	s := newTestSynchronizer()
	task := taskstate.New("T1", "name", "intention", "A", []string{"A", "B"})

	var fired int
	stg := stage.New("S1", "T1", "goal", map[string]string{"A": "x", "B": "y"}, func(taskID, stageID string, summary map[string]string) {
		fired++
	})
	task.AppendStage(stg)
	s.AddTask(task)

	require.NoError(t, s.Apply(&executor.SideEffect{
		UpdateStageAgentCompletion: &executor.StageCompletion{TaskID: "T1", StageID: "S1", AgentID: "A", CompletionSummary: "done A"},
	}))
	assert.Equal(t, 0, fired)

	require.NoError(t, s.Apply(&executor.SideEffect{
		UpdateStageAgentCompletion: &executor.StageCompletion{TaskID: "T1", StageID: "S1", AgentID: "B", CompletionSummary: "done B"},
	}))
	assert.Equal(t, 1, fired)
}
