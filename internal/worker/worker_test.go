package worker

import (
	"context"
	"testing"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/registry"
	"github.com/agentruntime/masrt/internal/stage"
	"github.com/agentruntime/masrt/internal/step"
	"github.com/agentruntime/masrt/internal/taskstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSync struct {
	applied     []*executor.SideEffect
	startStages []string
	tasks       map[string]*taskstate.Task
	stages      map[string]*stage.Stage
}

func newFakeSync() *fakeSync {
	return &fakeSync{tasks: map[string]*taskstate.Task{}, stages: map[string]*stage.Stage{}}
}

func (f *fakeSync) StartStage(taskID, stageID, senderID string) error {
	f.startStages = append(f.startStages, stageID)
	return nil
}

func (f *fakeSync) GetTask(taskID string) (*taskstate.Task, bool) {
	t, ok := f.tasks[taskID]
	return t, ok
}

func (f *fakeSync) GetStage(taskID, stageID string) (*stage.Stage, bool) {
	s, ok := f.stages[taskID+"/"+stageID]
	return s, ok
}

func (f *fakeSync) Apply(sfx *executor.SideEffect) error {
	f.applied = append(f.applied, sfx)
	return nil
}

func newTestAgent(id string) *agentstate.State {
	return agentstate.New(id, "Agent "+id, "role", "profile", agentstate.VariantAutonomous,
		[]string{"weather"}, []string{"planning", "send_message", "process_message", "tool_decision"})
}

func TestRunStepInvokesExecutorAndAppliesSideEffect(t *testing.T) {
	st := newTestAgent("A")
	reg := registry.New()
	require.NoError(t, reg.RegisterSkill("planning", executor.ExecutorFunc(
		func(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
			s, _ := agent.AgentStep.Get(stepID)
			_ = s.SetStatus(step.StatusFinished)
			return &executor.SideEffect{SendSharedMessage: &executor.SharedMessage{TaskID: "T1", Content: "done"}}, nil
		})))

	sync := newFakeSync()
	w := New(st, reg, sync, nil)

	s := st.AddStep("T1", "S1", "plan stage", step.KindSkill, "planning", "", nil)
	assert.Equal(t, step.StatusInit, s.Status)

	sid, ok := st.AgentStep.PopReady()
	require.True(t, ok)
	w.runStep(context.Background(), sid)

	got, _ := st.AgentStep.Get(sid)
	assert.Equal(t, step.StatusFinished, got.Status)
	require.Len(t, sync.applied, 1)
	assert.Equal(t, "done", sync.applied[0].SendSharedMessage.Content)
}

func TestRunStepForcesFailedIfExecutorLeavesStepRunning(t *testing.T) {
	st := newTestAgent("A")
	reg := registry.New()
	require.NoError(t, reg.RegisterSkill("planning", executor.ExecutorFunc(
		func(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
			return nil, nil // forgets to transition the step
		})))
	w := New(st, reg, newFakeSync(), nil)

	s := st.AddStep("T1", "S1", "plan stage", step.KindSkill, "planning", "", nil)
	sid := s.ID
	_, _ = st.AgentStep.PopReady()
	w.runStep(context.Background(), sid)

	got, _ := st.AgentStep.Get(sid)
	assert.Equal(t, step.StatusFailed, got.Status)
}

func TestRunStepFailsOnUnregisteredExecutor(t *testing.T) {
	st := newTestAgent("A")
	reg := registry.New()
	w := New(st, reg, newFakeSync(), nil)

	s := st.AddStep("T1", "S1", "plan stage", step.KindSkill, "planning", "", nil)
	sid := s.ID
	_, _ = st.AgentStep.PopReady()
	w.runStep(context.Background(), sid)

	got, _ := st.AgentStep.Get(sid)
	assert.Equal(t, step.StatusFailed, got.Status)
}

func TestReceiveMessageNeedReplyInsertsSendMessageStepWithReturnWaitingID(t *testing.T) {
	st := newTestAgent("B")
	w := New(st, registry.New(), newFakeSync(), nil)

	m := message.Message{
		TaskID:    "T1",
		Receiver:  []string{"B"},
		Waiting:   []string{"w1"},
		NeedReply: true,
		Text:      "please reply",
	}
	require.NoError(t, w.ReceiveMessage(m))

	sid, ok := st.AgentStep.PopReady()
	require.True(t, ok)
	s, _ := st.AgentStep.Get(sid)
	assert.Equal(t, "send_message", s.ExecutorName)
	rw, found := message.ExtractReturnWaitingID(s.TextContent)
	require.True(t, found)
	assert.Equal(t, "w1", rw)
}

func TestReceiveMessageResolvesReturnWaitingID(t *testing.T) {
	st := newTestAgent("A")
	st.AddWaiting("w1")
	require.True(t, st.IsLocked())

	w := New(st, registry.New(), newFakeSync(), nil)
	m := message.Message{TaskID: "T1", Receiver: []string{"A"}, ReturnWaitingID: "w1"}
	require.NoError(t, w.ReceiveMessage(m))

	assert.False(t, st.IsLocked())
}

func TestProcessMessageStartStageSeedsPlanningStep(t *testing.T) {
	st := newTestAgent("A")
	sync := newFakeSync()
	sync.stages["T1/S2"] = stage.New("S2", "T1", "review the draft", map[string]string{"A": "check citations"}, nil)
	w := New(st, registry.New(), sync, nil)

	instr := &message.Instruction{Key: message.ActionStartStage, StartStage: &message.StartStage{StageID: "S2"}}
	text, err := message.EmbedInstruction("", instr)
	require.NoError(t, err)

	require.NoError(t, w.ReceiveMessage(message.Message{TaskID: "T1", Receiver: []string{"A"}, Text: text}))

	sid, ok := st.AgentStep.PopReady()
	require.True(t, ok)
	s, _ := st.AgentStep.Get(sid)
	assert.Equal(t, "planning", s.ExecutorName)
	assert.Equal(t, step.KindSkill, s.Kind)
	assert.Contains(t, s.TextContent, "check citations")
	assert.Empty(t, sync.startStages)
}

func TestProcessMessageStartStageIsIdempotent(t *testing.T) {
	st := newTestAgent("A")
	sync := newFakeSync()
	sync.stages["T1/S2"] = stage.New("S2", "T1", "review the draft", map[string]string{"A": "check citations"}, nil)
	w := New(st, registry.New(), sync, nil)

	instr := &message.Instruction{Key: message.ActionStartStage, StartStage: &message.StartStage{StageID: "S2"}}
	text, err := message.EmbedInstruction("", instr)
	require.NoError(t, err)

	require.NoError(t, w.ReceiveMessage(message.Message{TaskID: "T1", Receiver: []string{"A"}, Text: text}))
	_, ok := st.AgentStep.PopReady()
	require.True(t, ok)

	require.NoError(t, w.ReceiveMessage(message.Message{TaskID: "T1", Receiver: []string{"A"}, Text: text}))
	_, ok = st.AgentStep.PopReady()
	assert.False(t, ok, "a second start_stage delivery must not seed a duplicate planning step")
}

func TestProcessMessageFinishStagePurgesStepsAndMemory(t *testing.T) {
	st := newTestAgent("A")
	st.AddStep("T1", "S1", "do thing", step.KindSkill, "planning", "", nil)
	st.UpdateWorkingMemory("T1", "S1")
	assert.NotEmpty(t, st.StepsFor("T1", "S1"))

	w := New(st, registry.New(), newFakeSync(), nil)
	instr := &message.Instruction{Key: message.ActionFinishStage, FinishStage: &message.FinishStage{StageID: "S1"}}
	text, err := message.EmbedInstruction("", instr)
	require.NoError(t, err)

	require.NoError(t, w.ReceiveMessage(message.Message{TaskID: "T1", Receiver: []string{"A"}, Text: text}))

	_, ok := st.AgentStep.PopReady()
	assert.False(t, ok)
	assert.Empty(t, st.StepsFor("T1", "S1"))
}
