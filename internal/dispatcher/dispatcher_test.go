package dispatcher

import (
	"testing"

	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/taskstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntake struct {
	received []message.Message
}

func (f *fakeIntake) ReceiveMessage(m message.Message) error {
	f.received = append(f.received, m)
	return nil
}

type fakeTasks struct {
	tasks []*taskstate.Task
}

func (f fakeTasks) Tasks() []*taskstate.Task { return f.tasks }

type fakeAgents struct {
	byID map[string]*fakeIntake
}

func (f fakeAgents) Agent(id string) (Intake, bool) {
	a, ok := f.byID[id]
	return a, ok
}

func TestCycleDeliversToRegisteredReceiverAndRecordsConversation(t *testing.T) {
	task := taskstate.New("T1", "name", "intention", "A", []string{"A", "B"})
	task.Enqueue(message.Message{TaskID: "T1", SenderID: "A", Receiver: []string{"B"}, Text: "hi"})

	b := &fakeIntake{}
	d := New(nil, fakeTasks{tasks: []*taskstate.Task{task}}, fakeAgents{byID: map[string]*fakeIntake{"B": b}})

	delivered := d.Cycle()
	assert.True(t, delivered)
	require.Len(t, b.received, 1)
	assert.Equal(t, "hi", b.received[0].Text)

	pool := task.ConversationPool()
	require.Len(t, pool, 1)
	assert.Equal(t, "hi", pool[0].Message.Text)
}

func TestCycleSkipsUnregisteredReceiverWithoutRecording(t *testing.T) {
	task := taskstate.New("T1", "name", "intention", "A", []string{"A"})
	task.Enqueue(message.Message{TaskID: "T1", SenderID: "A", Receiver: []string{"ghost"}, Text: "hi"})

	d := New(nil, fakeTasks{tasks: []*taskstate.Task{task}}, fakeAgents{byID: map[string]*fakeIntake{}})

	delivered := d.Cycle()
	assert.False(t, delivered)
	assert.Empty(t, task.ConversationPool())
}

func TestCycleReturnsFalseWhenNothingQueued(t *testing.T) {
	task := taskstate.New("T1", "name", "intention", "A", []string{"A"})
	d := New(nil, fakeTasks{tasks: []*taskstate.Task{task}}, fakeAgents{byID: map[string]*fakeIntake{}})
	assert.False(t, d.Cycle())
}
