// Package dispatcher implements the message-dispatch fabric (spec §4.7):
// a cooperatively scheduled loop that drains each registered task's
// communication queue and delivers messages to addressed agents' intake
// methods, recording successful deliveries on the task's shared
// conversation pool.
//
// Grounded on the teacher's team/team.go broadcast loop: a single
// goroutine ticking over a registry of members, logging misses rather
// than failing the whole run.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentruntime/masrt/internal/errs"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/taskstate"
)

// TaskDirectory exposes the set of tasks the dispatcher iterates.
type TaskDirectory interface {
	Tasks() []*taskstate.Task
}

// Intake is the subset of agent behavior the dispatcher depends on: one
// receive_message call (spec §4.3).
type Intake interface {
	ReceiveMessage(m message.Message) error
}

// AgentDirectory resolves a receiver agent_id to its intake.
type AgentDirectory interface {
	Agent(agentID string) (Intake, bool)
}

// Dispatcher is the message mover between task queues and agent intakes.
type Dispatcher struct {
	log    *slog.Logger
	tasks  TaskDirectory
	agents AgentDirectory
	// Interval is the pause between drain iterations when a cycle found
	// nothing to deliver.
	Interval time.Duration
	now      func() time.Time
}

// New creates a Dispatcher.
func New(log *slog.Logger, tasks TaskDirectory, agents AgentDirectory) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:      log,
		tasks:    tasks,
		agents:   agents,
		Interval: 20 * time.Millisecond,
		now:      time.Now,
	}
}

// Run drives the dispatch loop until ctx is canceled (spec §4.7: "a
// cooperatively scheduled loop").
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !d.Cycle() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.Interval):
			}
		}
	}
}

// Cycle runs one drain-and-deliver pass over every registered task and
// reports whether any message was delivered.
func (d *Dispatcher) Cycle() bool {
	delivered := false
	for _, t := range d.tasks.Tasks() {
		for _, m := range t.Drain() {
			if d.deliver(t, m) {
				delivered = true
			}
		}
	}
	return delivered
}

// deliver sends one message to every registered receiver and records the
// delivery on the task's shared conversation pool if at least one
// receiver accepted it (spec §4.7 steps 2-3).
func (d *Dispatcher) deliver(t *taskstate.Task, m message.Message) bool {
	accepted := false
	for _, receiverID := range m.Receiver {
		agent, ok := d.agents.Agent(receiverID)
		if !ok {
			d.log.Warn("dispatcher: receiver not registered",
				"task_id", m.TaskID, "agent_id", receiverID,
				"error", newError("deliver", errs.KindProtocol, fmt.Sprintf("receiver %q not registered", receiverID), nil))
			continue
		}
		if err := agent.ReceiveMessage(m); err != nil {
			d.log.Error("dispatcher: intake failed",
				"task_id", m.TaskID, "agent_id", receiverID,
				"error", newError("deliver", errs.KindTransport, fmt.Sprintf("intake failed for %q", receiverID), err))
			continue
		}
		accepted = true
	}
	if accepted {
		t.RecordDelivery(m, d.now())
	}
	return accepted
}
