// Package worker implements the per-agent execution loop (spec §4.2) and
// the message intake path (spec §4.3, §4.4): the two entry points that
// compete for an agent's state mutex.
//
// Grounded on the teacher's agent/agent.go run loop shape (poll, dispatch,
// sleep) generalized to the step/ready-queue model and the
// synchronizer-mediated side effects this spec requires.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/registry"
	"github.com/agentruntime/masrt/internal/stage"
	"github.com/agentruntime/masrt/internal/step"
	"github.com/agentruntime/masrt/internal/taskstate"
)

// Synchronizer is the subset of *synchronizer.Synchronizer the worker
// depends on, kept narrow so it can be faked in tests.
type Synchronizer interface {
	StartStage(taskID, stageID, senderID string) error
	GetTask(taskID string) (*taskstate.Task, bool)
	GetStage(taskID, stageID string) (*stage.Stage, bool)
	Apply(sfx *executor.SideEffect) error
}

// Worker drives one agent's step log.
type Worker struct {
	AgentID string

	state *agentstate.State
	reg   *registry.Registry
	sync  Synchronizer
	log   *slog.Logger

	// Interval is the park duration used whenever the loop has nothing to
	// do (step lock held, or ready queue empty).
	Interval time.Duration
}

// New creates a Worker bound to one agent's live state.
func New(state *agentstate.State, reg *registry.Registry, sync Synchronizer, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		AgentID:  state.AgentID,
		state:    state,
		reg:      reg,
		sync:     sync,
		log:      log,
		Interval: 10 * time.Millisecond,
	}
}

// Run drives the worker loop until ctx is canceled (spec §4.2).
// Cancellation lets the current step finish (or fail it) before exiting
// promptly, per spec §4.2's shutdown contract.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.state.IsLocked() {
			w.state.SetWorkingState(agentstate.WorkingWaiting)
			w.park(ctx)
			continue
		}

		if !w.Step(ctx) {
			w.park(ctx)
		}
	}
}

// Step pops and runs at most one ready step, reporting whether one was
// processed. Run calls this in a loop; it is exported separately so a
// caller that wants single-step control (tests, an external scheduler)
// doesn't have to drive a whole goroutine to observe one step's effect.
func (w *Worker) Step(ctx context.Context) bool {
	if w.state.IsLocked() {
		return false
	}
	stepID, ok := w.state.AgentStep.PopReady()
	if !ok {
		return false
	}
	w.runStep(ctx, stepID)
	return true
}

func (w *Worker) park(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.Interval):
	}
}

// runStep executes one popped step (spec §4.2 steps 3.i-3.v).
func (w *Worker) runStep(ctx context.Context, stepID string) {
	st, ok := w.state.AgentStep.Get(stepID)
	if !ok {
		w.log.Warn("worker: popped step vanished from log", "agent_id", w.AgentID, "step_id", stepID)
		return
	}

	if err := st.SetStatus(step.StatusRunning); err != nil {
		w.log.Error("worker: illegal transition to running", "agent_id", w.AgentID, "step_id", stepID, "error", err)
		return
	}
	w.state.SetWorkingState(agentstate.WorkingActive)
	defer w.state.SetWorkingState(agentstate.WorkingIdle)

	ex, err := w.reg.Resolve(st.Kind, st.ExecutorName)
	if err != nil {
		// ConfigError: unknown (kind, executor_name) is a configuration
		// fault; fail the step rather than crash the worker (spec §7
		// propagation policy).
		w.log.Error("worker: executor not registered", "agent_id", w.AgentID, "step_id", stepID, "kind", st.Kind, "executor_name", st.ExecutorName, "error", err)
		_ = st.SetStatus(step.StatusFailed)
		return
	}

	w.state.ExecMu.Lock()
	sfx, execErr := ex.Execute(ctx, stepID, w.state)
	w.state.ExecMu.Unlock()

	if execErr != nil {
		w.log.Error("worker: executor returned error", "agent_id", w.AgentID, "step_id", stepID, "error", execErr)
	}

	// The executor owns the running->finished|failed transition; this is
	// the loop's backstop so a step is never left running (spec §4.2).
	if st.Status == step.StatusRunning {
		_ = st.SetStatus(step.StatusFailed)
	}

	if sfx != nil {
		if err := w.sync.Apply(sfx); err != nil {
			w.log.Error("worker: synchronizer apply failed", "agent_id", w.AgentID, "step_id", stepID, "error", err)
		}
	}
}

// ReceiveMessage is the intake method called from the dispatcher thread
// (spec §4.3). It competes with the worker loop for ExecMu.
func (w *Worker) ReceiveMessage(m message.Message) error {
	w.state.ExecMu.Lock()
	defer w.state.ExecMu.Unlock()

	stageID := stageIDOf(m.StageRelative)

	if m.NeedReply {
		returnWaitingID := m.WaitingIDFor(w.AgentID)
		text := ""
		if returnWaitingID != "" {
			text = message.EmbedReturnWaitingID(text, returnWaitingID)
		}
		w.state.AddNextStep(m.TaskID, stageID, "send_message", step.KindSkill, "send_message", text, nil)
	} else {
		w.processMessage(m, stageID)
	}

	if rw := m.ReturnWaitingIDFor(w.AgentID); rw != "" {
		w.state.ResolveWaiting(rw)
	}
	return nil
}

func stageIDOf(stageRelative string) string {
	if stageRelative == "" || stageRelative == message.NoRelative {
		return step.NoStage
	}
	return stageRelative
}

// processMessage implements spec §4.4: parse the last <instruction> block,
// apply its action, and append/insert-next a process_message step for any
// remaining free text.
func (w *Worker) processMessage(m message.Message, stageID string) {
	instr, text, err := message.ParseInstruction(m.Text)
	if err != nil {
		// ProtocolError: malformed instruction, message dropped and logged
		// (spec §7), never propagated as a step failure.
		w.log.Warn("worker: dropping malformed instruction", "agent_id", w.AgentID, "task_id", m.TaskID, "error", err)
		return
	}

	if instr != nil {
		w.applyInstruction(m, instr)
	}

	if text == "" {
		return
	}

	closingWaitingID := m.ReturnWaitingIDFor(w.AgentID) != ""
	if closingWaitingID {
		w.state.AddNextStep(m.TaskID, stageID, "process_message", step.KindSkill, "process_message", text, nil)
	} else {
		w.state.AddStep(m.TaskID, stageID, "process_message", step.KindSkill, "process_message", text, nil)
	}
}

// startStage seeds the one planning step every stage must open with
// (spec §4.8: "The first step of any stage MUST be a planning step,
// seeded by start_stage"), grounded on the teacher-original's
// AgentBase.start_stage. It is idempotent: re-delivery of the same
// start_stage instruction (e.g. the synchronizer's broadcast reaching an
// agent more than once) is a no-op once the stage already has a step.
func (w *Worker) startStage(taskID, stageID string) {
	if len(w.state.StepsFor(taskID, stageID)) > 0 {
		return
	}

	st, ok := w.sync.GetStage(taskID, stageID)
	if !ok {
		w.log.Warn("worker: start_stage for unknown stage", "agent_id", w.AgentID, "task_id", taskID, "stage_id", stageID)
		return
	}

	goal := st.Allocation()[w.AgentID]
	w.state.AddStep(taskID, stageID, "plan stage", step.KindSkill, "planning", stagePrompt(taskID, stageID, st.Intention, goal, st.Allocation()), nil)
}

func stagePrompt(taskID, stageID, stageIntention, agentGoal string, allocation map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have been assigned to help complete this stage.\n\n")
	fmt.Fprintf(&b, "- task_id: %s\n", taskID)
	fmt.Fprintf(&b, "- stage_id: %s\n", stageID)
	fmt.Fprintf(&b, "- stage_intention: %s\n", stageIntention)
	fmt.Fprintf(&b, "- agent_allocation: %v\n", allocation)
	fmt.Fprintf(&b, "\nYour specific goal for this stage: %s\n", agentGoal)
	return b.String()
}

func (w *Worker) applyInstruction(m message.Message, instr *message.Instruction) {
	switch instr.Key {
	case message.ActionStartStage:
		w.startStage(m.TaskID, instr.StartStage.StageID)
	case message.ActionFinishStage:
		stageID := instr.FinishStage.StageID
		w.state.AgentStep.RemoveByStage(m.TaskID, stageID)
		w.state.PurgeStage(m.TaskID, stageID)
	case message.ActionFinishTask:
		taskID := instr.FinishTask.TaskID
		w.state.AgentStep.RemoveByTask(taskID)
		w.state.PurgeTask(taskID)
		if t, ok := w.sync.GetTask(taskID); ok {
			t.PurgeTaskScoped()
		}
	case message.ActionUpdateWorkingMemory:
		w.state.UpdateWorkingMemory(instr.UpdateWorkingMemory.TaskID, instr.UpdateWorkingMemory.StageID)
	case message.ActionAddToolDecision:
		ad := instr.AddToolDecision
		text := message.EmbedToolName(ad.ToolName)
		w.state.AddNextStep(ad.TaskID, ad.StageID, "tool_decision", step.KindSkill, "tool_decision", text, nil)
	default:
		w.log.Debug("worker: unknown instruction action ignored", "agent_id", w.AgentID, "key", instr.Key)
	}
}
