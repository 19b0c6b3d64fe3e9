// Package executor defines the Executor interface and the side-effect
// descriptor it returns (spec §4.1). Executors are the pluggable skill and
// tool implementations the worker loop dispatches steps to.
package executor

import (
	"context"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/message"
)

// Executor is the single operation every skill and tool implementation
// exposes (spec §4.1).
type Executor interface {
	Execute(ctx context.Context, stepID string, agent *agentstate.State) (*SideEffect, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, stepID string, agent *agentstate.State) (*SideEffect, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*SideEffect, error) {
	return f(ctx, stepID, agent)
}

// PerAgentStateUpdate is one variant of SideEffect: direct the
// synchronizer to set a stage's per-agent state (spec §4.1
// update_stage_agent_state).
type PerAgentStateUpdate struct {
	TaskID  string
	StageID string
	AgentID string
	State   string // stage.AgentState, kept as string to avoid an import cycle
}

// SharedMessage appends to a task's shared_message_pool (spec §4.1
// send_shared_message).
type SharedMessage struct {
	TaskID  string
	StageID string
	AgentID string
	Role    string
	Content string
}

// TaskInstructionAction names a task-manager sub-action (spec §4.6).
type TaskInstructionAction string

const (
	TaskInstructionAddTask   TaskInstructionAction = "add_task"
	TaskInstructionAddStage  TaskInstructionAction = "add_stage"
	TaskInstructionFinishStg TaskInstructionAction = "finish_stage"
	TaskInstructionFinish    TaskInstructionAction = "finish_task"
)

// StageSpec describes one stage to create via add_stage (spec §4.6).
type StageSpec struct {
	StageID         string
	Intention       string
	AgentAllocation map[string]string
}

// TaskInstruction is the task-manager side-effect variant (spec §4.1,
// §4.6).
type TaskInstruction struct {
	Action TaskInstructionAction

	// add_task
	AgentID        string
	TaskIntention  string

	// add_stage / finish_stage / finish_task share TaskID
	TaskID string
	Stages []StageSpec // add_stage
	StageID string     // finish_stage
}

// AgentInstruction is the agent-manager side-effect variant (spec §4.1).
// Its concrete sub-actions are left to the agent-manager skill contract;
// the core only needs to route the descriptor to the synchronizer.
type AgentInstruction struct {
	Action string
	Params map[string]any
}

// AskInfo is the ask-info side-effect variant (spec §4.1, §4.8). The
// synchronizer replies to SenderID with a message whose ReturnWaitingID
// is WaitingID. It does not evaluate Type or Params: the reply carries no
// answer text.
type AskInfo struct {
	Type         string
	WaitingID    string
	SenderID     string
	SenderTaskID string
	Params       map[string]any
}

// StageCompletion is the update_stage_agent_completion side-effect
// variant (spec §4.1).
type StageCompletion struct {
	TaskID            string
	StageID           string
	AgentID           string
	CompletionSummary string
}

// SideEffect is the tagged union an executor returns (spec §4.1). All
// fields are optional and combinable in one descriptor; nil means "not
// present."
type SideEffect struct {
	UpdateStageAgentState    *PerAgentStateUpdate
	SendSharedMessage        *SharedMessage
	SendMessage              *message.Message
	TaskInstruction          *TaskInstruction
	AgentInstruction         *AgentInstruction
	AskInfo                  *AskInfo
	UpdateStageAgentCompletion *StageCompletion
}
