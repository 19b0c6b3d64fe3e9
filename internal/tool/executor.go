// Package tool implements the generic tool executor (spec §4.9): the
// single adapter every tool step runs through, regardless of which MCP
// server the step's executor_name names.
//
// Grounded on the teacher's pkg/tool/mcptoolset/mcptoolset.go for the
// catalog/call shape, generalized from a toolset-discovery abstraction to
// the instruction_type-driven protocol spec §4.9 names.
package tool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/errs"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/step"
	"github.com/agentruntime/masrt/internal/tool/mcpclient"
)

const (
	instructionGetDescription = "get_description"
	instructionFunctionCall   = "function_call"
)

// ServerDirectory resolves a step's executor_name to the MCP client for
// that tool server.
type ServerDirectory interface {
	Server(name string) (mcpclient.Client, bool)
}

// Executor is the spec §4.9 generic tool adapter.
type Executor struct {
	servers ServerDirectory
	log     *slog.Logger
}

// New creates the generic tool executor, registered once under
// registry.GenericToolHandler.
func New(servers ServerDirectory, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{servers: servers, log: log}
}

// Execute interprets the step's instruction_content (spec §4.9).
func (e *Executor) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, newError("execute", errs.KindStageLogic, fmt.Sprintf("step %s not found", stepID), nil)
	}

	server, ok := e.servers.Server(st.ExecutorName)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, newError("execute", errs.KindConfig, fmt.Sprintf("no MCP server registered for %s", st.ExecutorName), nil)
	}

	instructionType, _ := st.InstructionContent["instruction_type"].(string)
	switch instructionType {
	case instructionGetDescription:
		return e.executeGetDescription(ctx, st, agent, server)
	case instructionFunctionCall:
		return e.executeFunctionCall(ctx, st, agent, server)
	default:
		err := newError("execute", errs.KindProtocol, fmt.Sprintf("unknown instruction_type %q", instructionType), nil)
		e.log.Error("tool: unknown instruction_type", "step_id", stepID, "instruction_type", instructionType, "error", err)
		_ = st.SetStatus(step.StatusFailed)
		return nil, err
	}
}

func (e *Executor) executeGetDescription(ctx context.Context, st *step.Step, agent *agentstate.State, server mcpclient.Client) (*executor.SideEffect, error) {
	catalog, err := server.ListCapabilities(ctx)
	if err != nil {
		wrapped := newError("get_description", errs.KindTransport, fmt.Sprintf("list capabilities for %s", st.ExecutorName), err)
		e.log.Error("tool: get_description failed", "step_id", st.ID, "executor_name", st.ExecutorName, "error", wrapped)
		_ = st.SetStatus(step.StatusFailed)
		return nil, wrapped
	}

	st.ExecuteResult = map[string]any{"catalog": catalog}
	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}

	agent.AddNextStep(st.TaskID, st.StageID, "tool_decision", step.KindSkill, "tool_decision", message.EmbedToolName(st.ExecutorName), nil)
	return nil, nil
}

func (e *Executor) executeFunctionCall(ctx context.Context, st *step.Step, agent *agentstate.State, server mcpclient.Client) (*executor.SideEffect, error) {
	capability, arguments := functionCallTarget(st.InstructionContent)
	if capability == "" {
		_ = st.SetStatus(step.StatusFailed)
		return nil, newError("function_call", errs.KindProtocol, "function_call missing tool_name/resource_name/prompt_name", nil)
	}

	result, err := server.Call(ctx, capability, arguments)
	if err != nil {
		wrapped := newError("function_call", errs.KindTransport, fmt.Sprintf("call %s on %s", capability, st.ExecutorName), err)
		e.log.Error("tool: function_call failed", "step_id", st.ID, "executor_name", st.ExecutorName, "capability", capability, "error", wrapped)
		_ = st.SetStatus(step.StatusFailed)
		return nil, wrapped
	}

	st.ExecuteResult = map[string]any{"mcp_server_result": result}
	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}

	agent.AddNextStep(st.TaskID, st.StageID, "tool_decision", step.KindSkill, "tool_decision", message.EmbedToolName(st.ExecutorName), nil)
	return nil, nil
}

// functionCallTarget extracts the capability name (whichever of
// tool_name/resource_name/prompt_name is present) and its arguments.
func functionCallTarget(instruction map[string]any) (string, map[string]any) {
	for _, key := range []string{"tool_name", "resource_name", "prompt_name"} {
		if name, ok := instruction[key].(string); ok && name != "" {
			arguments, _ := instruction["arguments"].(map[string]any)
			return name, arguments
		}
	}
	return "", nil
}

var _ executor.Executor = (*Executor)(nil)
