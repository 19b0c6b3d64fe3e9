package skill

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/step"
)

// ToolDecision inspects the most recent tool result for a given tool
// name and either stops (no new steps) or appends-next a pair
// (instruction-generation, tool) to continue the tool's long-tail loop
// (spec §4.8). It is how every long-running tool terminates.
type ToolDecision struct{}

// NewToolDecision constructs the tool-decision skill.
func NewToolDecision() *ToolDecision { return &ToolDecision{} }

// Execute implements executor.Executor.
func (d *ToolDecision) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("tool_decision: step %s not found", stepID)
	}

	toolName, ok := message.ExtractToolName(st.TextContent)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("tool_decision: step %s has no <tool_name> tag", stepID)
	}

	result := lastToolResult(agent, st.TaskID, st.StageID, toolName)

	prompt := promptHeader(agent) +
		stepSection("Tool Decision", st, fmt.Sprintf("The tool %q just produced the result shown below. Decide whether to continue calling it or stop. Reply with <decision>continue</decision> or <decision>stop</decision>.\n\nResult: %s", toolName, result))

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("tool_decision: llm call: %w", err)
	}

	decision, ok := extractTagged("decision", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("tool_decision: no <decision> block in LLM response")
	}

	if strings.EqualFold(strings.TrimSpace(decision), "continue") {
		// Insert the tool step first, then instruction-generation: since
		// add_next_step pushes onto the head of the ready queue,
		// instruction-generation ends up running immediately before the
		// tool step it must fill in (spec §4.8: "pair (instruction-generation, tool)").
		agent.AddNextStep(st.TaskID, st.StageID, st.Intention, step.KindTool, toolName, "", nil)
		agent.AddNextStep(st.TaskID, st.StageID, "generate instruction for "+toolName, step.KindSkill, "instruction_generation", "", nil)
	}

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

// lastToolResult returns the execute_result of the most recent finished
// step that invoked the named tool server.
func lastToolResult(agent *agentstate.State, taskID, stageID, toolName string) string {
	ids := agent.StepsFor(taskID, stageID)
	for i := len(ids) - 1; i >= 0; i-- {
		st, ok := agent.AgentStep.Get(ids[i])
		if !ok || st.Kind != step.KindTool || st.ExecutorName != toolName {
			continue
		}
		if len(st.ExecuteResult) == 0 {
			continue
		}
		return summarizeResult(st)
	}
	return "(no prior result)"
}

var _ executor.Executor = (*ToolDecision)(nil)
