package skill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/idgen"
	"github.com/agentruntime/masrt/internal/step"
)

// AskInfo emits an ask_info descriptor with a freshly generated
// waiting_id, stored in the agent's step lock. The synchronizer replies
// with a message carrying the same token; agent intake then unlocks
// (spec §4.8, §3 "Waiting ID semantics").
type AskInfo struct{}

// NewAskInfo constructs the ask-info skill.
func NewAskInfo() *AskInfo { return &AskInfo{} }

type askInfoPayload struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Execute implements executor.Executor.
func (a *AskInfo) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("ask_info: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Ask Info", st, "Decide what information you need from the synchronizer. Reply with a JSON object between <ask_info> and </ask_info> shaped {\"type\":\"...\",\"params\":{...}}.")

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("ask_info: llm call: %w", err)
	}

	payload, ok := extractTagged("ask_info", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("ask_info: no <ask_info> block in LLM response")
	}

	var req askInfoPayload
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("ask_info: malformed <ask_info> payload: %w", err)
	}

	waitingID := idgen.New()
	agent.AddWaiting(waitingID)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}

	return &executor.SideEffect{AskInfo: &executor.AskInfo{
		Type:         req.Type,
		WaitingID:    waitingID,
		SenderID:     agent.AgentID,
		SenderTaskID: st.TaskID,
		Params:       req.Params,
	}}, nil
}

var _ executor.Executor = (*AskInfo)(nil)
