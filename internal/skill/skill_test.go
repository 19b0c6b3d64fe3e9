package skill

import (
	"context"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/llm"
)

// fakeLLM returns a fixed response regardless of prompt, for exercising
// a skill's parsing logic without a real model. If responses is set, each
// call pops the next entry (exhausting it falls back to response), for
// exercising retry behavior where successive calls differ.
type fakeLLM struct {
	response  string
	responses []string
	err       error
	prompts   []string
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, ctxWindow *llm.Context) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if len(f.responses) > 0 {
		next := f.responses[0]
		f.responses = f.responses[1:]
		return next, f.err
	}
	return f.response, f.err
}

func newTestAgent(llmClient llm.Client, tools, skills []string) *agentstate.State {
	agent := agentstate.New("A1", "agent-one", "worker", "a helpful agent", agentstate.VariantAutonomous, tools, skills)
	agent.Autonomous.LLM = llmClient
	return agent
}
