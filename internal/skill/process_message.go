package skill

import (
	"context"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// ProcessMessage is a pure model read over an incoming message's free
// text; it may append to persistent_memory but emits no descriptor and
// no new steps (spec §4.8, §4.4).
type ProcessMessage struct{}

// NewProcessMessage constructs the process-message skill.
func NewProcessMessage() *ProcessMessage { return &ProcessMessage{} }

// Execute implements executor.Executor.
func (p *ProcessMessage) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("process_message: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Process Message", st, "Read the message above and think it through. Nothing else is required of you here.") +
		persistentMemorySection(agent)

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("process_message: llm call: %w", err)
	}

	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

var _ executor.Executor = (*ProcessMessage)(nil)
