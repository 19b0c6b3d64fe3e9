package skill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// Reflection inspects the agent's history for the current stage and
// either appends corrective steps or appends a single summary step (spec
// §4.8).
type Reflection struct{}

// NewReflection constructs the reflection skill.
func NewReflection() *Reflection { return &Reflection{} }

// summaryStep is the single-step-shorthand a reflection/decision response
// uses when no correction is needed, just a closing summary.
type summaryStep struct {
	StepIntention string `json:"step_intention"`
	TextContent   string `json:"text_content"`
}

// Execute implements executor.Executor.
func (r *Reflection) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("reflection: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Reflection", st, "Review the history below. If something needs correcting, reply with a JSON array between <planned_step> and </planned_step> (same shape as planning). Otherwise reply with a single closing note between <summary_step> and </summary_step>, shaped {\"step_intention\":\"\",\"text_content\":\"\"}.") +
		historySection(agent, st.TaskID, st.StageID) +
		persistentMemorySection(agent)

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("reflection: llm call: %w", err)
	}

	if err := r.applyResponse(agent, st, response, agent.AddStep); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, err
	}

	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

type stepInserter func(taskID, stageID, intention string, kind step.Kind, executorName, text string, instruction map[string]any) *step.Step

// applyResponse is shared between reflection (add_step) and decision
// (add_next_step): parse either a corrective <planned_step> batch or a
// closing <summary_step>, inserting via whichever function the caller
// supplies.
func (r *Reflection) applyResponse(agent *agentstate.State, st *step.Step, response string, insert stepInserter) error {
	return applyPlannedOrSummary(agent, st, response, insert)
}

func applyPlannedOrSummary(agent *agentstate.State, st *step.Step, response string, insert stepInserter) error {
	if payload, ok := extractTagged("planned_step", response); ok {
		var planned []plannedStep
		if err := json.Unmarshal([]byte(payload), &planned); err != nil {
			return fmt.Errorf("skill: malformed <planned_step> payload: %w", err)
		}
		for _, p := range planned {
			kind := p.kind()
			if !agent.IsWhitelisted(kind, p.Executor) {
				continue
			}
			insert(st.TaskID, st.StageID, p.StepIntention, kind, p.Executor, p.TextContent, p.Instruction)
		}
		return nil
	}

	if payload, ok := extractTagged("summary_step", response); ok {
		var s summaryStep
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return fmt.Errorf("skill: malformed <summary_step> payload: %w", err)
		}
		insert(st.TaskID, st.StageID, s.StepIntention, step.KindSkill, "summary", s.TextContent, nil)
		return nil
	}

	return fmt.Errorf("skill: response has neither <planned_step> nor <summary_step>")
}

var _ executor.Executor = (*Reflection)(nil)
