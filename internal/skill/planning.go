package skill

import (
	"context"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
)

// Planning reads an agent's stage-start step and emits 0..N new steps via
// add_step, restricted to whitelisted executors (spec §4.8). It is always
// the first step of a stage, seeded by start_stage.
type Planning struct{}

// NewPlanning constructs the planning skill.
func NewPlanning() *Planning { return &Planning{} }

const planningInstructionBase = "Propose the steps you will execute for this stage. Reply with a JSON array between <planned_step> and </planned_step>, each entry shaped {\"step_intention\":\"\",\"type\":\"skill|tool\",\"executor\":\"\",\"text_content\":\"\"}."

// planningInstruction builds the step instruction text, appending a
// corrective note naming the previous attempt's whitelist violations when
// retrying (spec §4.5: "it requests a corrected plan from the LLM").
func planningInstruction(agent *agentstate.State, violations []string) string {
	if len(violations) == 0 {
		return planningInstructionBase
	}
	return fmt.Sprintf("%s\n\nYour previous plan used executor(s) %v, which are not in your whitelist (tools: %s; skills: %s). Propose a corrected plan using only whitelisted executors.",
		planningInstructionBase, violations, joinKeys(agent.Tools), joinKeys(agent.Skills))
}

// Execute implements executor.Executor.
func (p *Planning) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("planning: step %s not found", stepID)
	}

	var (
		response   string
		planned    []plannedStep
		violations []string
	)

	// Retry once on a whitelist violation before failing the planning step
	// (spec §4.5, §7 PermissionError "step-level failed after one retry",
	// §8 scenario 5: "re-prompts once; if the violation persists the
	// planning step ends failed and no new steps are enqueued").
	for attempt := 0; attempt < 2; attempt++ {
		prompt := promptHeader(agent) +
			stepSection("Planning", st, planningInstruction(agent, violations)) +
			persistentMemorySection(agent)

		var err error
		response, err = call(ctx, agent, prompt)
		if err != nil {
			_ = st.SetStatus(step.StatusFailed)
			return nil, fmt.Errorf("planning: llm call: %w", err)
		}

		planned, err = parsePlannedSteps(response)
		if err != nil {
			_ = st.SetStatus(step.StatusFailed)
			return nil, err
		}

		violations = whitelistViolations(agent, planned)
		if len(violations) == 0 {
			break
		}
	}

	if len(violations) > 0 {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("planning: step %s proposed non-whitelisted executors %v after retry", stepID, violations)
	}

	insertPlannedSteps(planned, func(intention string, kind step.Kind, executorName, text string, instruction map[string]any) {
		agent.AddStep(st.TaskID, st.StageID, intention, kind, executorName, text, instruction)
	})

	applyPersistentMemory(agent, response)

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return nil, nil
}

var _ executor.Executor = (*Planning)(nil)
