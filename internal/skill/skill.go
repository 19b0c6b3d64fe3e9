// Package skill implements the behavioral skill contracts spec §4.8
// names: planning, reflection, decision, instruction-generation,
// tool-decision, send-message, process-message, ask-info, task-manager,
// and agent-manager, plus quick_think/think/summary supplemented from
// original_source/mas/skills.
//
// Grounded on the Python original's shared prompt-assembly shape
// (system prompt -> role prompt -> step prompt -> history -> persistent
// memory, described in each mas/skills/*.py module docstring) and on the
// teacher's registry/executor plumbing for wiring an LLM call into a
// step transition.
package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/llm"
	"github.com/agentruntime/masrt/internal/step"
)

const defaultContextTokens = 4000

// llmFor resolves the agent's LLM client handle (spec §6). Operator
// agents have none; any skill invoked against one is a caller error.
func llmFor(agent *agentstate.State) (llm.Client, error) {
	if agent.Autonomous == nil {
		return nil, fmt.Errorf("skill: agent %s has no LLM client (operator variant)", agent.AgentID)
	}
	client, ok := agent.Autonomous.LLM.(llm.Client)
	if !ok || client == nil {
		return nil, fmt.Errorf("skill: agent %s has no LLM client configured", agent.AgentID)
	}
	return client, nil
}

// call runs prompt through the agent's LLM with a fresh bounded context.
// A fresh Context per invocation satisfies spec §6's "the context can be
// cleared between skill invocations" trivially: there is nothing left to
// clear.
func call(ctx context.Context, agent *agentstate.State, prompt string) (string, error) {
	client, err := llmFor(agent)
	if err != nil {
		return "", err
	}
	window, err := llm.NewContext("gpt-4", defaultContextTokens)
	if err != nil {
		return "", fmt.Errorf("skill: build context: %w", err)
	}
	window.Append(llm.Message{Role: "user", Content: prompt})
	return client.Call(ctx, prompt, window)
}

// promptHeader assembles the MAS/agent-role preamble every skill prompt
// opens with (mas/skills/*.py: "1 MAS系统提示词 2 Agent角色提示词:
// 2.1 背景 2.2 工具与技能权限").
func promptHeader(agent *agentstate.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Multi-Agent System\nYou are %s, acting as %s.\n\n", agent.Name, agent.Role)
	fmt.Fprintf(&b, "## Role\n%s\n\n", agent.Profile)
	fmt.Fprintf(&b, "## Tools\n%s\n\n", joinKeys(agent.Tools))
	fmt.Fprintf(&b, "## Skills\n%s\n\n", joinKeys(agent.Skills))
	return b.String()
}

// stepSection renders the step-specific block every skill prompt carries
// (step_intention + text_content), with an optional skill-specific
// instruction appended.
func stepSection(title string, st *step.Step, instruction string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	fmt.Fprintf(&b, "%s\n\n%s\n", st.Intention, st.TextContent)
	if instruction != "" {
		fmt.Fprintf(&b, "\n%s\n", instruction)
	}
	return b.String()
}

// historySection renders the prior steps of a task/stage for skills that
// read execution history (reflection, decision, summary, think).
func historySection(agent *agentstate.State, taskID, stageID string) string {
	var b strings.Builder
	b.WriteString("# History\n")
	ids := agent.StepsFor(taskID, stageID)
	if len(ids) == 0 {
		b.WriteString("(no prior steps)\n")
		return b.String()
	}
	for _, id := range ids {
		st, ok := agent.AgentStep.Get(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- [%s/%s] %s (%s): %s\n", st.Kind, st.ExecutorName, st.Intention, st.Status, summarizeResult(st))
	}
	return b.String()
}

func summarizeResult(st *step.Step) string {
	if len(st.ExecuteResult) == 0 {
		return "(no result)"
	}
	data, err := json.Marshal(st.ExecuteResult)
	if err != nil {
		return "(unserializable result)"
	}
	return string(data)
}

// persistentMemorySection renders the agent's persistent memory (spec §3,
// §6) so every LLM call can read it back.
func persistentMemorySection(agent *agentstate.State) string {
	return fmt.Sprintf("# Persistent Memory\n%s\n\nIf you want to append to persistent memory, put the text between <persistent_memory> and </persistent_memory> (leave it empty otherwise).\n", agent.PersistentMemory)
}

var persistentMemoryPattern = regexp.MustCompile(`(?s)<persistent_memory>\s*(.*?)\s*</persistent_memory>`)

// applyPersistentMemory appends any <persistent_memory> block in the LLM
// response to the agent's persistent memory (mas/skills/*.py's
// extract_persistent_memory + "agent_state['persistent_memory'] += ...").
// Callers hold the agent's ExecMu for the duration of the executor call
// (spec §4.2 step 3), so this direct mutation is race-free.
func applyPersistentMemory(agent *agentstate.State, response string) {
	m := persistentMemoryPattern.FindStringSubmatch(response)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return
	}
	if agent.PersistentMemory == "" {
		agent.PersistentMemory = m[1]
		return
	}
	agent.PersistentMemory += "\n" + m[1]
}

func joinKeys(set map[string]bool) string {
	if len(set) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// extractTagged returns the last match of <tag>...</tag> in text, the
// convention every skill uses to isolate its structured output from
// surrounding <think> chatter (mas/skills/*.py: "matches[-1] 排除是在
// <think></think>思考期间的内容").
func extractTagged(tag, text string) (string, bool) {
	pattern := regexp.MustCompile(`(?s)<` + tag + `>\s*(.*?)\s*</` + tag + `>`)
	matches := pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// plannedStep is one entry of a <planned_step> JSON array (planning,
// reflection, decision).
type plannedStep struct {
	StepIntention string         `json:"step_intention"`
	Type          string         `json:"type"`
	Executor      string         `json:"executor"`
	TextContent   string         `json:"text_content"`
	Instruction   map[string]any `json:"instruction_content,omitempty"`
}

func (p plannedStep) kind() step.Kind {
	if p.Type == "tool" {
		return step.KindTool
	}
	return step.KindSkill
}

// parsePlannedSteps extracts and decodes the <planned_step> JSON array
// the planning/reflection/decision skills share.
func parsePlannedSteps(response string) ([]plannedStep, error) {
	payload, ok := extractTagged("planned_step", response)
	if !ok {
		return nil, fmt.Errorf("skill: no <planned_step> block in LLM response")
	}
	var steps []plannedStep
	if err := json.Unmarshal([]byte(payload), &steps); err != nil {
		return nil, fmt.Errorf("skill: malformed <planned_step> payload: %w", err)
	}
	return steps, nil
}

// whitelistViolations returns the distinct executor names among steps that
// the agent is not whitelisted to run (INV-Whitelist, spec §4.8 planning:
// "MUST restrict to whitelisted executors"). A non-empty result means the
// plan cannot be inserted as-is.
func whitelistViolations(agent *agentstate.State, steps []plannedStep) []string {
	seen := make(map[string]bool)
	var violations []string
	for _, p := range steps {
		if agent.IsWhitelisted(p.kind(), p.Executor) {
			continue
		}
		if !seen[p.Executor] {
			seen[p.Executor] = true
			violations = append(violations, p.Executor)
		}
	}
	return violations
}

// insertPlannedSteps adds every planned step via the supplied inserter
// (add_step or add_next_step). Callers must confirm steps carries no
// whitelist violations before calling this.
func insertPlannedSteps(steps []plannedStep, insert func(intention string, kind step.Kind, executorName, text string, instruction map[string]any)) {
	for _, p := range steps {
		insert(p.StepIntention, p.kind(), p.Executor, p.TextContent, p.Instruction)
	}
}
