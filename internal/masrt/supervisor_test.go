package masrt

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentruntime/masrt/internal/config"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/llm"
	"github.com/agentruntime/masrt/internal/worker"
)

// scriptedLLM answers a Call by matching the prompt against an ordered list
// of substring->response rules, the first match winning. It lets a test
// script an agent's planning/summary/etc. responses without a real model.
type scriptedLLM struct {
	rules []scriptRule
	calls []string
}

type scriptRule struct {
	contains string
	response string
}

func (f *scriptedLLM) Call(ctx context.Context, prompt string, ctxWindow *llm.Context) (string, error) {
	f.calls = append(f.calls, prompt)
	for _, r := range f.rules {
		if strings.Contains(prompt, r.contains) {
			return r.response, nil
		}
	}
	return "", nil
}

var _ llm.Client = (*scriptedLLM)(nil)

// drainSteps repeatedly steps w until it reports no more ready work,
// returning the number of steps processed. Used in place of Run+sleep for
// deterministic single-goroutine tests.
func drainSteps(ctx context.Context, w *worker.Worker, max int) int {
	n := 0
	for n < max && w.Step(ctx) {
		n++
	}
	return n
}

// TestSingleAgentPlanActReflect exercises spec.md §8 scenario 1: a single
// autonomous agent is allocated to a stage, start_stage seeds its planning
// step, planning proposes a summary step, and the summary step reports
// stage completion.
func TestSingleAgentPlanActReflect(t *testing.T) {
	ctx := context.Background()
	sup, err := New(nil)
	require.NoError(t, err)

	fake := &scriptedLLM{rules: []scriptRule{
		{contains: "# Planning", response: `<planned_step>[{"step_intention":"summarize the stage","type":"skill","executor":"summary","text_content":"wrap up"}]</planned_step>`},
		{contains: "# Summary", response: `<completion_summary>done with the stage</completion_summary>`},
	}}

	agentID, err := sup.RegisterAgent(config.AgentConfig{
		Name:   "Researcher",
		Role:   "researcher",
		Skills: []string{"planning", "summary"},
	}, fake)
	require.NoError(t, err)

	taskID, err := sup.CreateTask("investigate", "find the answer", agentID)
	require.NoError(t, err)

	err = sup.AddStage(taskID, agentID, []executor.StageSpec{
		{StageID: "S1", Intention: "do the work", AgentAllocation: map[string]string{agentID: "do it"}},
	})
	require.NoError(t, err)

	require.NoError(t, sup.StartStage(taskID, "S1", agentID))
	require.True(t, sup.disp.Cycle(), "start_stage instruction should be delivered")

	w := sup.workers[agentID]
	n := drainSteps(ctx, w, 10)
	assert.Equal(t, 2, n, "planning step then summary step")

	st, ok := sup.Agent(agentID)
	require.True(t, ok)
	all := st.AgentStep.All()
	require.Len(t, all, 2)
	assert.Equal(t, "planning", all[0].ExecutorName)
	assert.Equal(t, "summary", all[1].ExecutorName)
	for _, s := range all {
		assert.Equal(t, "finished", string(s.Status))
	}

	stg, ok := sup.sync.GetStage(taskID, "S1")
	require.True(t, ok)
	assert.Equal(t, map[string]string{agentID: "done with the stage"}, stg.CompletionSummary())
}

// TestStageCascadeOnFinish exercises spec.md §8 scenario 4: finishing S1
// advances the task to S2, delivering a start_stage instruction to exactly
// the agents allocated to S2.
func TestStageCascadeOnFinish(t *testing.T) {
	ctx := context.Background()
	sup, err := New(nil)
	require.NoError(t, err)

	planOnce := &scriptedLLM{rules: []scriptRule{
		{contains: "# Planning", response: `<planned_step>[]</planned_step>`},
	}}

	managerID, err := sup.RegisterAgent(config.AgentConfig{
		Name: "Manager", Role: "manager", Skills: []string{"planning"},
	}, planOnce)
	require.NoError(t, err)
	helperID, err := sup.RegisterAgent(config.AgentConfig{
		Name: "Helper", Role: "helper", Skills: []string{"planning"},
	}, planOnce)
	require.NoError(t, err)

	taskID, err := sup.CreateTask("pipeline", "multi-stage job", managerID)
	require.NoError(t, err)

	err = sup.AddStage(taskID, managerID, []executor.StageSpec{
		{StageID: "S1", Intention: "first", AgentAllocation: map[string]string{managerID: "lead"}},
		{StageID: "S2", Intention: "second", AgentAllocation: map[string]string{helperID: "assist"}},
	})
	require.NoError(t, err)

	require.NoError(t, sup.StartStage(taskID, "S1", managerID))
	require.True(t, sup.disp.Cycle())

	managerWorker := sup.workers[managerID]
	drainSteps(ctx, managerWorker, 10)

	helperState, ok := sup.Agent(helperID)
	require.True(t, ok)
	assert.Empty(t, helperState.StepsFor(taskID, "S2"), "helper must not start S2 work before S1 finishes")

	// Simulate the task manager's finish_stage instruction for S1, the way
	// a completed task_manager skill's side effect would.
	require.NoError(t, sup.sync.Apply(&executor.SideEffect{
		TaskInstruction: &executor.TaskInstruction{
			Action:  executor.TaskInstructionFinishStg,
			AgentID: managerID,
			TaskID:  taskID,
			StageID: "S1",
		},
	}))

	s1, ok := sup.sync.GetStage(taskID, "S1")
	require.True(t, ok)
	assert.Equal(t, "finished", string(s1.ExecutionState()))

	s2, ok := sup.sync.GetStage(taskID, "S2")
	require.True(t, ok)
	assert.Equal(t, "running", string(s2.ExecutionState()))

	require.True(t, sup.disp.Cycle(), "start_stage for S2 should be delivered")

	helperWorker := sup.workers[helperID]
	n := drainSteps(ctx, helperWorker, 10)
	assert.Equal(t, 1, n, "S2's planning step runs for the helper")
	assert.NotEmpty(t, helperState.StepsFor(taskID, "S2"))

	managerState, ok := sup.Agent(managerID)
	require.True(t, ok)
	assert.Empty(t, managerState.StepsFor(taskID, "S2"), "manager is not allocated to S2")
}

// TestRegisterOperatorSendMessage exercises spec §6's send_operator_message
// and the operator variant's non-worker intake path.
func TestRegisterOperatorSendMessage(t *testing.T) {
	sup, err := New(nil)
	require.NoError(t, err)

	fake := &scriptedLLM{}
	agentID, err := sup.RegisterAgent(config.AgentConfig{Name: "Agent", Role: "worker"}, fake)
	require.NoError(t, err)

	operatorID, err := sup.RegisterOperator(config.AgentConfig{Name: "Operator", Role: "human"})
	require.NoError(t, err)

	taskID, err := sup.CreateTask("chat", "talk to the human", operatorID)
	require.NoError(t, err)

	require.NoError(t, sup.SendOperatorMessage(operatorID, taskID, []string{agentID}, "please proceed", false))

	require.True(t, sup.disp.Cycle(), "the operator's message should be delivered to the agent")

	agentState, ok := sup.Agent(agentID)
	require.True(t, ok)
	all := agentState.AgentStep.All()
	require.Len(t, all, 1, "plain delivery with no reply owed creates a process_message step")
	assert.Equal(t, "process_message", all[0].ExecutorName)
	assert.Contains(t, all[0].TextContent, "please proceed")

	operatorState, ok := sup.Agent(operatorID)
	require.True(t, ok)
	auditSteps := operatorState.AgentStep.All()
	require.Len(t, auditSteps, 1)
	assert.Equal(t, "finished", string(auditSteps[0].Status))
	assert.Equal(t, 0, operatorState.AgentStep.ReadyLen(), "the audit step must not sit in the ready queue")
}

// TestSnapshotReflectsRegisteredState exercises the supervisor's full-system
// Snapshot (spec §6 snapshot()) after a task, a stage, and one step exist.
func TestSnapshotReflectsRegisteredState(t *testing.T) {
	sup, err := New(nil)
	require.NoError(t, err)

	fake := &scriptedLLM{}
	agentID, err := sup.RegisterAgent(config.AgentConfig{Name: "Agent", Role: "worker", Skills: []string{"planning"}}, fake)
	require.NoError(t, err)

	taskID, err := sup.CreateTask("job", "do it", agentID)
	require.NoError(t, err)
	require.NoError(t, sup.AddStage(taskID, agentID, []executor.StageSpec{
		{StageID: "S1", Intention: "work", AgentAllocation: map[string]string{agentID: "do it"}},
	}))

	snap := sup.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, taskID, snap.Tasks[0].ID)
	require.Len(t, snap.Tasks[0].Stages, 1)
	assert.Equal(t, "S1", snap.Tasks[0].Stages[0].ID)

	var found bool
	for _, a := range snap.Agents {
		if a.AgentID == agentID {
			found = true
			assert.Equal(t, "autonomous", a.Variant)
		}
	}
	assert.True(t, found)
}
