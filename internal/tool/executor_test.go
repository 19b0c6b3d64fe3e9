package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/step"
	"github.com/agentruntime/masrt/internal/tool/mcpclient"
)

type fakeServer struct {
	catalog   mcpclient.Catalog
	catalogErr error
	callResult map[string]any
	callErr    error
	lastCapability string
	lastArgs       map[string]any
}

func (f *fakeServer) ListCapabilities(ctx context.Context) (mcpclient.Catalog, error) {
	return f.catalog, f.catalogErr
}

func (f *fakeServer) Call(ctx context.Context, capability string, arguments map[string]any) (map[string]any, error) {
	f.lastCapability = capability
	f.lastArgs = arguments
	return f.callResult, f.callErr
}

func (f *fakeServer) Close() error { return nil }

type fakeDirectory struct {
	servers map[string]mcpclient.Client
}

func (d fakeDirectory) Server(name string) (mcpclient.Client, bool) {
	s, ok := d.servers[name]
	return s, ok
}

func newTestAgent() *agentstate.State {
	return agentstate.New("A1", "agent", "role", "profile", agentstate.VariantAutonomous, nil, nil)
}

func TestExecuteGetDescriptionAppendsToolDecision(t *testing.T) {
	srv := &fakeServer{catalog: mcpclient.Catalog{Tools: []mcpclient.CatalogEntry{{Name: "search"}}}}
	ex := New(fakeDirectory{servers: map[string]mcpclient.Client{"srvX": srv}}, nil)

	agent := newTestAgent()
	st := agent.AddStep("T1", step.NoStage, "tool_call", step.KindTool, "srvX", "", map[string]any{"instruction_type": "get_description"})
	_, _ = agent.AgentStep.PopReady() // the worker pops a step before running it
	require.NoError(t, st.SetStatus(step.StatusRunning))

	sfx, err := ex.Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Nil(t, sfx)
	assert.Equal(t, step.StatusFinished, st.Status)
	assert.NotNil(t, st.ExecuteResult["catalog"])

	assert.Equal(t, 1, agent.AgentStep.ReadyLen())
	nextID, ok := agent.AgentStep.PopReady()
	require.True(t, ok)
	next, _ := agent.AgentStep.Get(nextID)
	assert.Equal(t, "tool_decision", next.ExecutorName)
	name, ok := message.ExtractToolName(next.TextContent)
	require.True(t, ok)
	assert.Equal(t, "srvX", name)
}

func TestExecuteFunctionCallStoresResultUnderMCPServerResult(t *testing.T) {
	srv := &fakeServer{callResult: map[string]any{"result": "42"}}
	ex := New(fakeDirectory{servers: map[string]mcpclient.Client{"srvX": srv}}, nil)

	agent := newTestAgent()
	st := agent.AddStep("T1", step.NoStage, "tool_call", step.KindTool, "srvX", "", map[string]any{
		"instruction_type": "function_call",
		"tool_name":        "search",
		"arguments":        map[string]any{"q": "go"},
	})
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := ex.Execute(context.Background(), st.ID, agent)
	require.NoError(t, err)
	assert.Equal(t, step.StatusFinished, st.Status)
	assert.Equal(t, "search", srv.lastCapability)
	assert.Equal(t, map[string]any{"result": "42"}, st.ExecuteResult["mcp_server_result"])
}

func TestExecuteUnknownInstructionTypeFails(t *testing.T) {
	srv := &fakeServer{}
	ex := New(fakeDirectory{servers: map[string]mcpclient.Client{"srvX": srv}}, nil)

	agent := newTestAgent()
	st := agent.AddStep("T1", step.NoStage, "tool_call", step.KindTool, "srvX", "", map[string]any{"instruction_type": "bogus"})
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := ex.Execute(context.Background(), st.ID, agent)
	require.Error(t, err)
	assert.Equal(t, step.StatusFailed, st.Status)
}

func TestExecuteUnregisteredServerFails(t *testing.T) {
	ex := New(fakeDirectory{servers: map[string]mcpclient.Client{}}, nil)

	agent := newTestAgent()
	st := agent.AddStep("T1", step.NoStage, "tool_call", step.KindTool, "missing", "", map[string]any{"instruction_type": "get_description"})
	require.NoError(t, st.SetStatus(step.StatusRunning))

	_, err := ex.Execute(context.Background(), st.ID, agent)
	require.Error(t, err)
	assert.Equal(t, step.StatusFailed, st.Status)
}
