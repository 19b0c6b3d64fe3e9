package registry

import (
	"context"
	"testing"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	return nil, nil
}

func TestRegistrySkillRoundTrip(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSkill("planning", executor.ExecutorFunc(noop)))

	ex, err := r.Resolve(step.KindSkill, "planning")
	require.NoError(t, err)
	assert.NotNil(t, ex)

	_, err = r.Resolve(step.KindSkill, "unknown")
	assert.Error(t, err)
}

func TestRegistryToolAlwaysResolvesToGenericHandler(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterTool(executor.ExecutorFunc(noop)))

	ex, err := r.Resolve(step.KindTool, "weather_api")
	require.NoError(t, err)
	assert.NotNil(t, ex)

	ex2, err := r.Resolve(step.KindTool, "some_other_tool_server")
	require.NoError(t, err)
	assert.Same(t, ex, ex2)
}

func TestRegistryDuplicateRegistrationFails(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSkill("planning", executor.ExecutorFunc(noop)))
	assert.Error(t, r.RegisterSkill("planning", executor.ExecutorFunc(noop)))
}
