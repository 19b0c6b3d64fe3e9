package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "masrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadExpandsBracedEnvVar(t *testing.T) {
	t.Setenv("MASRT_STORE_DSN", "postgres://example/db")
	dir := t.TempDir()
	path := writeTestConfig(t, dir, `
store:
  dialect: postgres
  dsn: ${MASRT_STORE_DSN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://example/db", cfg.Store.DSN)
}

func TestLoadExpandsDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("MASRT_LOG_LEVEL")
	dir := t.TempDir()
	path := writeTestConfig(t, dir, `
log_level: ${MASRT_LOG_LEVEL:-info}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadDecodesAgentRoster(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, `
agents:
  - id: A1
    name: planner
    variant: autonomous
    tools: [search, calculator]
  - id: OP1
    name: operator
    variant: operator
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "A1", cfg.Agents[0].ID)
	assert.Equal(t, []string{"search", "calculator"}, cfg.Agents[0].Tools)
	assert.Equal(t, "operator", cfg.Agents[1].Variant)
}

func TestWatcherDeliversReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "log_level: info\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := w.Watch(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0644))

	select {
	case cfg := <-ch:
		require.NotNil(t, cfg)
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
