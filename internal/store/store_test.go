package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStoreSaveLoadRoundTrip(t *testing.T) {
	s, err := Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC().Truncate(time.Second)
	snap := Snapshot{
		TaskID:    "T1",
		Name:      "name",
		Intention: "do the thing",
		State:     "running",
		Stages:    json.RawMessage(`[{"id":"S1"}]`),
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, snap.TaskID, got.TaskID)
	assert.Equal(t, snap.State, got.State)
	assert.JSONEq(t, string(snap.Stages), string(got.Stages))
}

func TestSQLStoreSaveUpsertsOnConflict(t *testing.T) {
	s, err := Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Save(ctx, Snapshot{TaskID: "T1", Name: "a", State: "running", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.Save(ctx, Snapshot{TaskID: "T1", Name: "b", State: "finished", CreatedAt: now, UpdatedAt: now}))

	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
	assert.Equal(t, "finished", got.State)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
