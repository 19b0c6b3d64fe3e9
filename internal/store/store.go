// Package store persists Task/Stage snapshots for crash recovery and
// external inspection. It is not part of the core's authoritative state
// (the synchronizer and each agent's step log remain in-memory and
// authoritative at runtime); Store is a write-behind mirror, grounded on
// the teacher's pkg/agent/task_service_sql.go SQL-backed service: a
// dialect-aware schema bootstrap behind database/sql, driven by the
// mattn/go-sqlite3 and lib/pq drivers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Snapshot is the serializable view of one task: its fields and its stage
// list as JSON (spec §6 "snapshot()"). Agent step logs and the task's
// message pools are not part of it.
type Snapshot struct {
	TaskID    string          `json:"task_id"`
	Name      string          `json:"name"`
	Intention string          `json:"intention"`
	State     string          `json:"state"`
	Stages    json.RawMessage `json:"stages"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the persistence boundary: save a task snapshot, load it back,
// and list every saved snapshot (spec §6 snapshot(), used for crash
// recovery by the surrounding harness).
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, taskID string) (Snapshot, error)
	ListAll(ctx context.Context) ([]Snapshot, error)
	Close() error
}

// SQLStore implements Store over database/sql, supporting sqlite and
// postgres dialects (spec §8's "serializing and deserializing a Task
// snapshot yields an equal record").
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS task_snapshots (
    task_id    VARCHAR(255) PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    intention  TEXT,
    state      VARCHAR(50) NOT NULL,
    stages     TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// Open opens a SQLStore for the named dialect ("sqlite" or "postgres")
// and data source name, bootstrapping the schema if absent.
func Open(dialect, dsn string) (*SQLStore, error) {
	driverName := dialect
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Save upserts a task snapshot.
func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	var query string
	if s.dialect == "postgres" {
		query = `
INSERT INTO task_snapshots (task_id, name, intention, state, stages, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (task_id) DO UPDATE SET
  name = EXCLUDED.name, intention = EXCLUDED.intention, state = EXCLUDED.state,
  stages = EXCLUDED.stages, updated_at = EXCLUDED.updated_at
`
	} else {
		query = `
INSERT INTO task_snapshots (task_id, name, intention, state, stages, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (task_id) DO UPDATE SET
  name = excluded.name, intention = excluded.intention, state = excluded.state,
  stages = excluded.stages, updated_at = excluded.updated_at
`
	}

	_, err := s.db.ExecContext(ctx, query,
		snap.TaskID, snap.Name, snap.Intention, snap.State, string(snap.Stages), snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", snap.TaskID, err)
	}
	return nil
}

// Load retrieves one task snapshot by ID.
func (s *SQLStore) Load(ctx context.Context, taskID string) (Snapshot, error) {
	query := fmt.Sprintf(`
SELECT task_id, name, intention, state, stages, created_at, updated_at
FROM task_snapshots WHERE task_id = %s
`, s.placeholder(1))

	var snap Snapshot
	var stages string
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(
		&snap.TaskID, &snap.Name, &snap.Intention, &snap.State, &stages, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: load %q: %w", taskID, err)
	}
	snap.Stages = json.RawMessage(stages)
	return snap, nil
}

// ListAll returns every persisted snapshot, used by the harness for
// startup recovery.
func (s *SQLStore) ListAll(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, name, intention, state, stages, created_at, updated_at
FROM task_snapshots
`)
	if err != nil {
		return nil, fmt.Errorf("store: list all: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var stages string
		if err := rows.Scan(&snap.TaskID, &snap.Name, &snap.Intention, &snap.State, &stages, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		snap.Stages = json.RawMessage(stages)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
