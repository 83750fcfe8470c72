// Package db handles database operations for Foreman
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store manages database operations. It is the only owner of persisted
// state; everything else derives disposable snapshots from it.
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at the given path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to handle lock contention gracefully
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schema := `
	-- Goals: one active goal per project
	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		description TEXT,
		tier TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT 'planning',
		status TEXT NOT NULL DEFAULT 'active',
		spec_approved INTEGER NOT NULL DEFAULT 0,
		hitl_required INTEGER NOT NULL DEFAULT 0,
		hitl_reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Sprints group tasks that ship together
	CREATE TABLE IF NOT EXISTS sprints (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL,
		sprint_number INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (goal_id) REFERENCES goals(id)
	);

	CREATE TABLE IF NOT EXISTS sprint_dependencies (
		sprint_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		PRIMARY KEY (sprint_id, depends_on),
		FOREIGN KEY (sprint_id) REFERENCES sprints(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on) REFERENCES sprints(id) ON DELETE CASCADE
	);

	-- Tasks are the unit of work
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		sprint_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		role TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		files TEXT,
		verify_commands TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		validator_feedback TEXT,
		rejection_count INTEGER NOT NULL DEFAULT 0,
		max_rejections INTEGER NOT NULL DEFAULT 3,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (sprint_id) REFERENCES sprints(id)
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on) REFERENCES tasks(id) ON DELETE CASCADE
	);

	-- Independent per-validator verdicts for tasks in validating state
	CREATE TABLE IF NOT EXISTS task_validations (
		task_id TEXT NOT NULL,
		validator TEXT NOT NULL,
		passed INTEGER NOT NULL,
		feedback TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (task_id, validator),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	-- Bugs cycle through fix/verify until closed or escalated
	CREATE TABLE IF NOT EXISTS bugs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		assigned_to TEXT,
		cycle_count INTEGER NOT NULL DEFAULT 0,
		max_cycles INTEGER NOT NULL DEFAULT 3,
		task_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Mail is append-only: rows are never edited except to set read_at
	CREATE TABLE IF NOT EXISTS mail (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		subject TEXT,
		body TEXT,
		importance TEXT NOT NULL DEFAULT 'normal',
		created_at INTEGER NOT NULL,
		read_at INTEGER
	);

	-- Append-only log of gate decisions for audit
	CREATE TABLE IF NOT EXISTS enforcement_log (
		id TEXT PRIMARY KEY,
		gate_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		target TEXT,
		role TEXT,
		task_id TEXT,
		allowed INTEGER NOT NULL,
		reason TEXT,
		created_at INTEGER NOT NULL
	);

	-- Emergency override sessions, kept for legitimacy review
	CREATE TABLE IF NOT EXISTS overrides (
		id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		tier_ceiling TEXT NOT NULL,
		max_files INTEGER NOT NULL,
		files_edited INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL,
		review TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL
	);

	-- Last known state of each worker agent, updated on every spawn
	CREATE TABLE IF NOT EXISTS agent_status (
		agent TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		task_id TEXT,
		updated_at INTEGER NOT NULL
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_sprint ON tasks(sprint_id);
	CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON task_dependencies(depends_on);
	CREATE INDEX IF NOT EXISTS idx_sprints_goal ON sprints(goal_id);
	CREATE INDEX IF NOT EXISTS idx_mail_to_unread ON mail(to_agent, read_at);
	CREATE INDEX IF NOT EXISTS idx_mail_thread ON mail(thread_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_enforcement_created ON enforcement_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_bugs_status ON bugs(status);
	`

	_, err := s.DB.Exec(schema)
	return err
}

// newID generates a unique ID with the given prefix
func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// now returns the current unix timestamp in nanoseconds. Row ordering
// relies on created_at being distinct for rows written in quick
// succession.
func now() int64 {
	return time.Now().UnixNano()
}

// marshalList JSON-encodes a string list column; empty lists become NULL
func marshalList(items []string) (interface{}, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encoding list column: %w", err)
	}
	return string(b), nil
}

// unmarshalList decodes a JSON list column, treating NULL as empty
func unmarshalList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw.String), &items); err != nil {
		return nil, fmt.Errorf("decoding list column: %w", err)
	}
	return items, nil
}
