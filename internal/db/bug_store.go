package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// CreateBug files a new bug
func (s *Store) CreateBug(title string, severity types.BugSeverity, taskID string, maxCycles int) (*types.Bug, error) {
	if !severity.IsValid() {
		return nil, fmt.Errorf("unknown severity: %s", severity)
	}
	if maxCycles <= 0 {
		maxCycles = 3
	}

	bug := &types.Bug{
		ID:        newID("bug"),
		Title:     title,
		Severity:  severity,
		Status:    types.BugStatusOpen,
		MaxCycles: maxCycles,
		TaskID:    taskID,
		CreatedAt: now(),
		UpdatedAt: now(),
	}

	_, err := s.DB.Exec(`
		INSERT INTO bugs (id, title, severity, status, cycle_count, max_cycles, task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, bug.ID, bug.Title, bug.Severity, bug.Status, bug.MaxCycles,
		nullIfEmpty(bug.TaskID), bug.CreatedAt, bug.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating bug: %w", err)
	}
	return bug, nil
}

// GetBug retrieves a bug by ID
func (s *Store) GetBug(bugID string) (*types.Bug, error) {
	var bug types.Bug
	var assigned, taskID sql.NullString
	err := s.DB.QueryRow(`
		SELECT id, title, severity, status, assigned_to, cycle_count, max_cycles,
		       task_id, created_at, updated_at
		FROM bugs WHERE id = ?
	`, bugID).Scan(
		&bug.ID, &bug.Title, &bug.Severity, &bug.Status, &assigned,
		&bug.CycleCount, &bug.MaxCycles, &taskID, &bug.CreatedAt, &bug.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bug %s: %w", bugID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting bug: %w", err)
	}
	bug.AssignedTo = assigned.String
	bug.TaskID = taskID.String
	return &bug, nil
}

// UpdateBugStatus updates a bug's status
func (s *Store) UpdateBugStatus(bugID string, status types.BugStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("unknown bug status: %s", status)
	}
	res, err := s.DB.Exec(`
		UPDATE bugs SET status = ?, updated_at = ? WHERE id = ?
	`, status, now(), bugID)
	if err != nil {
		return fmt.Errorf("updating bug status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("bug %s: %w", bugID, ErrNotFound)
	}
	return nil
}

// AssignBug assigns a bug to an agent and moves it to fixing
func (s *Store) AssignBug(bugID, agent string) error {
	res, err := s.DB.Exec(`
		UPDATE bugs SET assigned_to = ?, status = 'fixing', updated_at = ? WHERE id = ?
	`, agent, now(), bugID)
	if err != nil {
		return fmt.Errorf("assigning bug: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("bug %s: %w", bugID, ErrNotFound)
	}
	return nil
}

// IncrementBugCycle bumps the reopen cycle counter and returns the new value
func (s *Store) IncrementBugCycle(bugID string) (int, error) {
	var count int
	err := s.DB.QueryRow(`
		UPDATE bugs SET cycle_count = cycle_count + 1, updated_at = ? WHERE id = ?
		RETURNING cycle_count
	`, now(), bugID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("bug %s: %w", bugID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing bug cycle: %w", err)
	}
	return count, nil
}

// ListBugsByStatus returns bugs in the given status, oldest first
func (s *Store) ListBugsByStatus(status types.BugStatus) ([]*types.Bug, error) {
	rows, err := s.DB.Query(`
		SELECT id, title, severity, status, assigned_to, cycle_count, max_cycles,
		       task_id, created_at, updated_at
		FROM bugs WHERE status = ? ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("querying bugs: %w", err)
	}
	defer rows.Close()

	var bugs []*types.Bug
	for rows.Next() {
		var bug types.Bug
		var assigned, taskID sql.NullString
		err := rows.Scan(
			&bug.ID, &bug.Title, &bug.Severity, &bug.Status, &assigned,
			&bug.CycleCount, &bug.MaxCycles, &taskID, &bug.CreatedAt, &bug.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning bug: %w", err)
		}
		bug.AssignedTo = assigned.String
		bug.TaskID = taskID.String
		bugs = append(bugs, &bug)
	}
	return bugs, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
