package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// EnforcementDecision is one row of the append-only gate audit log
type EnforcementDecision struct {
	ID        string     `json:"id"`
	GateID    string     `json:"gate_id"`
	Tool      types.Tool `json:"tool"`
	Target    string     `json:"target"`
	Role      types.Role `json:"role"`
	TaskID    string     `json:"task_id,omitempty"`
	Allowed   bool       `json:"allowed"`
	Reason    string     `json:"reason"`
	CreatedAt int64      `json:"created_at"`
}

// AppendEnforcementDecision records a gate decision for audit. The log is
// append-only; there is no update or delete path.
func (s *Store) AppendEnforcementDecision(d EnforcementDecision) error {
	if d.ID == "" {
		d.ID = newID("gate")
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = now()
	}
	_, err := s.DB.Exec(`
		INSERT INTO enforcement_log (id, gate_id, tool, target, role, task_id, allowed, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.GateID, d.Tool, d.Target, d.Role, nullIfEmpty(d.TaskID), d.Allowed, d.Reason, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending enforcement decision: %w", err)
	}
	return nil
}

// ListEnforcementDecisions returns the most recent decisions, newest first
func (s *Store) ListEnforcementDecisions(limit int) ([]EnforcementDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Query(`
		SELECT id, gate_id, tool, COALESCE(target, ''), COALESCE(role, ''),
		       COALESCE(task_id, ''), allowed, COALESCE(reason, ''), created_at
		FROM enforcement_log ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying enforcement log: %w", err)
	}
	defer rows.Close()

	var decisions []EnforcementDecision
	for rows.Next() {
		var d EnforcementDecision
		if err := rows.Scan(&d.ID, &d.GateID, &d.Tool, &d.Target, &d.Role,
			&d.TaskID, &d.Allowed, &d.Reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning enforcement decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// CreateOverride records a new emergency override session
func (s *Store) CreateOverride(reason string, tierCeiling types.Tier, maxFiles int, expiresAt int64) (*types.OverrideSession, error) {
	if reason == "" {
		return nil, fmt.Errorf("override requires a reason")
	}
	if !tierCeiling.IsValid() {
		return nil, fmt.Errorf("unknown tier: %s", tierCeiling)
	}
	if maxFiles <= 0 {
		return nil, fmt.Errorf("override requires a positive file cap")
	}

	session := &types.OverrideSession{
		ID:          newID("override"),
		Reason:      reason,
		TierCeiling: tierCeiling,
		MaxFiles:    maxFiles,
		ExpiresAt:   expiresAt,
		Review:      types.OverrideReviewPending,
		CreatedAt:   now(),
	}

	_, err := s.DB.Exec(`
		INSERT INTO overrides (id, reason, tier_ceiling, max_files, files_edited, expires_at, review, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`, session.ID, session.Reason, session.TierCeiling, session.MaxFiles,
		session.ExpiresAt, session.Review, session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating override: %w", err)
	}
	return session, nil
}

// GetOverride retrieves an override session by ID
func (s *Store) GetOverride(id string) (*types.OverrideSession, error) {
	var session types.OverrideSession
	err := s.DB.QueryRow(`
		SELECT id, reason, tier_ceiling, max_files, files_edited, expires_at, review, created_at
		FROM overrides WHERE id = ?
	`, id).Scan(
		&session.ID, &session.Reason, &session.TierCeiling, &session.MaxFiles,
		&session.FilesEdited, &session.ExpiresAt, &session.Review, &session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting override: %w", err)
	}
	return &session, nil
}

// IncrementOverrideFiles counts one file edit against the session cap and
// returns the updated count
func (s *Store) IncrementOverrideFiles(id string) (int, error) {
	var count int
	err := s.DB.QueryRow(`
		UPDATE overrides SET files_edited = files_edited + 1 WHERE id = ?
		RETURNING files_edited
	`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing override files: %w", err)
	}
	return count, nil
}

// ReviewOverride records the legitimacy verdict on a session
func (s *Store) ReviewOverride(id string, review types.OverrideReview) error {
	res, err := s.DB.Exec(`
		UPDATE overrides SET review = ? WHERE id = ?
	`, review, id)
	if err != nil {
		return fmt.Errorf("reviewing override: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	return nil
}
