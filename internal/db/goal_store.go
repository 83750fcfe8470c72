package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// ErrGoalActive is returned when creating a goal while another is active
var ErrGoalActive = errors.New("project already has an active goal")

// CreateGoal creates a new goal with a locked tier. At most one goal per
// project may be active; the tier never changes after creation.
func (s *Store) CreateGoal(projectID, description string, tier types.Tier) (*types.Goal, error) {
	if !tier.IsValid() {
		return nil, fmt.Errorf("unknown tier: %s", tier)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM goals WHERE project_id = ? AND status = 'active'
	`, projectID).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("checking active goals: %w", err)
	}
	if active > 0 {
		return nil, ErrGoalActive
	}

	goal := &types.Goal{
		ID:          newID("goal"),
		ProjectID:   projectID,
		Description: description,
		Tier:        tier,
		Phase:       types.PhasePlanning,
		Status:      types.GoalStatusActive,
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}

	_, err = tx.Exec(`
		INSERT INTO goals (id, project_id, description, tier, phase, status,
		                   spec_approved, hitl_required, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
	`, goal.ID, goal.ProjectID, goal.Description, goal.Tier, goal.Phase, goal.Status,
		goal.CreatedAt, goal.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating goal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return goal, nil
}

func scanGoal(row *sql.Row) (*types.Goal, error) {
	var goal types.Goal
	err := row.Scan(
		&goal.ID, &goal.ProjectID, &goal.Description, &goal.Tier, &goal.Phase,
		&goal.Status, &goal.SpecApproved, &goal.HITLRequired, &goal.HITLReason,
		&goal.CreatedAt, &goal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

const goalColumns = `id, project_id, COALESCE(description, ''), tier, phase, status,
	spec_approved, hitl_required, COALESCE(hitl_reason, ''), created_at, updated_at`

// GetGoal retrieves a goal by ID
func (s *Store) GetGoal(goalID string) (*types.Goal, error) {
	goal, err := scanGoal(s.DB.QueryRow(`SELECT `+goalColumns+` FROM goals WHERE id = ?`, goalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting goal: %w", err)
	}
	return goal, nil
}

// GetActiveGoal retrieves the single active goal for a project
func (s *Store) GetActiveGoal(projectID string) (*types.Goal, error) {
	goal, err := scanGoal(s.DB.QueryRow(`
		SELECT `+goalColumns+` FROM goals WHERE project_id = ? AND status = 'active'
	`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active goal for project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting active goal: %w", err)
	}
	return goal, nil
}

// SetGoalPhase records a phase transition. Callers must have verified the
// transition is sequential; the orchestrator owns that rule.
func (s *Store) SetGoalPhase(goalID string, phase types.Phase) error {
	if !phase.IsValid() {
		return fmt.Errorf("unknown phase: %s", phase)
	}
	res, err := s.DB.Exec(`
		UPDATE goals SET phase = ?, updated_at = ? WHERE id = ?
	`, phase, now(), goalID)
	if err != nil {
		return fmt.Errorf("updating goal phase: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return nil
}

// SetSpecApproved marks the spec approved. Only the approval-token path
// may call this.
func (s *Store) SetSpecApproved(goalID string) error {
	res, err := s.DB.Exec(`
		UPDATE goals SET spec_approved = 1, updated_at = ? WHERE id = ?
	`, now(), goalID)
	if err != nil {
		return fmt.Errorf("approving spec: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return nil
}

// SetGoalHITL flags or clears the human-intervention requirement
func (s *Store) SetGoalHITL(goalID string, required bool, reason string) error {
	res, err := s.DB.Exec(`
		UPDATE goals SET hitl_required = ?, hitl_reason = ?, updated_at = ? WHERE id = ?
	`, required, reason, now(), goalID)
	if err != nil {
		return fmt.Errorf("updating goal hitl: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return nil
}

// SetGoalStatus marks a goal complete or abandoned
func (s *Store) SetGoalStatus(goalID string, status types.GoalStatus) error {
	res, err := s.DB.Exec(`
		UPDATE goals SET status = ?, updated_at = ? WHERE id = ?
	`, status, now(), goalID)
	if err != nil {
		return fmt.Errorf("updating goal status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return nil
}
