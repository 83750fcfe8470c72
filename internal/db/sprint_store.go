package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// CreateSprint creates a sprint with its sprint-level dependency edges in
// one transaction
func (s *Store) CreateSprint(goalID, name string, sprintNumber int, dependsOn []string) (*types.Sprint, error) {
	sprint := &types.Sprint{
		ID:           newID("sprint"),
		GoalID:       goalID,
		SprintNumber: sprintNumber,
		Name:         name,
		Status:       types.SprintStatusPending,
		DependsOn:    dependsOn,
		CreatedAt:    now(),
		UpdatedAt:    now(),
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var goalExists bool
	if err := tx.QueryRow(`SELECT COUNT(*) > 0 FROM goals WHERE id = ?`, goalID).Scan(&goalExists); err != nil {
		return nil, fmt.Errorf("checking goal: %w", err)
	}
	if !goalExists {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}

	_, err = tx.Exec(`
		INSERT INTO sprints (id, goal_id, sprint_number, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sprint.ID, sprint.GoalID, sprint.SprintNumber, sprint.Name, sprint.Status,
		sprint.CreatedAt, sprint.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating sprint: %w", err)
	}

	for _, depID := range dependsOn {
		var depExists bool
		if err := tx.QueryRow(`SELECT COUNT(*) > 0 FROM sprints WHERE id = ?`, depID).Scan(&depExists); err != nil {
			return nil, fmt.Errorf("checking sprint dependency: %w", err)
		}
		if !depExists {
			return nil, fmt.Errorf("sprint dependency %s: %w", depID, ErrNotFound)
		}
		_, err = tx.Exec(`
			INSERT INTO sprint_dependencies (sprint_id, depends_on)
			VALUES (?, ?)
		`, sprint.ID, depID)
		if err != nil {
			return nil, fmt.Errorf("adding sprint dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return sprint, nil
}

// GetSprint retrieves a sprint by ID with its dependency list
func (s *Store) GetSprint(sprintID string) (*types.Sprint, error) {
	var sprint types.Sprint
	err := s.DB.QueryRow(`
		SELECT id, goal_id, sprint_number, name, status, created_at, updated_at
		FROM sprints WHERE id = ?
	`, sprintID).Scan(
		&sprint.ID, &sprint.GoalID, &sprint.SprintNumber, &sprint.Name,
		&sprint.Status, &sprint.CreatedAt, &sprint.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sprint %s: %w", sprintID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting sprint: %w", err)
	}

	rows, err := s.DB.Query(`
		SELECT depends_on FROM sprint_dependencies WHERE sprint_id = ? ORDER BY depends_on
	`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("querying sprint dependencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning sprint dependency: %w", err)
		}
		sprint.DependsOn = append(sprint.DependsOn, id)
	}

	return &sprint, rows.Err()
}

// ListSprints returns a goal's sprints ordered by sprint number
func (s *Store) ListSprints(goalID string) ([]*types.Sprint, error) {
	rows, err := s.DB.Query(`
		SELECT id, goal_id, sprint_number, name, status, created_at, updated_at
		FROM sprints WHERE goal_id = ? ORDER BY sprint_number ASC
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("querying sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*types.Sprint
	for rows.Next() {
		var sprint types.Sprint
		err := rows.Scan(
			&sprint.ID, &sprint.GoalID, &sprint.SprintNumber, &sprint.Name,
			&sprint.Status, &sprint.CreatedAt, &sprint.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sprint: %w", err)
		}
		sprints = append(sprints, &sprint)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deps, err := s.ListSprintDependencies()
	if err != nil {
		return nil, err
	}
	bySprint := make(map[string][]string)
	for _, d := range deps {
		bySprint[d.SprintID] = append(bySprint[d.SprintID], d.DependsOn)
	}
	for _, sp := range sprints {
		sp.DependsOn = bySprint[sp.ID]
	}
	return sprints, nil
}

// ListSprintDependencies returns every sprint-level dependency edge
func (s *Store) ListSprintDependencies() ([]types.SprintDependency, error) {
	rows, err := s.DB.Query(`
		SELECT sprint_id, depends_on FROM sprint_dependencies ORDER BY sprint_id, depends_on
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sprint dependencies: %w", err)
	}
	defer rows.Close()

	var deps []types.SprintDependency
	for rows.Next() {
		var dep types.SprintDependency
		if err := rows.Scan(&dep.SprintID, &dep.DependsOn); err != nil {
			return nil, fmt.Errorf("scanning sprint dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// UpdateSprintStatus updates a sprint's status
func (s *Store) UpdateSprintStatus(sprintID string, status types.SprintStatus) error {
	res, err := s.DB.Exec(`
		UPDATE sprints SET status = ?, updated_at = ? WHERE id = ?
	`, status, now(), sprintID)
	if err != nil {
		return fmt.Errorf("updating sprint status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sprint %s: %w", sprintID, ErrNotFound)
	}
	return nil
}

// IsSprintComplete reports whether every task in the sprint is completed
// or skipped. A sprint with no tasks is not complete.
func (s *Store) IsSprintComplete(sprintID string) (bool, error) {
	var total, terminal int
	err := s.DB.QueryRow(`
		SELECT COUNT(*),
		       COUNT(CASE WHEN status IN ('completed', 'skipped') THEN 1 END)
		FROM tasks WHERE sprint_id = ?
	`, sprintID).Scan(&total, &terminal)
	if err != nil {
		return false, fmt.Errorf("checking sprint completion: %w", err)
	}
	return total > 0 && total == terminal, nil
}
