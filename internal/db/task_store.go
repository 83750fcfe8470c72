package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// TaskParams carries the caller-supplied fields for task creation
type TaskParams struct {
	SprintID       string
	Name           string
	Description    string
	Role           types.Role
	DependsOn      []string
	Files          []string
	VerifyCommands []string
	MaxRetries     int
	MaxRejections  int
}

// CreateTask creates a new task with its dependency edges in one
// transaction. Dependencies must reference existing tasks; a dangling
// edge fails the whole insert with no state mutation.
func (s *Store) CreateTask(p TaskParams) (*types.Task, error) {
	if p.SprintID == "" {
		return nil, fmt.Errorf("task requires a sprint")
	}
	if !p.Role.IsValid() {
		return nil, fmt.Errorf("unknown role: %s", p.Role)
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.MaxRejections <= 0 {
		p.MaxRejections = 3
	}

	task := &types.Task{
		ID:             newID("task"),
		SprintID:       p.SprintID,
		Name:           p.Name,
		Description:    p.Description,
		Role:           p.Role,
		Status:         types.TaskStatusPending,
		DependsOn:      p.DependsOn,
		Files:          p.Files,
		VerifyCommands: p.VerifyCommands,
		MaxRetries:     p.MaxRetries,
		MaxRejections:  p.MaxRejections,
		CreatedAt:      now(),
		UpdatedAt:      now(),
	}

	filesCol, err := marshalList(task.Files)
	if err != nil {
		return nil, err
	}
	verifyCol, err := marshalList(task.VerifyCommands)
	if err != nil {
		return nil, err
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Sprint must exist
	var sprintExists bool
	if err := tx.QueryRow(`SELECT COUNT(*) > 0 FROM sprints WHERE id = ?`, p.SprintID).Scan(&sprintExists); err != nil {
		return nil, fmt.Errorf("checking sprint: %w", err)
	}
	if !sprintExists {
		return nil, fmt.Errorf("sprint %s: %w", p.SprintID, ErrNotFound)
	}

	_, err = tx.Exec(`
		INSERT INTO tasks (id, sprint_id, name, description, role, status,
		                   files, verify_commands, retry_count, max_retries,
		                   rejection_count, max_rejections, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?)
	`, task.ID, task.SprintID, task.Name, task.Description, task.Role, task.Status,
		filesCol, verifyCol, task.MaxRetries, task.MaxRejections,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	for _, depID := range p.DependsOn {
		var depExists bool
		if err := tx.QueryRow(`SELECT COUNT(*) > 0 FROM tasks WHERE id = ?`, depID).Scan(&depExists); err != nil {
			return nil, fmt.Errorf("checking dependency: %w", err)
		}
		if !depExists {
			return nil, fmt.Errorf("dependency %s: %w", depID, ErrNotFound)
		}
		_, err = tx.Exec(`
			INSERT INTO task_dependencies (task_id, depends_on)
			VALUES (?, ?)
		`, task.ID, depID)
		if err != nil {
			return nil, fmt.Errorf("adding dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return task, nil
}

const taskColumns = `id, sprint_id, name, COALESCE(description, ''), role, status,
	files, verify_commands, retry_count, max_retries,
	COALESCE(last_error, ''), COALESCE(validator_feedback, ''),
	rejection_count, max_rejections, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*types.Task, error) {
	var task types.Task
	var files, verify sql.NullString

	err := row.Scan(
		&task.ID, &task.SprintID, &task.Name, &task.Description, &task.Role, &task.Status,
		&files, &verify, &task.RetryCount, &task.MaxRetries,
		&task.LastError, &task.ValidatorFeedback,
		&task.RejectionCount, &task.MaxRejections, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if task.Files, err = unmarshalList(files); err != nil {
		return nil, err
	}
	if task.VerifyCommands, err = unmarshalList(verify); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask retrieves a task by ID, including its dependency list
func (s *Store) GetTask(taskID string) (*types.Task, error) {
	row := s.DB.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}

	task.DependsOn, err = s.GetDependsOn(taskID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// listTasksQuery runs a task query and hydrates dependency lists
func (s *Store) listTasksQuery(query string, args ...interface{}) ([]*types.Task, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deps, err := s.ListAllDependencies()
	if err != nil {
		return nil, err
	}
	byTask := make(map[string][]string)
	for _, d := range deps {
		byTask[d.TaskID] = append(byTask[d.TaskID], d.DependsOn)
	}
	for _, t := range tasks {
		t.DependsOn = byTask[t.ID]
	}
	return tasks, nil
}

// ListTasks returns all tasks in creation order
func (s *Store) ListTasks() ([]*types.Task, error) {
	return s.listTasksQuery(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC, id ASC`)
}

// ListTasksBySprint returns a sprint's tasks in creation order
func (s *Store) ListTasksBySprint(sprintID string) ([]*types.Task, error) {
	return s.listTasksQuery(`SELECT `+taskColumns+` FROM tasks WHERE sprint_id = ? ORDER BY created_at ASC, id ASC`, sprintID)
}

// UpdateTaskStatus updates a task's status and last error
func (s *Store) UpdateTaskStatus(taskID string, status types.TaskStatus, lastError string) error {
	if !status.IsValid() {
		return fmt.Errorf("unknown task status: %s", status)
	}
	res, err := s.DB.Exec(`
		UPDATE tasks
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, status, lastError, now(), taskID)
	if err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// IncrementTaskRetries bumps the retry counter and returns the new value
func (s *Store) IncrementTaskRetries(taskID string) (int, error) {
	var count int
	err := s.DB.QueryRow(`
		UPDATE tasks
		SET retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING retry_count
	`, now(), taskID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing retries: %w", err)
	}
	return count, nil
}

// IncrementTaskRejections bumps the validator rejection counter, records
// the feedback, and returns the new count
func (s *Store) IncrementTaskRejections(taskID, feedback string) (int, error) {
	var count int
	err := s.DB.QueryRow(`
		UPDATE tasks
		SET rejection_count = rejection_count + 1, validator_feedback = ?, updated_at = ?
		WHERE id = ?
		RETURNING rejection_count
	`, feedback, now(), taskID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing rejections: %w", err)
	}
	return count, nil
}

// ResetTaskForRetry returns a task to pending with counters cleared, used
// when a human resolves a hitl task with a retry decision
func (s *Store) ResetTaskForRetry(taskID string) error {
	res, err := s.DB.Exec(`
		UPDATE tasks
		SET status = 'pending', retry_count = 0, rejection_count = 0,
		    last_error = NULL, updated_at = ?
		WHERE id = ?
	`, now(), taskID)
	if err != nil {
		return fmt.Errorf("resetting task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// AddDependency inserts a dependency edge. Both endpoints must exist.
func (s *Store) AddDependency(taskID, dependsOn string) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []string{taskID, dependsOn} {
		var exists bool
		if err := tx.QueryRow(`SELECT COUNT(*) > 0 FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("checking task: %w", err)
		}
		if !exists {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
	}

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO task_dependencies (task_id, depends_on)
		VALUES (?, ?)
	`, taskID, dependsOn)
	if err != nil {
		return fmt.Errorf("adding dependency: %w", err)
	}
	return tx.Commit()
}

// RemoveDependency deletes a dependency edge
func (s *Store) RemoveDependency(taskID, dependsOn string) error {
	_, err := s.DB.Exec(`
		DELETE FROM task_dependencies WHERE task_id = ? AND depends_on = ?
	`, taskID, dependsOn)
	if err != nil {
		return fmt.Errorf("removing dependency: %w", err)
	}
	return nil
}

// GetDependsOn returns the IDs this task depends on
func (s *Store) GetDependsOn(taskID string) ([]string, error) {
	rows, err := s.DB.Query(`
		SELECT depends_on FROM task_dependencies WHERE task_id = ? ORDER BY depends_on
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		deps = append(deps, id)
	}
	return deps, rows.Err()
}

// ListAllDependencies returns every dependency edge in the graph
func (s *Store) ListAllDependencies() ([]types.TaskDependency, error) {
	rows, err := s.DB.Query(`
		SELECT task_id, depends_on FROM task_dependencies ORDER BY task_id, depends_on
	`)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	var deps []types.TaskDependency
	for rows.Next() {
		var dep types.TaskDependency
		if err := rows.Scan(&dep.TaskID, &dep.DependsOn); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// GetProjectStatus returns counts per task status
func (s *Store) GetProjectStatus() (*types.ProjectStatus, error) {
	status := &types.ProjectStatus{}

	rows, err := s.DB.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskStatus string
		var count int
		if err := rows.Scan(&taskStatus, &count); err != nil {
			continue
		}
		switch types.TaskStatus(taskStatus) {
		case types.TaskStatusPending:
			status.Pending = count
		case types.TaskStatusInProgress:
			status.InProgress = count
		case types.TaskStatusValidating:
			status.Validating = count
		case types.TaskStatusBlocked:
			status.Blocked = count
		case types.TaskStatusCompleted:
			status.Completed = count
		case types.TaskStatusFailed:
			status.Failed = count
		case types.TaskStatusHITL:
			status.HITL = count
		case types.TaskStatusSkipped:
			status.Skipped = count
		}
		status.Total += count
	}

	return status, nil
}

// RecordValidation stores one validator's verdict for a task. Re-recording
// the same validator replaces its previous verdict.
func (s *Store) RecordValidation(taskID string, validator types.Role, passed bool, feedback string) error {
	_, err := s.DB.Exec(`
		INSERT INTO task_validations (task_id, validator, passed, feedback, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, validator) DO UPDATE SET
			passed = excluded.passed,
			feedback = excluded.feedback,
			created_at = excluded.created_at
	`, taskID, validator, passed, feedback, now())
	if err != nil {
		return fmt.Errorf("recording validation: %w", err)
	}
	return nil
}

// ValidationResult is one validator's recorded verdict
type ValidationResult struct {
	TaskID    string
	Validator types.Role
	Passed    bool
	Feedback  string
	CreatedAt int64
}

// ListValidations returns all recorded verdicts for a task
func (s *Store) ListValidations(taskID string) ([]ValidationResult, error) {
	rows, err := s.DB.Query(`
		SELECT task_id, validator, passed, COALESCE(feedback, ''), created_at
		FROM task_validations WHERE task_id = ? ORDER BY validator
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying validations: %w", err)
	}
	defer rows.Close()

	var results []ValidationResult
	for rows.Next() {
		var r ValidationResult
		if err := rows.Scan(&r.TaskID, &r.Validator, &r.Passed, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning validation: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ClearValidations wipes recorded verdicts, used when a rejected task is
// resubmitted so each validator judges the new output fresh
func (s *Store) ClearValidations(taskID string) error {
	_, err := s.DB.Exec(`DELETE FROM task_validations WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("clearing validations: %w", err)
	}
	return nil
}
