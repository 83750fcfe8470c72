// Package types defines core data structures for Foreman
package types

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusValidating TaskStatus = "validating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusHITL       TaskStatus = "hitl"
	TaskStatusSkipped    TaskStatus = "skipped"
)

// IsValid checks if the status is a known task status
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusValidating,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked,
		TaskStatusHITL, TaskStatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status counts toward sprint completion.
// A sprint is complete iff every task is completed or skipped.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// Task represents a unit of work assigned to a single agent role
type Task struct {
	ID          string     `json:"id" db:"id"`
	SprintID    string     `json:"sprint_id" db:"sprint_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Role        Role       `json:"role" db:"role"`
	Status      TaskStatus `json:"status" db:"status"`

	// DependsOn lists task IDs that must complete before this task is
	// schedulable. Every entry must reference an existing task.
	DependsOn []string `json:"depends_on,omitempty"`

	// Files is the declared write scope for this task
	Files []string `json:"files,omitempty"`

	// VerifyCommands are Tier-1 checks that must all pass before the task
	// may be marked completed
	VerifyCommands []string `json:"verify_commands,omitempty"`

	RetryCount int    `json:"retry_count" db:"retry_count"`
	MaxRetries int    `json:"max_retries" db:"max_retries"`
	LastError  string `json:"last_error,omitempty" db:"last_error"`

	// Validator bookkeeping for roles with mapped validators
	ValidatorFeedback string `json:"validator_feedback,omitempty" db:"validator_feedback"`
	RejectionCount    int    `json:"rejection_count" db:"rejection_count"`
	MaxRejections     int    `json:"max_rejections" db:"max_rejections"`

	CreatedAt int64 `json:"created_at" db:"created_at"`
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`
}

// TaskDependency represents a single dependency edge in the task graph
type TaskDependency struct {
	TaskID    string `json:"task_id" db:"task_id"`
	DependsOn string `json:"depends_on" db:"depends_on"`
}

// SprintStatus represents the state of a sprint
type SprintStatus string

const (
	SprintStatusPending   SprintStatus = "pending"
	SprintStatusActive    SprintStatus = "active"
	SprintStatusCompleted SprintStatus = "completed"
)

// Sprint groups tasks that ship together
type Sprint struct {
	ID           string       `json:"id" db:"id"`
	GoalID       string       `json:"goal_id" db:"goal_id"`
	SprintNumber int          `json:"sprint_number" db:"sprint_number"`
	Name         string       `json:"name" db:"name"`
	Status       SprintStatus `json:"status" db:"status"`

	// DependsOn lists sprint IDs that must complete before this one starts
	DependsOn []string `json:"depends_on,omitempty"`

	CreatedAt int64 `json:"created_at" db:"created_at"`
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`
}

// SprintDependency represents a sprint-level ordering edge
type SprintDependency struct {
	SprintID  string `json:"sprint_id" db:"sprint_id"`
	DependsOn string `json:"depends_on" db:"depends_on"`
}

// ProjectStatus summarizes the current state of all tasks
type ProjectStatus struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Validating int `json:"validating"`
	Blocked    int `json:"blocked"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	HITL       int `json:"hitl"`
	Skipped    int `json:"skipped"`
}
