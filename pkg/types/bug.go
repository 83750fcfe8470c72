package types

// BugSeverity ranks how urgent a bug is
type BugSeverity string

const (
	BugSeverityCritical BugSeverity = "critical"
	BugSeverityHigh     BugSeverity = "high"
	BugSeverityMedium   BugSeverity = "medium"
	BugSeverityLow      BugSeverity = "low"
)

// IsValid checks if the severity is a known severity
func (s BugSeverity) IsValid() bool {
	switch s {
	case BugSeverityCritical, BugSeverityHigh, BugSeverityMedium, BugSeverityLow:
		return true
	}
	return false
}

// BugStatus represents the current state of a bug
type BugStatus string

const (
	BugStatusOpen      BugStatus = "open"
	BugStatusFixing    BugStatus = "fixing"
	BugStatusVerifying BugStatus = "verifying"
	BugStatusClosed    BugStatus = "closed"
	BugStatusWontfix   BugStatus = "wontfix"
	BugStatusHITL      BugStatus = "hitl"
)

// IsValid checks if the status is a known bug status
func (s BugStatus) IsValid() bool {
	switch s {
	case BugStatusOpen, BugStatusFixing, BugStatusVerifying,
		BugStatusClosed, BugStatusWontfix, BugStatusHITL:
		return true
	}
	return false
}

// Bug tracks a defect through its fix/verify cycle. CycleCount counts
// reopen cycles; exceeding MaxCycles forces hitl rather than looping.
type Bug struct {
	ID         string      `json:"id" db:"id"`
	Title      string      `json:"title" db:"title"`
	Severity   BugSeverity `json:"severity" db:"severity"`
	Status     BugStatus   `json:"status" db:"status"`
	AssignedTo string      `json:"assigned_to,omitempty" db:"assigned_to"`
	CycleCount int         `json:"cycle_count" db:"cycle_count"`
	MaxCycles  int         `json:"max_cycles" db:"max_cycles"`
	TaskID     string      `json:"task_id,omitempty" db:"task_id"`
	CreatedAt  int64       `json:"created_at" db:"created_at"`
	UpdatedAt  int64       `json:"updated_at" db:"updated_at"`
}
