package types

import "fmt"

// Tier is the rigor level locked into a goal at creation time.
// Changing tier requires creating a new goal; it never changes silently.
type Tier string

const (
	TierMinimal  Tier = "minimal"
	TierStandard Tier = "standard"
	TierFull     Tier = "full"
)

// IsValid checks if the tier is a known tier
func (t Tier) IsValid() bool {
	switch t {
	case TierMinimal, TierStandard, TierFull:
		return true
	}
	return false
}

// Phase is the lifecycle stage of a goal. Phases advance strictly in
// order; no phase may be skipped.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseSpec       Phase = "spec"
	PhaseApproved   Phase = "approved"
	PhaseImplement  Phase = "implement"
	PhaseValidating Phase = "validating"
	PhaseComplete   Phase = "complete"
)

// phaseOrder defines the only legal progression
var phaseOrder = []Phase{
	PhasePlanning,
	PhaseSpec,
	PhaseApproved,
	PhaseImplement,
	PhaseValidating,
	PhaseComplete,
}

// IsValid checks if the phase is a known phase
func (p Phase) IsValid() bool {
	for _, candidate := range phaseOrder {
		if p == candidate {
			return true
		}
	}
	return false
}

// Index returns the position of the phase in the progression, or -1
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if p == candidate {
			return i
		}
	}
	return -1
}

// Next returns the phase that follows this one
func (p Phase) Next() (Phase, error) {
	i := p.Index()
	if i < 0 {
		return "", fmt.Errorf("unknown phase: %s", p)
	}
	if i == len(phaseOrder)-1 {
		return "", fmt.Errorf("phase %s is terminal", p)
	}
	return phaseOrder[i+1], nil
}

// AtLeast reports whether this phase is at or past the given phase
func (p Phase) AtLeast(other Phase) bool {
	pi, oi := p.Index(), other.Index()
	return pi >= 0 && oi >= 0 && pi >= oi
}

// GoalStatus represents whether a goal is the active one for its project
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusComplete  GoalStatus = "complete"
	GoalStatusAbandoned GoalStatus = "abandoned"
)

// Goal is the shared objective the agent fleet works against. At most one
// goal per project is active at a time.
type Goal struct {
	ID          string     `json:"id" db:"id"`
	ProjectID   string     `json:"project_id" db:"project_id"`
	Description string     `json:"description" db:"description"`
	Tier        Tier       `json:"tier" db:"tier"`
	Phase       Phase      `json:"phase" db:"phase"`
	Status      GoalStatus `json:"status" db:"status"`

	// SpecApproved is set only by consuming a valid human approval token
	SpecApproved bool `json:"spec_approved" db:"spec_approved"`

	// HITLRequired is set when automated progress is suspended pending a
	// human decision; HITLReason records why
	HITLRequired bool   `json:"hitl_required" db:"hitl_required"`
	HITLReason   string `json:"hitl_reason,omitempty" db:"hitl_reason"`

	CreatedAt int64 `json:"created_at" db:"created_at"`
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`
}
