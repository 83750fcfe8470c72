// Package validation implements the two-tier validation hierarchy and the
// validator pipeline that stands between a worker's output and task
// completion.
package validation

import (
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// TierLevel separates mandatory deterministic checks from advisory
// findings
type TierLevel int

const (
	// Tier1 checks are deterministic and gate completion
	Tier1 TierLevel = 1
	// Tier2 findings are advisory: surfaced, never gating
	Tier2 TierLevel = 2
)

// advisoryValidators is the closed set of validator names classified as
// Tier 2. Anything not listed here is Tier 1: unknown validators fail
// closed into the mandatory tier.
var advisoryValidators = map[string]bool{
	"style_advisor":      true,
	"complexity_advisor": true,
	"review_advisor":     true,
}

// Verdict is the classified result of one validator's judgement, kept for
// auditability
type Verdict struct {
	Validator       string    `json:"validator"`
	Passed          bool      `json:"passed"`
	Feedback        string    `json:"feedback,omitempty"`
	Tier            TierLevel `json:"tier"`
	Mandatory       bool      `json:"mandatory"`
	GatesCompletion bool      `json:"gates_completion"`
}

// ClassifyTier maps a validator name to its tier. Names outside the
// advisory set land in Tier 1: an unknown validator fails closed into
// the mandatory tier rather than silently becoming advisory.
func ClassifyTier(validator string) TierLevel {
	if advisoryValidators[validator] {
		return Tier2
	}
	return Tier1
}

// ClassifyVerdict assigns a validator's result to its tier. Only Tier-1
// verdicts are mandatory, and only a failing Tier-1 verdict gates
// completion; Tier-2 findings can never block, by construction.
func ClassifyVerdict(validator string, passed bool, feedback string) Verdict {
	tier := ClassifyTier(validator)
	return Verdict{
		Validator:       validator,
		Passed:          passed,
		Feedback:        feedback,
		Tier:            tier,
		Mandatory:       tier == Tier1,
		GatesCompletion: tier == Tier1 && !passed,
	}
}

// Finding is one advisory observation from a Tier-2 reviewer
type Finding struct {
	Advisor  string `json:"advisor"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

// Outcome aggregates a validation round. CanComplete is computed
// exclusively from the Tier-1 result; the Findings slice has no vote.
type Outcome struct {
	Tier1Passed bool      `json:"tier1_passed"`
	Findings    []Finding `json:"findings,omitempty"`
}

// CanComplete reports whether the validated work may be marked complete.
// Structurally this ignores Findings: advisory output is surfaced to the
// log and the human, never enforced.
func (o Outcome) CanComplete() bool {
	return o.Tier1Passed
}

// Advisor is a pluggable Tier-2 reviewer. The core only consumes its
// findings; heuristics and models live behind the interface.
type Advisor interface {
	Name() string
	Review(task *types.Task, artifact string) []Finding
}
