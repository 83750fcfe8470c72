// Package escalation turns repeated failures into retries or
// human-in-the-loop escalations, and repairs dependency cycles where a
// safe automatic repair exists.
package escalation

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	// MinAttempts is the minimum number of meaningfully distinct prior
	// attempts an escalation must document
	MinAttempts = 3

	// MinOptions is the minimum number of proposed resolution options
	MinOptions = 2

	// minAttemptDetail is the minimum normalized length for each attempt
	// description, result, and explanation
	minAttemptDetail = 20

	// minHypothesisLen is the minimum normalized length of the root-cause
	// hypothesis
	minHypothesisLen = 40
)

// Attempt documents one prior attempt at solving the problem
type Attempt struct {
	Description string `json:"description"`
	Result      string `json:"result"`
	WhyFailed   string `json:"why_failed"`
}

// Evidence is the structured payload an escalation must carry. Low-effort
// "I'm stuck" escalations are rejected before they reach a human.
type Evidence struct {
	Attempts  []Attempt `json:"attempts"`
	RootCause string    `json:"root_cause"`
	Options   []string  `json:"options"`
}

// normalize collapses whitespace and case so trivially reworded attempt
// descriptions compare as identical
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Validate checks the evidence payload. It returns a descriptive error
// for the first unmet requirement, so the caller knows exactly what to
// supply.
func (e *Evidence) Validate() error {
	if len(e.Attempts) < MinAttempts {
		return fmt.Errorf("escalation requires at least %d documented attempts, got %d", MinAttempts, len(e.Attempts))
	}

	seen := make(map[string]int)
	for i, attempt := range e.Attempts {
		desc := normalize(attempt.Description)
		if len(desc) < minAttemptDetail {
			return fmt.Errorf("attempt %d description is too thin (%d chars, need %d)", i+1, len(desc), minAttemptDetail)
		}
		if len(normalize(attempt.Result)) < minAttemptDetail {
			return fmt.Errorf("attempt %d result is too thin", i+1)
		}
		if len(normalize(attempt.WhyFailed)) < minAttemptDetail {
			return fmt.Errorf("attempt %d failure explanation is too thin", i+1)
		}
		if prev, dup := seen[desc]; dup {
			return fmt.Errorf("attempts %d and %d are identical after normalization; each attempt must be meaningfully distinct", prev+1, i+1)
		}
		seen[desc] = i
	}

	if len(normalize(e.RootCause)) < minHypothesisLen {
		return fmt.Errorf("root-cause hypothesis is too thin (%d chars, need %d)", len(normalize(e.RootCause)), minHypothesisLen)
	}

	if len(e.Options) < MinOptions {
		return fmt.Errorf("escalation requires at least %d proposed resolution options, got %d", MinOptions, len(e.Options))
	}
	for i, opt := range e.Options {
		if normalize(opt) == "" {
			return fmt.Errorf("resolution option %d is empty", i+1)
		}
	}

	return nil
}

// Summary renders the evidence as the human-readable record attached to
// the escalation
func (e *Evidence) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Root cause hypothesis: %s\n\n", e.RootCause)
	for i, a := range e.Attempts {
		fmt.Fprintf(&b, "Attempt %d: %s\n  Result: %s\n  Why it failed: %s\n", i+1, a.Description, a.Result, a.WhyFailed)
	}
	b.WriteString("\nProposed options:\n")
	for i, opt := range e.Options {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, opt)
	}
	return b.String()
}

// LoadEvidence reads a structured evidence payload from a JSON file
func LoadEvidence(path string) (*Evidence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading evidence file: %w", err)
	}
	var evidence Evidence
	if err := json.Unmarshal(data, &evidence); err != nil {
		return nil, fmt.Errorf("parsing evidence file: %w", err)
	}
	return &evidence, nil
}
