package validation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"time"
)

// DefaultCommandTimeout is the hard wall-clock ceiling per verification
// command. A timed-out command is a failure, not a retry.
const DefaultCommandTimeout = 300 * time.Second

// CommandResult is the outcome of one Tier-1 verification command
type CommandResult struct {
	Command  string        `json:"command"`
	Passed   bool          `json:"passed"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Runner executes Tier-1 verification commands under a timeout
type Runner struct {
	dir     string
	timeout time.Duration
}

// NewRunner creates a Runner rooted in the given working directory. A
// zero timeout uses DefaultCommandTimeout.
func NewRunner(dir string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Runner{dir: dir, timeout: timeout}
}

// RunAll executes each command in order and reports per-command results.
// Tier 1 requires every command to exit successfully, so Passed is the
// conjunction of all results. Execution continues past a failure so the
// full picture lands in the log.
func (r *Runner) RunAll(ctx context.Context, commands []string) ([]CommandResult, bool) {
	results := make([]CommandResult, 0, len(commands))
	allPassed := true

	for _, command := range commands {
		result := r.runOne(ctx, command)
		if !result.Passed {
			allPassed = false
		}
		results = append(results, result)
	}
	return results, allPassed
}

func (r *Runner) runOne(ctx context.Context, command string) CommandResult {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = r.dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	duration := time.Since(start)

	result := CommandResult{
		Command:  command,
		Output:   buf.String(),
		Duration: duration,
	}

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Output = fmt.Sprintf("timed out after %v\n%s", r.timeout, result.Output)
		log.Printf("⏱️  Verification command timed out after %v: %s", r.timeout, command)
		return result
	}
	if err != nil {
		log.Printf("❌ Verification command failed: %s: %v", command, err)
		return result
	}

	result.Passed = true
	return result
}
