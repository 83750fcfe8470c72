// Package gate implements the layered admission-control pipeline that
// stands between an agent's proposed side effect and its execution.
// Layers evaluate in a fixed order and the first block wins; an allowed
// operation passed every layer.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/validation"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Gate identifiers, in evaluation order
const (
	GateLayer0     = "layer-0"
	GateLayer0DB   = "layer-0.5"
	GateCapability = "capability"
	GatePhase      = "gate-1-phase"
	GateSpec       = "gate-2-spec-approval"
	GateTDD        = "gate-3-tdd"
	GateScope      = "gate-4-scope"
	GateValidators = "gate-4.5-validators"
	GateCompletion = "gate-5-completion"
	GateOverride   = "override"
)

// Request is one proposed side-effecting operation awaiting admission
type Request struct {
	Role       types.Role
	Tool       types.Tool
	Path       string     // write/edit target
	Command    string     // shell command line
	SpawnRole  types.Role // role of the agent being spawned
	TaskID     string
	OverrideID string // optional emergency override session
}

// Decision is the verdict on a single request. A block names the gate
// that fired and a reason specific enough to act on.
type Decision struct {
	Allowed bool   `json:"allowed"`
	GateID  string `json:"gate_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func block(gateID, format string, args ...interface{}) Decision {
	return Decision{Allowed: false, GateID: gateID, Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates requests against the layered gate pipeline and
// records every decision in the enforcement log.
type Engine struct {
	store     *db.Store
	projectID string

	protected  []string // Layer 0: paths no agent may ever touch
	managedDBs []string // Layer 0.5: explicitly managed database files

	// TestsExist reports whether a test file covers the given
	// implementation file. Replaceable in tests; the default checks for
	// a sibling _test.go file on disk.
	TestsExist func(path string) bool
}

// NewEngine creates a gate engine over the project's store. The
// protected set always includes the enforcement directory itself.
func NewEngine(store *db.Store, projectID string, protected, managedDBs []string) *Engine {
	base := []string{
		".foreman/hooks",
		".foreman/gates",
		".foreman/prompts",
		".foreman/personas",
		".foreman/foreman.db",
		".foreman/enforcement.db",
	}
	return &Engine{
		store:      store,
		projectID:  projectID,
		protected:  append(base, protected...),
		managedDBs: managedDBs,
		TestsExist: defaultTestsExist,
	}
}

// Check runs the full pipeline on a request. Every decision, allow or
// block, lands in the append-only enforcement log.
func (e *Engine) Check(ctx context.Context, req Request) (Decision, error) {
	decision := e.evaluate(req)
	e.audit(req, decision)

	if !decision.Allowed {
		log.Printf("🚫 %s blocked %s by %s: %s", decision.GateID, req.Tool, req.Role, decision.Reason)
	}
	return decision, nil
}

func (e *Engine) evaluate(req Request) Decision {
	// Layer 0 and 0.5 are absolute. No phase, tier, or override is
	// consulted before them and none can reverse them.
	if d := e.checkLayer0(req); !d.Allowed {
		return d
	}
	if req.Tool == types.ToolShell {
		if d := e.checkDatabaseTargets(req.Command); !d.Allowed {
			return d
		}
	}

	cap := types.CapabilityFor(req.Role)
	if !cap.AllowsTool(req.Tool) {
		return block(GateCapability, "role %s may not use tool %s", req.Role, req.Tool)
	}

	if req.OverrideID != "" {
		if d, bypassed := e.applyOverride(req); bypassed {
			return d
		}
	}

	goal, err := e.store.GetActiveGoal(e.projectID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			goal = nil
		} else {
			return block(GatePhase, "cannot load active goal: %v", err)
		}
	}

	if d := e.checkPhase(goal, req); !d.Allowed {
		return d
	}
	if d := e.checkSpecApproval(goal, req); !d.Allowed {
		return d
	}
	if d := e.checkTDD(goal, req); !d.Allowed {
		return d
	}
	if d := e.checkScope(req); !d.Allowed {
		return d
	}
	return allow()
}

// applyOverride consults an emergency override session. An active
// session bypasses the phase, spec, TDD, and scope gates only; Layer 0,
// Layer 0.5, validator, and completion gates are out of its reach. The
// bypass counts file edits against the session cap.
func (e *Engine) applyOverride(req Request) (Decision, bool) {
	session, err := e.store.GetOverride(req.OverrideID)
	if err != nil {
		return Decision{}, false
	}
	if !session.Active(time.Now().Unix()) {
		return Decision{}, false
	}

	if req.Tool == types.ToolWrite || req.Tool == types.ToolEdit {
		if _, err := e.store.IncrementOverrideFiles(session.ID); err != nil {
			log.Printf("Error counting override file edit: %v", err)
		}
	}

	d := Decision{Allowed: true, GateID: GateOverride,
		Reason: fmt.Sprintf("override %s active: %s", session.ID, session.Reason)}
	return d, true
}

// CheckTaskCompletion enforces the validator gate: a task whose role has
// mapped validators may not be marked complete until every mandatory
// validator has a passing verdict. There is no bypass for such roles.
func (e *Engine) CheckTaskCompletion(task *types.Task) (Decision, error) {
	validators := types.ValidatorsFor(task.Role)
	if len(validators) == 0 {
		d := allow()
		e.audit(Request{Role: task.Role, Tool: types.ToolWrite, TaskID: task.ID, Path: "task-completion"}, d)
		return d, nil
	}

	results, err := e.store.ListValidations(task.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("listing validations: %w", err)
	}
	passedBy := make(map[types.Role]bool, len(results))
	for _, r := range results {
		if r.Passed {
			passedBy[r.Validator] = true
		}
	}

	d := allow()
	for _, v := range validators {
		if validation.ClassifyTier(string(v)) != validation.Tier1 {
			continue
		}
		if !passedBy[v] {
			d = block(GateValidators, "task %s requires a passing verdict from %s before completion", task.ID, v)
			break
		}
	}
	e.audit(Request{Role: task.Role, TaskID: task.ID, Path: "task-completion"}, d)
	return d, nil
}

// CheckGoalCompletion re-runs every configured completion command before
// the orchestration may be marked complete. Any failure blocks with no
// bypass flag; the log carries the first failing command.
func (e *Engine) CheckGoalCompletion(ctx context.Context, runner *validation.Runner, commands []string) (Decision, error) {
	results, passed := runner.RunAll(ctx, commands)

	d := allow()
	if !passed {
		for _, r := range results {
			if !r.Passed {
				d = block(GateCompletion, "completion command failed: %s", r.Command)
				break
			}
		}
	}
	e.audit(Request{Role: types.RoleOrchestrator, Tool: types.ToolShell, Path: "goal-completion"}, d)
	return d, nil
}

func (e *Engine) audit(req Request, d Decision) {
	target := req.Path
	if target == "" {
		target = req.Command
	}
	gateID := d.GateID
	if d.Allowed && gateID == "" {
		gateID = "allowed"
	}
	err := e.store.AppendEnforcementDecision(db.EnforcementDecision{
		GateID:  gateID,
		Tool:    req.Tool,
		Target:  target,
		Role:    req.Role,
		TaskID:  req.TaskID,
		Allowed: d.Allowed,
		Reason:  d.Reason,
	})
	if err != nil {
		log.Printf("Error recording enforcement decision: %v", err)
	}
}

// defaultTestsExist looks for a sibling _test.go file next to a Go
// implementation file
func defaultTestsExist(path string) bool {
	if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
		return true
	}
	testPath := strings.TrimSuffix(path, ".go") + "_test.go"
	if _, err := os.Stat(testPath); err == nil {
		return true
	}
	// Any test file in the same package satisfies the gate.
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*_test.go"))
	return err == nil && len(matches) > 0
}
