package gate

import (
	"path/filepath"
	"strings"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// implementationRoles are the spawn targets guarded by the spec-approval
// gate. Designers and validators may spawn before the spec is approved;
// code-producing agents may not.
var implementationRoles = map[types.Role]bool{
	types.RoleImplementer: true,
	types.RoleTester:      true,
}

// checkPhase enforces Gate 1: implementation files may only change once
// the goal reached the implement phase. Documentation and the
// enforcement directory are exempt.
func (e *Engine) checkPhase(goal *types.Goal, req Request) Decision {
	if req.Tool != types.ToolWrite && req.Tool != types.ToolEdit {
		return allow()
	}
	if isDocumentation(req.Path) {
		return allow()
	}
	if goal == nil {
		return block(GatePhase, "no active goal; set a goal and advance to implement before editing %s", req.Path)
	}
	if !goal.Phase.AtLeast(types.PhaseImplement) {
		return block(GatePhase, "goal is in %s phase; implementation files may only change from implement onward", goal.Phase)
	}
	return allow()
}

// checkSpecApproval enforces Gate 2: implementation agents may not spawn
// until a human approved the spec. The minimal tier is exempt.
func (e *Engine) checkSpecApproval(goal *types.Goal, req Request) Decision {
	if req.Tool != types.ToolSpawn || !implementationRoles[req.SpawnRole] {
		return allow()
	}
	if goal == nil {
		return block(GateSpec, "no active goal; cannot spawn a %s agent", req.SpawnRole)
	}
	if goal.Tier == types.TierMinimal {
		return allow()
	}
	if !goal.SpecApproved {
		return block(GateSpec, "spec for goal %s is not approved; a human must approve it before %s agents spawn", goal.ID, req.SpawnRole)
	}
	return allow()
}

// checkTDD enforces Gate 3: an implementation file may only change when
// a test covers it. Test and documentation files are exempt, as is
// everything before the implement phase (Gate 1 already holds those).
func (e *Engine) checkTDD(goal *types.Goal, req Request) Decision {
	if req.Tool != types.ToolWrite && req.Tool != types.ToolEdit {
		return allow()
	}
	if isDocumentation(req.Path) || isTestFile(req.Path) {
		return allow()
	}
	if goal != nil && goal.Tier == types.TierMinimal {
		return allow()
	}
	if !e.TestsExist(req.Path) {
		return block(GateTDD, "no tests cover %s; write the test before or alongside the change", req.Path)
	}
	return allow()
}

// checkScope enforces Gate 4: once a task declares its file scope, edits
// under that task stay inside it. Tasks without a declared scope are
// unrestricted.
func (e *Engine) checkScope(req Request) Decision {
	if req.Tool != types.ToolWrite && req.Tool != types.ToolEdit {
		return allow()
	}
	if req.TaskID == "" {
		return allow()
	}

	task, err := e.store.GetTask(req.TaskID)
	if err != nil {
		return block(GateScope, "cannot resolve task %s for scope check: %v", req.TaskID, err)
	}
	if len(task.Files) == 0 {
		return allow()
	}

	clean := filepath.ToSlash(filepath.Clean(req.Path))
	for _, f := range task.Files {
		declared := filepath.ToSlash(filepath.Clean(f))
		if clean == declared || strings.HasPrefix(clean, declared+"/") {
			return allow()
		}
	}
	return block(GateScope, "%s is outside the declared scope of task %s", req.Path, req.TaskID)
}

// RequestOverride opens a time-boxed, file-capped emergency bypass. The
// session is recorded immediately and stays pending legitimacy review.
func (e *Engine) RequestOverride(reason string, tierCeiling types.Tier, maxFiles int, expiresAt int64) (*types.OverrideSession, error) {
	return e.store.CreateOverride(reason, tierCeiling, maxFiles, expiresAt)
}

// ReviewOverride records the after-the-fact legitimacy verdict on an
// override session
func (e *Engine) ReviewOverride(id string, review types.OverrideReview) error {
	return e.store.ReviewOverride(id, review)
}

// RecentDecisions exposes the enforcement audit log, newest first
func (e *Engine) RecentDecisions(limit int) ([]db.EnforcementDecision, error) {
	return e.store.ListEnforcementDecisions(limit)
}

func isDocumentation(path string) bool {
	clean := filepath.ToSlash(filepath.Clean(path))
	if strings.HasPrefix(clean, "docs/") || strings.Contains(clean, "/docs/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".md", ".rst", ".txt":
		return true
	}
	return false
}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, "_test.go") || strings.HasPrefix(base, "test_")
}
