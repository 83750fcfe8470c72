package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/foreman/internal/config"
	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/knowledge"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

type recordingSpawner struct {
	mu      sync.Mutex
	runs    []string
	prompts map[string]string
	orch    *Orchestrator
	// complete marks whether the primary worker reports completion
	complete bool
}

func (s *recordingSpawner) Run(ctx context.Context, task *types.Task, role types.Role, prompt string) error {
	s.mu.Lock()
	s.runs = append(s.runs, task.ID+"/"+string(role))
	if s.prompts == nil {
		s.prompts = make(map[string]string)
	}
	s.prompts[task.ID+"/"+string(role)] = prompt
	s.mu.Unlock()

	if s.complete && role == task.Role {
		return s.orch.CompleteTask(ctx, task.ID)
	}
	return nil
}

func setupOrchestrator(t *testing.T) (*Orchestrator, *db.Store, *recordingSpawner, *config.Config) {
	t.Helper()

	dir := t.TempDir()
	store, err := db.Open(filepath.Join(dir, "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	cfg := &config.Config{
		DatabasePath:     filepath.Join(dir, "foreman.db"),
		ProjectID:        "proj-test",
		MaxParallelTasks: 4,
		WorkersPerTask:   2,
		MaxRetries:       3,
		MaxRejections:    2,
		CommandTimeout:   10 * time.Second,
		StaleTimeout:     30 * time.Minute,
		PollInterval:     10 * time.Millisecond,
		TokenDir:         filepath.Join(dir, "tokens"),
		SnapshotPath:     filepath.Join(dir, "state.json"),
	}

	spawner := &recordingSpawner{complete: true}
	orch := New(store, cfg, knowledge.NewInMemory(), spawner)
	spawner.orch = orch
	return orch, store, spawner, cfg
}

func setupGoalWithTask(t *testing.T, orch *Orchestrator, store *db.Store, tier types.Tier, role types.Role) (*types.Goal, *types.Task) {
	t.Helper()

	goal, err := orch.SetGoal("ship the widget", tier)
	require.NoError(t, err)
	sprint, err := store.CreateSprint(goal.ID, "sprint 1", 1, nil)
	require.NoError(t, err)
	task, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "build widget", Role: role,
		MaxRetries: 3, MaxRejections: 2,
	})
	require.NoError(t, err)
	return goal, task
}

func TestAdvancePhase_RejectsJumps(t *testing.T) {
	orch, _, _, _ := setupOrchestrator(t)
	_, err := orch.SetGoal("ship it", types.TierMinimal)
	require.NoError(t, err)
	ctx := context.Background()

	err = orch.AdvancePhase(ctx, types.PhaseImplement)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next phase is spec")

	require.NoError(t, orch.AdvancePhase(ctx, types.PhaseSpec))
	require.NoError(t, orch.AdvancePhase(ctx, types.PhaseApproved))
	require.NoError(t, orch.AdvancePhase(ctx, types.PhaseImplement))
}

func TestAdvancePhase_NamesMissingPrecondition(t *testing.T) {
	orch, _, _, _ := setupOrchestrator(t)
	_, err := orch.SetGoal("ship it", types.TierStandard)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, orch.AdvancePhase(ctx, types.PhaseSpec))

	err = orch.AdvancePhase(ctx, types.PhaseApproved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec is not approved")
}

func TestApproveSpec_RequiresFreshToken(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, err := orch.SetGoal("ship it", types.TierStandard)
	require.NoError(t, err)

	err = orch.ApproveSpec("not-a-token")
	require.Error(t, err)

	value, err := orch.Tokens().Generate()
	require.NoError(t, err)
	require.NoError(t, orch.ApproveSpec(value))

	got, err := store.GetGoal(goal.ID)
	require.NoError(t, err)
	assert.True(t, got.SpecApproved)

	// The token is single-use.
	err = orch.ApproveSpec(value)
	require.Error(t, err)
}

func TestDispatchWave_RunsDependentsInOrder(t *testing.T) {
	orch, store, spawner, _ := setupOrchestrator(t)
	goal, err := orch.SetGoal("ship it", types.TierMinimal)
	require.NoError(t, err)
	require.NoError(t, store.SetGoalPhase(goal.ID, types.PhaseImplement))

	sprint, err := store.CreateSprint(goal.ID, "sprint 1", 1, nil)
	require.NoError(t, err)
	taskA, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "design", Role: types.RoleDesigner,
		MaxRetries: 3, MaxRejections: 2,
	})
	require.NoError(t, err)
	taskB, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "review", Role: types.RoleDesigner,
		DependsOn: []string{taskA.ID}, MaxRetries: 3, MaxRejections: 2,
	})
	require.NoError(t, err)
	ctx := context.Background()

	dispatched, err := orch.DispatchWave(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched, "only the dependency-free task is ready")

	gotA, err := store.GetTask(taskA.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, gotA.Status)

	dispatched, err = orch.DispatchWave(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	gotB, err := store.GetTask(taskB.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, gotB.Status)

	// Each dispatched task spawned a worker pair.
	assert.Len(t, spawner.runs, 4)
}

func TestDispatchWave_OrdersSameSprintFileOverlap(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, err := orch.SetGoal("ship it", types.TierMinimal)
	require.NoError(t, err)
	require.NoError(t, store.SetGoalPhase(goal.ID, types.PhaseImplement))

	sprint, err := store.CreateSprint(goal.ID, "sprint 1", 1, nil)
	require.NoError(t, err)
	first, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "first pass", Role: types.RoleDesigner,
		Files: []string{"widget.go"}, MaxRetries: 3, MaxRejections: 2,
	})
	require.NoError(t, err)
	second, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "second pass", Role: types.RoleDesigner,
		Files: []string{"widget.go"}, MaxRetries: 3, MaxRejections: 2,
	})
	require.NoError(t, err)
	// Make creation order unambiguous.
	_, err = store.DB.Exec(`UPDATE tasks SET created_at = created_at - 10 WHERE id = ?`, first.ID)
	require.NoError(t, err)

	dispatched, err := orch.DispatchWave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched, "the later overlapping task waits for the earlier one")

	got, err := store.GetTask(second.ID)
	require.NoError(t, err)
	assert.Contains(t, got.DependsOn, first.ID)
}

func TestDispatchWave_ReportsMissingDependency(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, task := setupGoalWithTask(t, orch, store, types.TierMinimal, types.RoleDesigner)
	require.NoError(t, store.SetGoalPhase(goal.ID, types.PhaseImplement))

	// Simulate an externally corrupted database: an edge pointing at a
	// task that no longer exists. The pragma is per-connection, so pin
	// the pool to one.
	store.DB.SetMaxOpenConns(1)
	_, err := store.DB.Exec(`PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)
	_, err = store.DB.Exec(`INSERT INTO task_dependencies (task_id, depends_on) VALUES (?, 'ghost')`, task.ID)
	require.NoError(t, err)

	_, err = orch.DispatchWave(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency graph invalid")
	assert.Contains(t, err.Error(), "does not exist")
}

func TestDispatchWave_PromptsRespectBlindWall(t *testing.T) {
	orch, store, spawner, _ := setupOrchestrator(t)
	goal, err := orch.SetGoal("ship the secret widget", types.TierMinimal)
	require.NoError(t, err)
	require.NoError(t, store.SetGoalPhase(goal.ID, types.PhaseImplement))

	sprint, err := store.CreateSprint(goal.ID, "sprint 1", 1, nil)
	require.NoError(t, err)
	task, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "implement widget", Role: types.RoleImplementer,
		MaxRetries: 3, MaxRejections: 2,
	})
	require.NoError(t, err)
	spawner.complete = false

	_, err = orch.DispatchWave(context.Background())
	require.NoError(t, err)

	prompt := spawner.prompts[task.ID+"/"+string(types.RoleImplementer)]
	assert.Contains(t, prompt, "ship the secret widget")
	assert.Contains(t, prompt, "implement widget")
}

func TestCompleteTask_RunsVerifyCommands(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, err := orch.SetGoal("ship it", types.TierMinimal)
	require.NoError(t, err)
	require.NoError(t, store.SetGoalPhase(goal.ID, types.PhaseImplement))
	sprint, err := store.CreateSprint(goal.ID, "sprint 1", 1, nil)
	require.NoError(t, err)

	marker := filepath.Join(t.TempDir(), "verified")
	task, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "build widget", Role: types.RoleDesigner,
		VerifyCommands: []string{"touch " + marker},
		MaxRetries:     3, MaxRejections: 2,
	})
	require.NoError(t, err)
	require.NoError(t, orch.StartTask(task.ID))

	require.NoError(t, orch.CompleteTask(context.Background(), task.ID))

	_, err = os.Stat(marker)
	require.NoError(t, err, "verify command must actually run")
	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, got.Status)
}

func TestCompleteTask_VerifyFailureAppliesRetryRule(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, err := orch.SetGoal("ship it", types.TierMinimal)
	require.NoError(t, err)
	require.NoError(t, store.SetGoalPhase(goal.ID, types.PhaseImplement))
	sprint, err := store.CreateSprint(goal.ID, "sprint 1", 1, nil)
	require.NoError(t, err)

	marker := filepath.Join(t.TempDir(), "marker")
	task, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "build widget", Role: types.RoleDesigner,
		VerifyCommands: []string{"touch " + marker + " && false"},
		MaxRetries:     3, MaxRejections: 2,
	})
	require.NoError(t, err)
	require.NoError(t, orch.StartTask(task.ID))

	err = orch.CompleteTask(context.Background(), task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationFailed)

	_, statErr := os.Stat(marker)
	assert.NoError(t, statErr, "the failing command still ran to completion")

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status, "failure goes through the retry rule")
	assert.Equal(t, 1, got.RetryCount)
}

func TestResolveHITL_SkipClearsGoalFlag(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, task := setupGoalWithTask(t, orch, store, types.TierMinimal, types.RoleImplementer)

	require.NoError(t, store.UpdateTaskStatus(task.ID, types.TaskStatusHITL, "stuck"))
	require.NoError(t, store.SetGoalHITL(goal.ID, true, "stuck"))

	require.NoError(t, orch.ResolveHITL(context.Background(), task.ID, ResolveSkip))

	gotTask, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusSkipped, gotTask.Status)

	gotGoal, err := store.GetGoal(goal.ID)
	require.NoError(t, err)
	assert.False(t, gotGoal.HITLRequired)

	// The skip made the sprint terminal.
	done, err := store.IsSprintComplete(task.SprintID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestResolveHITL_RetryRequeues(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	_, task := setupGoalWithTask(t, orch, store, types.TierMinimal, types.RoleImplementer)

	require.NoError(t, store.UpdateTaskStatus(task.ID, types.TaskStatusHITL, "stuck"))
	require.NoError(t, orch.ResolveHITL(context.Background(), task.ID, ResolveRetry))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestReopenBug_EscalatesPastMaxCycles(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, _ := setupGoalWithTask(t, orch, store, types.TierMinimal, types.RoleImplementer)

	bug, err := orch.FileBug("widget crashes", types.BugSeverityHigh, "", 2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, orch.ReopenBug(ctx, bug.ID))
	got, err := store.GetBug(bug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BugStatusFixing, got.Status)

	require.NoError(t, orch.ReopenBug(ctx, bug.ID))
	got, err = store.GetBug(bug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BugStatusHITL, got.Status)

	gotGoal, err := store.GetGoal(goal.ID)
	require.NoError(t, err)
	assert.True(t, gotGoal.HITLRequired)
}

func TestReconcile_MailWinsOverStoredStatus(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	_, task := setupGoalWithTask(t, orch, store, types.TierMinimal, types.RoleDesigner)

	require.NoError(t, store.UpdateTaskStatus(task.ID, types.TaskStatusInProgress, ""))
	_, err := orch.Bus().Send(context.Background(), "designer-1", "orchestrator",
		"completed "+task.ID, "design is done", types.MailImportanceNormal, "")
	require.NoError(t, err)

	result, err := orch.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, result.Completed)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, got.Status, "designer has no validators")
}

func TestReconcile_OrphanFlaggedNotResolved(t *testing.T) {
	orch, store, _, _ := setupOrchestrator(t)
	goal, task := setupGoalWithTask(t, orch, store, types.TierMinimal, types.RoleImplementer)

	require.NoError(t, store.UpdateTaskStatus(task.ID, types.TaskStatusInProgress, ""))
	stale := time.Now().Add(-2 * time.Hour).UnixNano()
	_, err := store.DB.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, stale, task.ID)
	require.NoError(t, err)

	result, err := orch.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, result.Orphaned)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusInProgress, got.Status, "orphan status must not be invented")

	gotGoal, err := store.GetGoal(goal.ID)
	require.NoError(t, err)
	assert.True(t, gotGoal.HITLRequired)
}

func TestExportSnapshot_AtomicAndComplete(t *testing.T) {
	orch, store, _, cfg := setupOrchestrator(t)
	_, task := setupGoalWithTask(t, orch, store, types.TierMinimal, types.RoleImplementer)

	require.NoError(t, orch.ExportSnapshot())

	data, err := os.ReadFile(cfg.SnapshotPath)
	require.NoError(t, err)

	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	require.Len(t, snapshot.Tasks, 1)
	assert.Equal(t, task.ID, snapshot.Tasks[0].ID)
	assert.Equal(t, 1, snapshot.Rollup.Total)
}
