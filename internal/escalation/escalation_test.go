package escalation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/knowledge"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

func goodAttempt(n string) Attempt {
	return Attempt{
		Description: "tried rewriting the " + n + " handler to use a bounded channel queue",
		Result:      "the deadlock moved from startup to the first reconnect cycle",
		WhyFailed:   "the consumer goroutine still blocks while holding the state mutex",
	}
}

func goodEvidence() *Evidence {
	return &Evidence{
		Attempts:  []Attempt{goodAttempt("connect"), goodAttempt("dispatch"), goodAttempt("shutdown")},
		RootCause: "the session mutex is acquired in opposite order by the dispatcher and the reconnect path, so any overlap deadlocks",
		Options:   []string{"introduce a single lock ordering via a session actor goroutine", "replace the mutex with a lock-free state snapshot"},
	}
}

func TestEvidence_Valid(t *testing.T) {
	require.NoError(t, goodEvidence().Validate())
}

func TestEvidence_TooFewAttempts(t *testing.T) {
	e := goodEvidence()
	e.Attempts = e.Attempts[:2]
	err := e.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 3")
}

func TestEvidence_DuplicateAttemptsAfterNormalization(t *testing.T) {
	e := goodEvidence()
	// Same text modulo case and spacing must count as identical
	e.Attempts[2].Description = "  " + strings.ToUpper(e.Attempts[0].Description) + "  "
	err := e.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identical after normalization")
}

func TestEvidence_ThinHypothesis(t *testing.T) {
	e := goodEvidence()
	e.RootCause = "it's broken"
	require.Error(t, e.Validate())
}

func TestEvidence_TooFewOptions(t *testing.T) {
	e := goodEvidence()
	e.Options = e.Options[:1]
	require.Error(t, e.Validate())
}

func setupEscalator(t *testing.T) (*Escalator, *db.Store, *types.Sprint) {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	goal, err := store.CreateGoal("proj-1", "goal", types.TierStandard)
	require.NoError(t, err)
	sprint, err := store.CreateSprint(goal.ID, "S1", 1, nil)
	require.NoError(t, err)

	return NewEscalator(store, knowledge.NewInMemory(), "proj-1"), store, sprint
}

func TestHandleTaskFailure_RetriesThenHITL(t *testing.T) {
	esc, store, sprint := setupEscalator(t)
	ctx := context.Background()

	task, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "flaky", Role: types.RoleImplementer, MaxRetries: 3,
	})
	require.NoError(t, err)

	// First two failures requeue the task transparently
	for i := 0; i < 2; i++ {
		escalated, err := esc.HandleTaskFailure(ctx, task.ID, "build broke")
		require.NoError(t, err)
		assert.False(t, escalated)

		got, err := store.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusPending, got.Status)
	}

	// Third failure hits the ceiling: hitl, never silent failed
	escalated, err := esc.HandleTaskFailure(ctx, task.ID, "build broke again")
	require.NoError(t, err)
	assert.True(t, escalated)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusHITL, got.Status)

	goal, err := store.GetActiveGoal("proj-1")
	require.NoError(t, err)
	assert.True(t, goal.HITLRequired)
	assert.Contains(t, goal.HITLReason, task.ID)
}

func TestEscalate_RejectsThinEvidence(t *testing.T) {
	esc, store, sprint := setupEscalator(t)

	task, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "stuck", Role: types.RoleImplementer,
	})
	require.NoError(t, err)

	err = esc.Escalate(context.Background(), task.ID, &Evidence{
		Attempts:  []Attempt{goodAttempt("one"), goodAttempt("two")},
		RootCause: "unknown",
		Options:   []string{"ask a human"},
	})
	require.Error(t, err)

	// The rejected escalation must not have moved the task
	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status)
}

func TestEscalate_AcceptsStructuredEvidence(t *testing.T) {
	esc, store, sprint := setupEscalator(t)

	task, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "stuck", Role: types.RoleImplementer,
	})
	require.NoError(t, err)

	require.NoError(t, esc.Escalate(context.Background(), task.ID, goodEvidence()))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusHITL, got.Status)
}

func TestRecoverCycle_RemovesClosingEdge(t *testing.T) {
	esc, store, sprint := setupEscalator(t)
	ctx := context.Background()

	a, _ := store.CreateTask(db.TaskParams{SprintID: sprint.ID, Name: "a", Role: types.RoleImplementer})
	b, _ := store.CreateTask(db.TaskParams{SprintID: sprint.ID, Name: "b", Role: types.RoleImplementer, DependsOn: []string{a.ID}})
	c, _ := store.CreateTask(db.TaskParams{SprintID: sprint.ID, Name: "c", Role: types.RoleImplementer, DependsOn: []string{b.ID}})
	require.NoError(t, store.AddDependency(a.ID, c.ID))

	// Cycle path a -> c means a depends on c via the closing edge
	require.NoError(t, esc.RecoverCycle(ctx, sprint.GoalID, []string{c.ID, b.ID, a.ID}))

	deps, err := store.GetDependsOn(a.ID)
	require.NoError(t, err)
	assert.Empty(t, deps, "closing edge should be removed")
}

func TestRecoverCycle_SmallCycleEscalates(t *testing.T) {
	esc, store, sprint := setupEscalator(t)

	err := esc.RecoverCycle(context.Background(), sprint.GoalID, []string{"x", "y"})
	require.Error(t, err)

	goal, err := store.GetGoal(sprint.GoalID)
	require.NoError(t, err)
	assert.True(t, goal.HITLRequired)
}
