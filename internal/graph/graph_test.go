package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

func task(id string, deps []string, opts ...func(*types.Task)) *types.Task {
	t := &types.Task{
		ID:        id,
		SprintID:  "sprint-1",
		Name:      id,
		Role:      types.RoleImplementer,
		Status:    types.TaskStatusPending,
		DependsOn: deps,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func withStatus(s types.TaskStatus) func(*types.Task) {
	return func(t *types.Task) { t.Status = s }
}

func withFiles(files ...string) func(*types.Task) {
	return func(t *types.Task) { t.Files = files }
}

func withCreatedAt(ts int64) func(*types.Task) {
	return func(t *types.Task) { t.CreatedAt = ts }
}

func TestValidate_CleanGraph(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil),
		task("b", []string{"a"}),
		task("c", []string{"a", "b"}),
	}
	report := Validate(tasks)
	assert.True(t, report.Valid())
	assert.Empty(t, report.Issues)
}

func TestValidate_MissingDependency(t *testing.T) {
	tasks := []*types.Task{
		task("a", []string{"ghost"}),
	}
	report := Validate(tasks)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueMissingDependency, report.Issues[0].Kind)
	assert.False(t, report.Valid())
}

func TestValidate_SelfCycle(t *testing.T) {
	tasks := []*types.Task{
		task("a", []string{"a"}),
	}
	report := Validate(tasks)
	require.NotEmpty(t, report.Cycles)
	assert.Equal(t, []string{"a"}, report.Cycles[0])
	assert.False(t, report.Valid())
}

func TestValidate_MultiNodeCycle(t *testing.T) {
	tasks := []*types.Task{
		task("a", []string{"c"}),
		task("b", []string{"a"}),
		task("c", []string{"b"}),
	}
	report := Validate(tasks)
	require.NotEmpty(t, report.Cycles)
	assert.Len(t, report.Cycles[0], 3)

	// Removing the closing edge makes the graph valid again
	tasks[0].DependsOn = nil
	assert.True(t, Validate(tasks).Valid())
}

func TestValidate_FileOverlapIsNotFatal(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil, withFiles("pkg/core.go"), withCreatedAt(1)),
		task("b", nil, withFiles("pkg/core.go"), withCreatedAt(2)),
	}
	report := Validate(tasks)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueFileOverlap, report.Issues[0].Kind)
	assert.True(t, report.Valid(), "overlap is a design smell, not fatal")
}

func TestValidate_FileOverlapWithEdgeIsFine(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil, withFiles("pkg/core.go")),
		task("b", []string{"a"}, withFiles("pkg/core.go")),
	}
	report := Validate(tasks)
	assert.Empty(t, report.Issues)
}

func TestWouldCycle(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil),
		task("b", []string{"a"}),
	}
	// b already depends on a, so a -> b closes a cycle
	assert.True(t, WouldCycle(tasks, "a", "b"))
	assert.False(t, WouldCycle(tasks, "b", "a"))
}

func TestValidateSprints_CycleDetection(t *testing.T) {
	sprints := []*types.Sprint{
		{ID: "s1", DependsOn: []string{"s2"}},
		{ID: "s2", DependsOn: []string{"s1"}},
	}
	report := ValidateSprints(sprints)
	assert.NotEmpty(t, report.Cycles)
}

func TestNextWave_OnlyReadyTasks(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil, withStatus(types.TaskStatusCompleted), withCreatedAt(1)),
		task("b", []string{"a"}, withCreatedAt(2)),
		task("c", []string{"b"}, withCreatedAt(3)),
	}
	wave := NextWave(tasks, 4)
	require.Len(t, wave, 1)
	assert.Equal(t, "b", wave[0].ID)
}

func TestNextWave_DependenciesSubsetOfCompleted(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil, withCreatedAt(1)),
		task("b", nil, withCreatedAt(2)),
		task("c", []string{"a", "b"}, withCreatedAt(3)),
	}
	completed := map[string]bool{}
	for _, w := range NextWave(tasks, 10) {
		for _, dep := range w.DependsOn {
			assert.True(t, completed[dep], "wave task %s has unmet dependency %s", w.ID, dep)
		}
	}
}

func TestNextWave_ParallelismCeiling(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil, withCreatedAt(1)),
		task("b", nil, withCreatedAt(2)),
		task("c", nil, withCreatedAt(3)),
		task("d", nil, withStatus(types.TaskStatusInProgress), withCreatedAt(4)),
	}
	// Ceiling 2 with 1 in progress leaves room for exactly 1
	wave := NextWave(tasks, 2)
	require.Len(t, wave, 1)
	assert.Equal(t, "a", wave[0].ID, "stable creation order")

	// No budget left
	assert.Empty(t, NextWave(tasks, 1))
}

func TestNextWave_SkippedCountsAsSatisfied(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil, withStatus(types.TaskStatusSkipped), withCreatedAt(1)),
		task("b", []string{"a"}, withCreatedAt(2)),
	}
	wave := NextWave(tasks, 4)
	require.Len(t, wave, 1)
	assert.Equal(t, "b", wave[0].ID)
}

func TestAllWaves_Decomposition(t *testing.T) {
	tasks := []*types.Task{
		task("a", nil, withCreatedAt(1)),
		task("b", nil, withCreatedAt(2)),
		task("c", []string{"a", "b"}, withCreatedAt(3)),
		task("d", []string{"c"}, withCreatedAt(4)),
	}
	waves, err := AllWaves(tasks)
	require.NoError(t, err)
	require.Len(t, waves, 3)
	assert.Len(t, waves[0], 2)
	assert.Equal(t, "c", waves[1][0].ID)
	assert.Equal(t, "d", waves[2][0].ID)
}

func TestAllWaves_UnresolvedGraph(t *testing.T) {
	tasks := []*types.Task{
		task("a", []string{"b"}),
		task("b", []string{"a"}),
	}
	_, err := AllWaves(tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved graph")
}

func TestEndToEnd_TwoTaskSprint(t *testing.T) {
	a := task("a", nil, withCreatedAt(1))
	b := task("b", []string{"a"}, withCreatedAt(2))
	tasks := []*types.Task{a, b}

	wave := NextWave(tasks, 4)
	require.Len(t, wave, 1)
	assert.Equal(t, "a", wave[0].ID)

	a.Status = types.TaskStatusCompleted
	wave = NextWave(tasks, 4)
	require.Len(t, wave, 1)
	assert.Equal(t, "b", wave[0].ID)

	b.Status = types.TaskStatusCompleted
	assert.Empty(t, NextWave(tasks, 4))
}
