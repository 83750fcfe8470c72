// Package graph provides dependency bookkeeping and wave scheduling over
// task snapshots. All inputs are disposable snapshots read from storage;
// the package holds no state of its own.
package graph

import (
	"fmt"
	"sort"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// IssueKind classifies a problem found by DAG validation
type IssueKind string

const (
	IssueMissingDependency IssueKind = "missing_dependency"
	IssueCycle             IssueKind = "cycle"
	IssueFileOverlap       IssueKind = "file_overlap"
)

// Issue is one problem surfaced by Validate
type Issue struct {
	Kind    IssueKind `json:"kind"`
	TaskIDs []string  `json:"task_ids"`
	Detail  string    `json:"detail"`
}

// Report is the result of a single validation pass
type Report struct {
	Issues []Issue `json:"issues"`

	// Cycles holds each detected cycle as the ordered node path that
	// closes it; the last element depends on the first
	Cycles [][]string `json:"cycles,omitempty"`
}

// Valid reports whether the graph has no fatal issues. File overlaps are
// a design smell, not fatal.
func (r *Report) Valid() bool {
	for _, issue := range r.Issues {
		if issue.Kind != IssueFileOverlap {
			return false
		}
	}
	return true
}

// Validate checks a task graph in a single pass: dangling dependency
// references, cycles, and overlapping file scopes with no ordering edge.
func Validate(tasks []*types.Task) *Report {
	report := &Report{}
	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	// Dangling references
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				report.Issues = append(report.Issues, Issue{
					Kind:    IssueMissingDependency,
					TaskIDs: []string{t.ID},
					Detail:  fmt.Sprintf("task %s depends on %s, which does not exist", t.ID, dep),
				})
			}
		}
	}

	// Cycles via depth-first search retaining the active path
	report.Cycles = findCycles(tasks, byID)
	for _, cycle := range report.Cycles {
		report.Issues = append(report.Issues, Issue{
			Kind:    IssueCycle,
			TaskIDs: cycle,
			Detail:  fmt.Sprintf("dependency cycle: %v", cycle),
		})
	}

	// Overlapping file scopes with no edge between the pair
	for _, pair := range DetectFileOverlaps(tasks) {
		report.Issues = append(report.Issues, Issue{
			Kind:    IssueFileOverlap,
			TaskIDs: []string{pair.EarlierID, pair.LaterID},
			Detail: fmt.Sprintf("tasks %s and %s both write %s with no ordering edge",
				pair.EarlierID, pair.LaterID, pair.File),
		})
	}

	return report
}

// findCycles runs DFS from every unvisited node. A repeated node on the
// active path closes a cycle; the returned path starts at the repeated
// node and ends at the node whose edge closed it.
func findCycles(tasks []*types.Task, byID map[string]*types.Task) [][]string {
	const (
		unvisited = 0
		active    = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))
	var cycles [][]string

	// Stable iteration so repeated runs report cycles identically
	ordered := make([]*types.Task, len(tasks))
	copy(ordered, tasks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var path []string
	var visit func(id string)
	visit = func(id string) {
		state[id] = active
		path = append(path, id)

		task := byID[id]
		deps := append([]string(nil), task.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := byID[dep]; !ok {
				continue // dangling edge already reported
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case active:
				// dep is on the active path: slice from its first
				// occurrence to here
				for i, node := range path {
					if node == dep {
						cycle := append([]string(nil), path[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
	}

	for _, t := range ordered {
		if state[t.ID] == unvisited {
			visit(t.ID)
		}
	}
	return cycles
}

// OverlapPair is a pair of tasks that write the same file with no
// dependency edge between them, ordered by creation time
type OverlapPair struct {
	EarlierID  string
	LaterID    string
	File       string
	SameSprint bool
}

// DetectFileOverlaps finds pairs of tasks whose declared file scopes
// intersect and that have no edge between them in either direction
func DetectFileOverlaps(tasks []*types.Task) []OverlapPair {
	edges := make(map[string]bool)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			edges[t.ID+"->"+dep] = true
		}
	}
	connected := func(a, b string) bool {
		return edges[a+"->"+b] || edges[b+"->"+a]
	}

	var pairs []OverlapPair
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			a, b := tasks[i], tasks[j]
			file := sharedFile(a.Files, b.Files)
			if file == "" || connected(a.ID, b.ID) {
				continue
			}
			earlier, later := a, b
			if later.CreatedAt < earlier.CreatedAt ||
				(later.CreatedAt == earlier.CreatedAt && later.ID < earlier.ID) {
				earlier, later = later, earlier
			}
			pairs = append(pairs, OverlapPair{
				EarlierID:  earlier.ID,
				LaterID:    later.ID,
				File:       file,
				SameSprint: a.SprintID == b.SprintID,
			})
		}
	}
	return pairs
}

func sharedFile(a, b []string) string {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if set[f] {
			return f
		}
	}
	return ""
}

// WouldCycle reports whether adding the edge from -> to would close a
// cycle, i.e. whether `to` already reaches `from` through existing edges
func WouldCycle(tasks []*types.Task, from, to string) bool {
	adj := make(map[string][]string)
	for _, t := range tasks {
		adj[t.ID] = append([]string(nil), t.DependsOn...)
	}

	seen := map[string]bool{}
	var reach func(id string) bool
	reach = func(id string) bool {
		if id == from {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		for _, next := range adj[id] {
			if reach(next) {
				return true
			}
		}
		return false
	}
	return reach(to)
}

// SprintNode adapts a sprint to the task-shaped snapshot Validate works
// on, so sprint-level dependencies get the same cycle detection and
// recovery as task-level ones.
func SprintNode(sprint *types.Sprint) *types.Task {
	return &types.Task{
		ID:        sprint.ID,
		SprintID:  sprint.GoalID,
		Name:      sprint.Name,
		DependsOn: sprint.DependsOn,
		CreatedAt: sprint.CreatedAt,
	}
}

// ValidateSprints runs the task-level validation over sprint dependency
// edges
func ValidateSprints(sprints []*types.Sprint) *Report {
	nodes := make([]*types.Task, len(sprints))
	for i, sp := range sprints {
		nodes[i] = SprintNode(sp)
	}
	return Validate(nodes)
}
