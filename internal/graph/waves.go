package graph

import (
	"fmt"
	"sort"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// NextWave returns the tasks eligible to dispatch right now: pending
// tasks whose dependencies are all completed, in stable creation order,
// capped at (maxParallel - inProgressCount). Re-polling after partial
// completion is deterministic because the ordering never changes.
func NextWave(tasks []*types.Task, maxParallel int) []*types.Task {
	completed := make(map[string]bool)
	inProgress := 0
	for _, t := range tasks {
		switch t.Status {
		case types.TaskStatusCompleted, types.TaskStatusSkipped:
			completed[t.ID] = true
		case types.TaskStatusInProgress, types.TaskStatusValidating:
			inProgress++
		}
	}

	budget := maxParallel - inProgress
	if budget <= 0 {
		return nil
	}

	var ready []*types.Task
	for _, t := range tasks {
		if t.Status != types.TaskStatusPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].CreatedAt != ready[j].CreatedAt {
			return ready[i].CreatedAt < ready[j].CreatedAt
		}
		return ready[i].ID < ready[j].ID
	})

	if len(ready) > budget {
		ready = ready[:budget]
	}
	return ready
}

// AllWaves decomposes the whole graph into successive waves by repeating
// "collect ready set, mark it completed" on a scratch copy. Used only for
// visualization and testing. It must converge within len(tasks)+1
// iterations; anything longer means the graph cannot be fully scheduled
// (cycle or dangling dependency) and is reported as an error.
func AllWaves(tasks []*types.Task) ([][]*types.Task, error) {
	completed := make(map[string]bool)
	remaining := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			completed[t.ID] = true
		} else {
			remaining[t.ID] = t
		}
	}

	var waves [][]*types.Task
	for iter := 0; iter <= len(tasks); iter++ {
		if len(remaining) == 0 {
			return waves, nil
		}

		var wave []*types.Task
		for _, t := range remaining {
			ok := true
			for _, dep := range t.DependsOn {
				if !completed[dep] {
					ok = false
					break
				}
			}
			if ok {
				wave = append(wave, t)
			}
		}

		if len(wave) == 0 {
			break
		}

		sort.Slice(wave, func(i, j int) bool {
			if wave[i].CreatedAt != wave[j].CreatedAt {
				return wave[i].CreatedAt < wave[j].CreatedAt
			}
			return wave[i].ID < wave[j].ID
		})

		for _, t := range wave {
			completed[t.ID] = true
			delete(remaining, t.ID)
		}
		waves = append(waves, wave)
	}

	unresolved := make([]string, 0, len(remaining))
	for id := range remaining {
		unresolved = append(unresolved, id)
	}
	sort.Strings(unresolved)
	return waves, fmt.Errorf("unresolved graph: %d tasks never became ready: %v", len(unresolved), unresolved)
}
