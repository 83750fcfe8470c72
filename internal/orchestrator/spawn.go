package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/events"
	"github.com/cloud-shuttle/foreman/internal/gate"
	"github.com/cloud-shuttle/foreman/internal/graph"
	"github.com/cloud-shuttle/foreman/internal/mail"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Spawner runs one worker agent against a task. The prompt it receives
// has already passed the blind wall; implementations must not add
// context of their own.
type Spawner interface {
	Run(ctx context.Context, task *types.Task, role types.Role, prompt string) error
}

// SpawnerFunc adapts a function to the Spawner interface
type SpawnerFunc func(ctx context.Context, task *types.Task, role types.Role, prompt string) error

func (f SpawnerFunc) Run(ctx context.Context, task *types.Task, role types.Role, prompt string) error {
	return f(ctx, task, role, prompt)
}

// workerPair returns the two roles spawned for a ready task: the task's
// own role plus an independent verifier
func workerPair(task *types.Task) []types.Role {
	if task.Role == types.RoleTester {
		return []types.Role{types.RoleTester, types.RoleQualityValidator}
	}
	return []types.Role{task.Role, types.RoleTester}
}

// DispatchWave computes the next wave and spawns its workers. The
// decision itself is single-threaded: the wave is derived from one read
// of the store, then execution fans out through a bounded pool of
// maxParallelTasks x workersPerTask workers. It returns the number of
// tasks dispatched; zero with no error means nothing is ready.
func (o *Orchestrator) DispatchWave(ctx context.Context) (int, error) {
	tasks, err := o.store.ListTasks()
	if err != nil {
		return 0, err
	}

	report := graph.Validate(tasks)
	if !report.Valid() {
		if len(report.Cycles) > 0 {
			goal, gerr := o.store.GetActiveGoal(o.cfg.ProjectID)
			if gerr != nil {
				return 0, gerr
			}
			if rerr := o.escalator.RecoverCycle(ctx, goal.ID, report.Cycles[0]); rerr != nil {
				return 0, fmt.Errorf("dependency graph invalid: %w", rerr)
			}
			// Repaired; recompute on the next cycle.
			return 0, nil
		}
		return 0, fmt.Errorf("dependency graph invalid: %s", report.Issues[0].Detail)
	}

	resolved, err := o.resolveOverlaps(ctx, tasks)
	if err != nil {
		return 0, err
	}
	if resolved {
		if tasks, err = o.store.ListTasks(); err != nil {
			return 0, err
		}
	}

	wave := graph.NextWave(tasks, o.cfg.MaxParallelTasks)
	if len(wave) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallelTasks * o.cfg.WorkersPerTask)

	dispatched := 0
	for _, task := range wave {
		decision, err := o.gates.Check(ctx, gate.Request{
			Role:      types.RoleOrchestrator,
			Tool:      types.ToolSpawn,
			SpawnRole: task.Role,
			TaskID:    task.ID,
		})
		if err != nil {
			return dispatched, err
		}
		if !decision.Allowed {
			log.Printf("🚫 Task %s not dispatched: %s", task.ID, decision.Reason)
			o.publish(ctx, events.New(events.KindGateBlocked, task.ID, "",
				map[string]any{"gate": decision.GateID, "reason": decision.Reason}))
			continue
		}

		if err := o.StartTask(task.ID); err != nil {
			return dispatched, err
		}
		dispatched++
		o.publish(ctx, events.New(events.KindTaskStarted, task.ID, "", nil))

		task := task
		for _, role := range workerPair(task) {
			role := role
			g.Go(func() error {
				return o.runWorker(gctx, task, role)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	if dispatched > 0 {
		o.publish(ctx, events.New(events.KindWaveDispatched, "", "",
			map[string]any{"tasks": dispatched}))
	}
	return dispatched, nil
}

// resolveOverlaps orders same-sprint tasks that write overlapping files
// by inserting a dependency from the later-created task onto the earlier
// one. An insertion that would close a cycle goes to cycle recovery
// instead of being guessed at. Cross-sprint overlaps are surfaced by
// validation but never auto-ordered.
func (o *Orchestrator) resolveOverlaps(ctx context.Context, tasks []*types.Task) (bool, error) {
	changed := false
	for _, pair := range graph.DetectFileOverlaps(tasks) {
		if !pair.SameSprint {
			continue
		}
		if graph.WouldCycle(tasks, pair.LaterID, pair.EarlierID) {
			goal, err := o.store.GetActiveGoal(o.cfg.ProjectID)
			if err != nil {
				return changed, err
			}
			if err := o.escalator.RecoverCycle(ctx, goal.ID, []string{pair.EarlierID, pair.LaterID}); err != nil {
				return changed, err
			}
			continue
		}
		if err := o.store.AddDependency(pair.LaterID, pair.EarlierID); err != nil {
			return changed, err
		}
		// Keep the snapshot current so later pairs see this edge.
		for _, t := range tasks {
			if t.ID == pair.LaterID {
				t.DependsOn = append(t.DependsOn, pair.EarlierID)
				break
			}
		}
		log.Printf("🔧 Ordered %s after %s: both write %s", pair.LaterID, pair.EarlierID, pair.File)
		changed = true
	}
	return changed, nil
}

// runWorker assembles the blind-walled context for one worker and runs
// it. Worker failure feeds the retry rule rather than aborting the
// wave.
func (o *Orchestrator) runWorker(ctx context.Context, task *types.Task, role types.Role) error {
	bundle, err := o.contextBundle(task)
	if err != nil {
		return err
	}
	prompt := mail.Render(mail.FilterForRole(role, bundle))

	agent := fmt.Sprintf("%s-%s", role, task.ID)
	if err := o.store.UpsertAgentStatus(agent, role, db.AgentStatusWorking, task.ID); err != nil {
		log.Printf("Error recording agent status: %v", err)
	}
	defer func() {
		if err := o.store.UpsertAgentStatus(agent, role, db.AgentStatusIdle, ""); err != nil {
			log.Printf("Error recording agent status: %v", err)
		}
	}()

	if err := o.spawner.Run(ctx, task, role, prompt); err != nil {
		log.Printf("❌ Worker %s on task %s failed: %v", role, task.ID, err)
		if errors.Is(err, ErrVerificationFailed) {
			// CompleteTask already applied the retry rule.
			return nil
		}
		if _, ferr := o.escalator.HandleTaskFailure(ctx, task.ID, err.Error()); ferr != nil {
			return ferr
		}
	}
	return nil
}

// contextBundle gathers everything a worker could be shown for a task.
// The blind wall filters it per role before any prompt is assembled.
func (o *Orchestrator) contextBundle(task *types.Task) (mail.ContextBundle, error) {
	goal, err := o.store.GetActiveGoal(o.cfg.ProjectID)
	if err != nil {
		return nil, err
	}

	bundle := mail.ContextBundle{
		types.FieldGoal:      goal.Description,
		types.FieldTaskBrief: fmt.Sprintf("%s\n%s", task.Name, task.Description),
	}
	if task.ValidatorFeedback != "" {
		bundle[types.FieldValidatorFeedback] = task.ValidatorFeedback
	}
	return bundle, nil
}

// Run drives decision cycles until the graph is exhausted or a human is
// needed. Each cycle reconciles stored state against the mail log
// before computing the next wave.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hitl, reason, err := o.HITLRequired()
		if err != nil {
			return err
		}
		if hitl {
			return fmt.Errorf("orchestration paused for human intervention: %s", reason)
		}

		if _, err := o.Reconcile(ctx); err != nil {
			return err
		}

		dispatched, err := o.DispatchWave(ctx)
		if err != nil {
			return err
		}
		if dispatched > 0 {
			continue
		}

		status, err := o.store.GetProjectStatus()
		if err != nil {
			return err
		}
		if status.Pending+status.InProgress+status.Validating == 0 {
			log.Printf("🐂 All waves dispatched: %d completed, %d failed, %d hitl",
				status.Completed, status.Failed, status.HITL)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}
