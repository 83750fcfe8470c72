// Package orchestrator glues the task graph, scheduler, validation
// pipeline, gate engine, and mail bus into the decision loop that
// drives a goal from planning to completion. The orchestrator holds no
// authoritative state of its own; every decision re-reads the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloud-shuttle/foreman/internal/approval"
	"github.com/cloud-shuttle/foreman/internal/config"
	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/escalation"
	"github.com/cloud-shuttle/foreman/internal/events"
	"github.com/cloud-shuttle/foreman/internal/gate"
	"github.com/cloud-shuttle/foreman/internal/knowledge"
	"github.com/cloud-shuttle/foreman/internal/mail"
	"github.com/cloud-shuttle/foreman/internal/validation"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Orchestrator coordinates the agent fleet for one project
type Orchestrator struct {
	store     *db.Store
	cfg       *config.Config
	bus       *mail.Bus
	gates     *gate.Engine
	pipeline  *validation.Pipeline
	escalator *escalation.Escalator
	tokens    *approval.Manager
	runner    *validation.Runner
	knowledge knowledge.Store
	spawner   Spawner
	events    *events.Bus
}

// New wires an orchestrator over the project's store
func New(store *db.Store, cfg *config.Config, ks knowledge.Store, spawner Spawner) *Orchestrator {
	escalator := escalation.NewEscalator(store, ks, cfg.ProjectID)
	return &Orchestrator{
		store:     store,
		cfg:       cfg,
		bus:       mail.NewBus(store, ks, cfg.ProjectID),
		gates:     gate.NewEngine(store, cfg.ProjectID, cfg.ProtectedPaths, cfg.ManagedDatabases),
		pipeline:  validation.NewPipeline(store, escalator),
		escalator: escalator,
		tokens:    approval.NewManager(cfg.TokenDir),
		runner:    validation.NewRunner(".", cfg.CommandTimeout),
		knowledge: ks,
		spawner:   spawner,
		events:    events.NewBus(),
	}
}

// Events exposes the lifecycle event stream for front ends
func (o *Orchestrator) Events() *events.Bus { return o.events }

// publish emits a best-effort lifecycle event
func (o *Orchestrator) publish(ctx context.Context, event *events.Event) {
	if err := o.events.Publish(ctx, event); err != nil {
		log.Printf("Error publishing event %s: %v", event.Kind, err)
	}
}

// Bus exposes the mail bus for callers that relay agent messages
func (o *Orchestrator) Bus() *mail.Bus { return o.bus }

// Gates exposes the enforcement engine for tool-call interception
func (o *Orchestrator) Gates() *gate.Engine { return o.gates }

// Tokens exposes the approval token manager. Generate must only be
// called from human-invoked entry points.
func (o *Orchestrator) Tokens() *approval.Manager { return o.tokens }

// SetGoal creates the active goal for the project. The tier is locked
// at creation; a second active goal is rejected by the store.
func (o *Orchestrator) SetGoal(description string, tier types.Tier) (*types.Goal, error) {
	goal, err := o.store.CreateGoal(o.cfg.ProjectID, description, tier)
	if err != nil {
		return nil, err
	}
	log.Printf("🎯 Goal %s set at tier %s: %s", goal.ID, tier, description)
	return goal, nil
}

// AdvancePhase moves the active goal to the next phase in the strict
// progression. A jump past the next phase is rejected outright; an
// unmet precondition is returned so the caller knows what to satisfy.
func (o *Orchestrator) AdvancePhase(ctx context.Context, target types.Phase) error {
	goal, err := o.store.GetActiveGoal(o.cfg.ProjectID)
	if err != nil {
		return err
	}

	next, err := goal.Phase.Next()
	if err != nil {
		return err
	}
	if target != next {
		return fmt.Errorf("cannot advance from %s to %s: next phase is %s", goal.Phase, target, next)
	}

	if err := o.phasePrecondition(ctx, goal, next); err != nil {
		return err
	}
	if err := o.store.SetGoalPhase(goal.ID, next); err != nil {
		return err
	}
	log.Printf("🎯 Goal %s advanced to %s", goal.ID, next)
	o.publish(ctx, events.New(events.KindPhaseAdvanced, "", goal.ID,
		map[string]any{"phase": string(next)}))

	if next == types.PhaseComplete {
		if err := o.store.SetGoalStatus(goal.ID, types.GoalStatusComplete); err != nil {
			return err
		}
	}
	return nil
}

// phasePrecondition names the unmet requirement blocking a phase change
func (o *Orchestrator) phasePrecondition(ctx context.Context, goal *types.Goal, next types.Phase) error {
	switch next {
	case types.PhaseApproved:
		if goal.Tier != types.TierMinimal && !goal.SpecApproved {
			return fmt.Errorf("cannot enter %s: spec is not approved; a human must run approve with a fresh token", next)
		}
	case types.PhaseValidating:
		status, err := o.store.GetProjectStatus()
		if err != nil {
			return err
		}
		open := status.Pending + status.InProgress + status.Validating + status.Blocked
		if open > 0 {
			return fmt.Errorf("cannot enter %s: %d tasks are still open", next, open)
		}
		if status.HITL > 0 {
			return fmt.Errorf("cannot enter %s: %d tasks await human resolution", next, status.HITL)
		}
	case types.PhaseComplete:
		if goal.HITLRequired {
			return fmt.Errorf("cannot complete goal: human intervention pending: %s", goal.HITLReason)
		}
		decision, err := o.gates.CheckGoalCompletion(ctx, o.runner, o.cfg.CompletionCommands)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return fmt.Errorf("cannot complete goal: %s", decision.Reason)
		}
	}
	return nil
}

// ApproveSpec marks the active goal's spec approved. This is the only
// code path that sets the flag, and it requires consuming a valid
// single-use human token first.
func (o *Orchestrator) ApproveSpec(tokenValue string) error {
	goal, err := o.store.GetActiveGoal(o.cfg.ProjectID)
	if err != nil {
		return err
	}
	if err := o.tokens.Consume(tokenValue); err != nil {
		return fmt.Errorf("spec approval refused: %w", err)
	}
	if err := o.store.SetSpecApproved(goal.ID); err != nil {
		return err
	}
	log.Printf("✅ Spec approved for goal %s", goal.ID)
	return nil
}

// StartTask moves a pending task with satisfied dependencies into
// in_progress
func (o *Orchestrator) StartTask(taskID string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskStatusPending {
		return fmt.Errorf("task %s is %s, only pending tasks start", taskID, task.Status)
	}

	for _, dep := range task.DependsOn {
		depTask, err := o.store.GetTask(dep)
		if err != nil {
			return fmt.Errorf("resolving dependency %s: %w", dep, err)
		}
		if !depTask.Status.IsTerminal() {
			return fmt.Errorf("task %s cannot start: dependency %s is %s", taskID, dep, depTask.Status)
		}
	}
	if err := o.store.UpdateTaskStatus(taskID, types.TaskStatusInProgress, ""); err != nil {
		return err
	}
	log.Printf("👷 Task %s started", taskID)
	return nil
}

// ErrVerificationFailed marks a task whose verify commands did not all
// pass. The task has already gone through the retry rule when this is
// returned.
var ErrVerificationFailed = errors.New("verification failed")

// CompleteTask routes a finished task toward completion. The task's
// verify commands run first; a failing command counts as a task failure
// and goes through the retry rule. Roles with mapped validators enter
// the validating state; completion happens only after every mandatory
// validator passes.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}

	if len(task.VerifyCommands) > 0 {
		results, passed := o.runner.RunAll(ctx, task.VerifyCommands)
		if !passed {
			reason := verifyFailureReason(results)
			if err := o.FailTask(ctx, taskID, reason); err != nil {
				return err
			}
			return fmt.Errorf("task %s: %w: %s", taskID, ErrVerificationFailed, reason)
		}
		log.Printf("🔍 Task %s passed %d verify commands", taskID, len(results))
	}

	if len(types.ValidatorsFor(task.Role)) == 0 {
		decision, err := o.gates.CheckTaskCompletion(task)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return fmt.Errorf("completion blocked by %s: %s", decision.GateID, decision.Reason)
		}
	}
	if err := o.pipeline.SubmitForValidation(taskID); err != nil {
		return err
	}
	o.publishTaskOutcome(ctx, taskID)
	return o.settleSprint(task.SprintID)
}

// verifyFailureReason names the first failing verification command
func verifyFailureReason(results []validation.CommandResult) string {
	for _, result := range results {
		if result.Passed {
			continue
		}
		if result.TimedOut {
			return fmt.Sprintf("verify command timed out: %s", result.Command)
		}
		return fmt.Sprintf("verify command failed: %s", result.Command)
	}
	return "verification failed"
}

// publishTaskOutcome emits the event matching where the validation
// pipeline routed a task
func (o *Orchestrator) publishTaskOutcome(ctx context.Context, taskID string) {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return
	}
	switch task.Status {
	case types.TaskStatusValidating:
		o.publish(ctx, events.New(events.KindTaskValidating, taskID, "", nil))
	case types.TaskStatusCompleted:
		o.publish(ctx, events.New(events.KindTaskCompleted, taskID, "", nil))
	}
}

// FailTask applies the retry rule to a failed task
func (o *Orchestrator) FailTask(ctx context.Context, taskID, errorMsg string) error {
	escalated, err := o.escalator.HandleTaskFailure(ctx, taskID, errorMsg)
	if err != nil {
		return err
	}
	kind := events.KindTaskFailed
	if escalated {
		kind = events.KindTaskEscalated
	}
	o.publish(ctx, events.New(kind, taskID, "", map[string]any{"error": errorMsg}))
	return nil
}

// RecordValidation records one validator's verdict. The last passing
// mandatory verdict completes the task, which may in turn complete its
// sprint.
func (o *Orchestrator) RecordValidation(ctx context.Context, taskID string, validator types.Role, passed bool, feedback string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if err := o.pipeline.RecordVerdict(ctx, taskID, validator, passed, feedback); err != nil {
		return err
	}
	o.publishTaskOutcome(ctx, taskID)
	return o.settleSprint(task.SprintID)
}

// settleSprint marks a sprint completed once every task in it is
// terminal
func (o *Orchestrator) settleSprint(sprintID string) error {
	done, err := o.store.IsSprintComplete(sprintID)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	sprint, err := o.store.GetSprint(sprintID)
	if err != nil {
		return err
	}
	if sprint.Status == types.SprintStatusCompleted {
		return nil
	}
	if err := o.store.UpdateSprintStatus(sprintID, types.SprintStatusCompleted); err != nil {
		return err
	}
	log.Printf("📊 Sprint %s completed", sprintID)
	return nil
}

// Escalate files a deliberate escalation, requiring structured evidence
func (o *Orchestrator) Escalate(ctx context.Context, taskID string, evidence *escalation.Evidence) error {
	return o.escalator.Escalate(ctx, taskID, evidence)
}

// HITLRequired reports whether the active goal awaits a human decision
func (o *Orchestrator) HITLRequired() (bool, string, error) {
	goal, err := o.store.GetActiveGoal(o.cfg.ProjectID)
	if err != nil {
		return false, "", err
	}
	return goal.HITLRequired, goal.HITLReason, nil
}

// HITLResolution is a human's verdict on an escalated task
type HITLResolution string

const (
	ResolveApprove HITLResolution = "approve" // accept the work as done
	ResolveRetry   HITLResolution = "retry"   // reset counters and requeue
	ResolveReject  HITLResolution = "reject"  // mark permanently failed
	ResolveSkip    HITLResolution = "skip"    // drop from the graph
)

// ResolveHITL applies a human decision to a task in hitl and clears the
// goal's intervention flag
func (o *Orchestrator) ResolveHITL(ctx context.Context, taskID string, resolution HITLResolution) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskStatusHITL {
		return fmt.Errorf("task %s is %s, not awaiting human resolution", taskID, task.Status)
	}

	switch resolution {
	case ResolveApprove:
		if err := o.store.UpdateTaskStatus(taskID, types.TaskStatusCompleted, ""); err != nil {
			return err
		}
	case ResolveRetry:
		if err := o.store.ResetTaskForRetry(taskID); err != nil {
			return err
		}
	case ResolveReject:
		if err := o.store.UpdateTaskStatus(taskID, types.TaskStatusFailed, "rejected by human review"); err != nil {
			return err
		}
	case ResolveSkip:
		if err := o.store.UpdateTaskStatus(taskID, types.TaskStatusSkipped, ""); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown resolution: %s", resolution)
	}
	log.Printf("🧑 Task %s resolved by human: %s", taskID, resolution)

	sprint, err := o.store.GetSprint(task.SprintID)
	if err != nil {
		return err
	}
	if err := o.store.SetGoalHITL(sprint.GoalID, false, ""); err != nil {
		return err
	}
	return o.settleSprint(task.SprintID)
}

// FileBug records a new defect
func (o *Orchestrator) FileBug(title string, severity types.BugSeverity, taskID string, maxCycles int) (*types.Bug, error) {
	bug, err := o.store.CreateBug(title, severity, taskID, maxCycles)
	if err != nil {
		return nil, err
	}
	log.Printf("🐛 Bug %s filed (%s): %s", bug.ID, severity, title)
	return bug, nil
}

// AssignBug hands a bug to an agent and moves it to fixing
func (o *Orchestrator) AssignBug(bugID, agent string) error {
	return o.store.AssignBug(bugID, agent)
}

// CloseBug marks a bug resolved
func (o *Orchestrator) CloseBug(bugID string) error {
	return o.store.UpdateBugStatus(bugID, types.BugStatusClosed)
}

// ReopenBug counts one more fix/verify cycle. Past the cycle ceiling
// the bug escalates to hitl instead of looping.
func (o *Orchestrator) ReopenBug(ctx context.Context, bugID string) error {
	cycles, err := o.store.IncrementBugCycle(bugID)
	if err != nil {
		return err
	}
	bug, err := o.store.GetBug(bugID)
	if err != nil {
		return err
	}

	if cycles >= bug.MaxCycles {
		if err := o.store.UpdateBugStatus(bugID, types.BugStatusHITL); err != nil {
			return err
		}
		reason := fmt.Sprintf("bug %s reopened %d times, exceeds max cycles", bugID, cycles)
		log.Printf("🚨 %s", reason)
		if goal, err := o.store.GetActiveGoal(o.cfg.ProjectID); err == nil {
			if err := o.store.SetGoalHITL(goal.ID, true, reason); err != nil {
				return err
			}
		}
		if o.knowledge != nil {
			if _, err := o.knowledge.CreateRecord(ctx, reason, knowledge.RecordTypeEscalation, o.cfg.ProjectID,
				[]string{"bug", "hitl"}); err != nil {
				log.Printf("Error recording bug escalation: %v", err)
			}
		}
		return nil
	}
	return o.store.UpdateBugStatus(bugID, types.BugStatusFixing)
}

// Status aggregates the goal and task rollup for display
type Status struct {
	Goal  *types.Goal          `json:"goal"`
	Tasks *types.ProjectStatus `json:"tasks"`
}

// GetStatus returns the current goal and task rollup
func (o *Orchestrator) GetStatus() (*Status, error) {
	goal, err := o.store.GetActiveGoal(o.cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	tasks, err := o.store.GetProjectStatus()
	if err != nil {
		return nil, err
	}
	return &Status{Goal: goal, Tasks: tasks}, nil
}
