package escalation

import (
	"context"
	"fmt"
	"log"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/graph"
	"github.com/cloud-shuttle/foreman/internal/knowledge"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Escalator applies the retry/HITL policy to task failures and records
// escalations durably
type Escalator struct {
	store     *db.Store
	knowledge knowledge.Store
	projectID string
}

// NewEscalator creates an Escalator bound to a project's store
func NewEscalator(store *db.Store, ks knowledge.Store, projectID string) *Escalator {
	return &Escalator{store: store, knowledge: ks, projectID: projectID}
}

// HandleTaskFailure applies the retry rule to a failed task: below the
// retry ceiling the task returns to pending for a transparent retry; at
// or above it the task moves to hitl and the goal is flagged for human
// intervention with the recorded reason. A task never silently lands in
// failed without human visibility.
//
// Returns true when the failure escalated to hitl.
func (e *Escalator) HandleTaskFailure(ctx context.Context, taskID, errorMsg string) (bool, error) {
	retries, err := e.store.IncrementTaskRetries(taskID)
	if err != nil {
		return false, fmt.Errorf("recording failure: %w", err)
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return false, fmt.Errorf("fetching task: %w", err)
	}

	if retries < task.MaxRetries {
		if err := e.store.UpdateTaskStatus(taskID, types.TaskStatusPending, errorMsg); err != nil {
			return false, fmt.Errorf("requeueing task: %w", err)
		}
		log.Printf("🔄 Task %s retrying (attempt %d/%d)", taskID, retries+1, task.MaxRetries)
		return false, nil
	}

	reason := fmt.Sprintf("task %s exhausted %d retries: %s", taskID, task.MaxRetries, errorMsg)
	if err := e.escalateTask(ctx, task, reason); err != nil {
		return false, err
	}
	return true, nil
}

// HandleRejection applies the validator-rejection rule: below the
// rejection ceiling the task returns to pending with the validator's
// feedback attached; at the ceiling it escalates to hitl.
func (e *Escalator) HandleRejection(ctx context.Context, taskID, feedback string) (bool, error) {
	rejections, err := e.store.IncrementTaskRejections(taskID, feedback)
	if err != nil {
		return false, fmt.Errorf("recording rejection: %w", err)
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return false, fmt.Errorf("fetching task: %w", err)
	}

	if rejections < task.MaxRejections {
		if err := e.store.ClearValidations(taskID); err != nil {
			return false, err
		}
		if err := e.store.UpdateTaskStatus(taskID, types.TaskStatusPending, ""); err != nil {
			return false, fmt.Errorf("requeueing rejected task: %w", err)
		}
		log.Printf("🔄 Task %s rejected by validator (%d/%d), requeued with feedback", taskID, rejections, task.MaxRejections)
		return false, nil
	}

	reason := fmt.Sprintf("task %s rejected %d times by validators; last feedback: %s", taskID, rejections, feedback)
	if err := e.escalateTask(ctx, task, reason); err != nil {
		return false, err
	}
	return true, nil
}

// escalateTask moves a task to hitl and flags the goal
func (e *Escalator) escalateTask(ctx context.Context, task *types.Task, reason string) error {
	if err := e.store.UpdateTaskStatus(task.ID, types.TaskStatusHITL, reason); err != nil {
		return fmt.Errorf("moving task to hitl: %w", err)
	}

	sprint, err := e.store.GetSprint(task.SprintID)
	if err != nil {
		return err
	}
	if err := e.store.SetGoalHITL(sprint.GoalID, true, reason); err != nil {
		return err
	}

	log.Printf("🚨 Task %s escalated to HITL: %s", task.ID, reason)

	if e.knowledge != nil {
		if _, err := e.knowledge.CreateRecord(ctx, reason, knowledge.RecordTypeEscalation, e.projectID,
			[]string{"hitl", string(task.Role)}); err != nil {
			log.Printf("Error recording escalation: %v", err)
		}
	}
	return nil
}

// Escalate files a deliberate escalation with structured evidence. The
// evidence is validated first; a thin payload fails the call itself and
// leaves no state behind.
func (e *Escalator) Escalate(ctx context.Context, taskID string, evidence *Evidence) error {
	if evidence == nil {
		return fmt.Errorf("escalation requires evidence")
	}
	if err := evidence.Validate(); err != nil {
		return fmt.Errorf("rejecting escalation: %w", err)
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}

	reason := fmt.Sprintf("escalation for task %s\n%s", taskID, evidence.Summary())
	return e.escalateTask(ctx, task, reason)
}

// RecoverCycle attempts one automatic repair of a dependency cycle by
// removing the closing edge. Cycles with fewer than 3 nodes get no
// guesswork: they escalate to hitl.
//
// The cycle is the node path reported by graph.Validate: the last node
// depends on the first, so the closing edge is last -> first.
func (e *Escalator) RecoverCycle(ctx context.Context, goalID string, cycle []string) error {
	if len(cycle) < 3 {
		reason := fmt.Sprintf("dependency cycle %v too small for automatic repair", cycle)
		if err := e.store.SetGoalHITL(goalID, true, reason); err != nil {
			return err
		}
		log.Printf("🚨 Cycle recovery escalated to HITL: %s", reason)
		if e.knowledge != nil {
			if _, err := e.knowledge.CreateRecord(ctx, reason, knowledge.RecordTypeEscalation, e.projectID,
				[]string{"cycle", "hitl"}); err != nil {
				log.Printf("Error recording escalation: %v", err)
			}
		}
		return fmt.Errorf("cycle %v requires human repair", cycle)
	}

	last, first := cycle[len(cycle)-1], cycle[0]
	if err := e.store.RemoveDependency(last, first); err != nil {
		return fmt.Errorf("removing closing edge %s -> %s: %w", last, first, err)
	}
	log.Printf("🔧 Removed closing edge %s -> %s to break cycle %v", last, first, cycle)

	// Verify the repair actually resolved it
	tasks, err := e.store.ListTasks()
	if err != nil {
		return err
	}
	if report := graph.Validate(tasks); len(report.Cycles) > 0 {
		// More cycles remain; the caller re-runs recovery per cycle
		log.Printf("⚠️  Graph still has %d cycle(s) after repair", len(report.Cycles))
	}
	return nil
}
