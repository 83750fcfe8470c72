package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloud-shuttle/foreman/internal/knowledge"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// ReconcileResult summarizes one consistency pass over in_progress tasks
type ReconcileResult struct {
	Completed []string `json:"completed,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Orphaned  []string `json:"orphaned,omitempty"`
}

// Reconcile cross-checks every in_progress task against the mail log.
// Mail wins: a completion message routes the task into validation and a
// failure message applies the retry rule, whatever the stored status
// said. Tasks stuck in_progress past the stale timeout with no mail at
// all are flagged as orphans for a human, never silently resolved.
func (o *Orchestrator) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	tasks, err := o.store.ListTasks()
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	staleBefore := time.Now().Add(-o.cfg.StaleTimeout).UnixNano()

	for _, task := range tasks {
		if task.Status != types.TaskStatusInProgress {
			continue
		}

		messages, err := o.store.ListMailForTask(task.ID)
		if err != nil {
			return nil, err
		}

		switch mailVerdict(messages) {
		case verdictCompleted:
			log.Printf("🔄 Reconcile: mail reports task %s finished, routing to validation", task.ID)
			if err := o.CompleteTask(ctx, task.ID); err != nil {
				if !errors.Is(err, ErrVerificationFailed) {
					return nil, err
				}
				result.Failed = append(result.Failed, task.ID)
				continue
			}
			result.Completed = append(result.Completed, task.ID)
		case verdictFailed:
			log.Printf("🔄 Reconcile: mail reports task %s failed, applying retry rule", task.ID)
			if _, err := o.escalator.HandleTaskFailure(ctx, task.ID, "worker reported failure by mail"); err != nil {
				return nil, err
			}
			result.Failed = append(result.Failed, task.ID)
		case verdictNone:
			if task.UpdatedAt < staleBefore {
				o.flagOrphan(ctx, task)
				result.Orphaned = append(result.Orphaned, task.ID)
			}
		}
	}
	return result, nil
}

type verdict int

const (
	verdictNone verdict = iota
	verdictCompleted
	verdictFailed
)

// mailVerdict scans a task's mail for an outcome report. The newest
// message wins when both kinds exist.
func mailVerdict(messages []*types.MailMessage) verdict {
	v := verdictNone
	for _, m := range messages {
		subject := strings.ToLower(m.Subject)
		switch {
		case strings.Contains(subject, "completed"), strings.Contains(subject, "finished"):
			v = verdictCompleted
		case strings.Contains(subject, "failed"), strings.Contains(subject, "error"):
			v = verdictFailed
		}
	}
	return v
}

// flagOrphan surfaces a task with no mail trail to the human. The task
// status is left untouched so nothing gets invented.
func (o *Orchestrator) flagOrphan(ctx context.Context, task *types.Task) {
	reason := fmt.Sprintf("task %s has been in_progress past the stale timeout with no mail trail", task.ID)
	log.Printf("🚨 Reconcile: %s", reason)

	sprint, err := o.store.GetSprint(task.SprintID)
	if err != nil {
		log.Printf("Error resolving sprint for orphan %s: %v", task.ID, err)
		return
	}
	if err := o.store.SetGoalHITL(sprint.GoalID, true, reason); err != nil {
		log.Printf("Error flagging orphan %s: %v", task.ID, err)
		return
	}
	if o.knowledge != nil {
		if _, err := o.knowledge.CreateRecord(ctx, reason, knowledge.RecordTypeEscalation, o.cfg.ProjectID,
			[]string{"orphan", "reconcile"}); err != nil {
			log.Printf("Error recording orphan %s: %v", task.ID, err)
		}
	}
}
