package validation

import (
	"context"
	"fmt"
	"log"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/escalation"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Pipeline routes finished tasks through their role's validators.
// Results from independent validators are recorded separately; a task
// completes only when every mapped validator has a passing verdict.
type Pipeline struct {
	store     *db.Store
	escalator *escalation.Escalator
}

// NewPipeline creates a validation pipeline over the given store
func NewPipeline(store *db.Store, escalator *escalation.Escalator) *Pipeline {
	return &Pipeline{store: store, escalator: escalator}
}

// SubmitForValidation moves a finished task into the validating state.
// Roles with no mapped validators skip review and complete directly.
func (p *Pipeline) SubmitForValidation(taskID string) error {
	task, err := p.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("fetching task for validation: %w", err)
	}
	if task.Status != types.TaskStatusInProgress {
		return fmt.Errorf("task %s is %s, only in_progress tasks enter validation", taskID, task.Status)
	}

	validators := types.ValidatorsFor(task.Role)
	if len(validators) == 0 {
		if err := p.store.UpdateTaskStatus(taskID, types.TaskStatusCompleted, ""); err != nil {
			return fmt.Errorf("completing unvalidated task: %w", err)
		}
		log.Printf("✅ Task %s completed (role %s has no validators)", taskID, task.Role)
		return nil
	}

	if err := p.store.UpdateTaskStatus(taskID, types.TaskStatusValidating, ""); err != nil {
		return fmt.Errorf("submitting task for validation: %w", err)
	}
	log.Printf("🔍 Task %s awaiting verdicts from %v", taskID, validators)
	return nil
}

// RecordVerdict records one validator's verdict on a validating task.
// A failed verdict routes through the rejection policy immediately.
// A passing verdict completes the task once every mapped validator has
// a passing row on file.
func (p *Pipeline) RecordVerdict(ctx context.Context, taskID string, validator types.Role, passed bool, feedback string) error {
	task, err := p.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("fetching task for verdict: %w", err)
	}
	if task.Status != types.TaskStatusValidating {
		return fmt.Errorf("task %s is %s, verdicts only apply to validating tasks", taskID, task.Status)
	}
	if !isMappedValidator(task.Role, validator) {
		return fmt.Errorf("validator %s is not mapped for role %s", validator, task.Role)
	}

	verdict := ClassifyVerdict(string(validator), passed, feedback)
	if err := p.store.RecordValidation(taskID, validator, passed, feedback); err != nil {
		return fmt.Errorf("recording verdict: %w", err)
	}

	if verdict.GatesCompletion {
		log.Printf("❌ Task %s rejected by %s: %s", taskID, validator, feedback)
		if _, err := p.escalator.HandleRejection(ctx, taskID, feedback); err != nil {
			return err
		}
		return nil
	}
	if !passed {
		// Advisory finding only. Recorded for the log, never gates.
		log.Printf("📝 Task %s advisory feedback from %s: %s", taskID, validator, feedback)
		return nil
	}

	done, err := p.allValidatorsPassed(task)
	if err != nil {
		return err
	}
	if !done {
		log.Printf("🔍 Task %s verdict from %s recorded, awaiting remaining validators", taskID, validator)
		return nil
	}

	if err := p.store.UpdateTaskStatus(taskID, types.TaskStatusCompleted, ""); err != nil {
		return fmt.Errorf("completing validated task: %w", err)
	}
	log.Printf("✅ Task %s completed after validation", taskID)
	return nil
}

// allValidatorsPassed checks whether every mapped mandatory validator
// has a passing verdict on record for the task
func (p *Pipeline) allValidatorsPassed(task *types.Task) (bool, error) {
	results, err := p.store.ListValidations(task.ID)
	if err != nil {
		return false, fmt.Errorf("listing verdicts: %w", err)
	}

	passedBy := make(map[types.Role]bool, len(results))
	for _, r := range results {
		if r.Passed {
			passedBy[r.Validator] = true
		}
	}

	for _, v := range types.ValidatorsFor(task.Role) {
		if ClassifyTier(string(v)) != Tier1 {
			continue
		}
		if !passedBy[v] {
			return false, nil
		}
	}
	return true, nil
}

func isMappedValidator(role types.Role, validator types.Role) bool {
	for _, v := range types.ValidatorsFor(role) {
		if v == validator {
			return true
		}
	}
	return false
}
