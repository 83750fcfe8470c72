// Package db_test provides tests for the db package
package db_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

func setupTestDB(t *testing.T) *db.Store {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	return store
}

func setupSprint(t *testing.T, store *db.Store) *types.Sprint {
	t.Helper()

	goal, err := store.CreateGoal("proj-1", "Ship the thing", types.TierStandard)
	if err != nil {
		t.Fatalf("Failed to create goal: %v", err)
	}
	sprint, err := store.CreateSprint(goal.ID, "Sprint 1", 1, nil)
	if err != nil {
		t.Fatalf("Failed to create sprint: %v", err)
	}
	return sprint
}

func TestStore_CreateTask_WithDependencies(t *testing.T) {
	store := setupTestDB(t)
	sprint := setupSprint(t, store)

	a, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "Task A", Role: types.RoleImplementer,
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if a.Status != types.TaskStatusPending {
		t.Errorf("Expected status pending, got %s", a.Status)
	}

	b, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "Task B", Role: types.RoleTester,
		DependsOn: []string{a.ID},
	})
	if err != nil {
		t.Fatalf("CreateTask with dependency failed: %v", err)
	}

	got, err := store.GetTask(b.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != a.ID {
		t.Errorf("Expected depends_on [%s], got %v", a.ID, got.DependsOn)
	}
}

func TestStore_CreateTask_DanglingDependency(t *testing.T) {
	store := setupTestDB(t)
	sprint := setupSprint(t, store)

	_, err := store.CreateTask(db.TaskParams{
		SprintID: sprint.ID, Name: "Task", Role: types.RoleImplementer,
		DependsOn: []string{"task-does-not-exist"},
	})
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for dangling dependency, got %v", err)
	}

	// The failed insert must not leave a partial row behind
	tasks, err := store.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected no tasks after failed insert, got %d", len(tasks))
	}
}

func TestStore_CreateGoal_OneActivePerProject(t *testing.T) {
	store := setupTestDB(t)

	if _, err := store.CreateGoal("proj-1", "First goal", types.TierMinimal); err != nil {
		t.Fatalf("CreateGoal failed: %v", err)
	}
	_, err := store.CreateGoal("proj-1", "Second goal", types.TierFull)
	if !errors.Is(err, db.ErrGoalActive) {
		t.Fatalf("Expected ErrGoalActive, got %v", err)
	}

	// A different project is unaffected
	if _, err := store.CreateGoal("proj-2", "Other goal", types.TierFull); err != nil {
		t.Fatalf("CreateGoal for second project failed: %v", err)
	}
}

func TestStore_IsSprintComplete(t *testing.T) {
	store := setupTestDB(t)
	sprint := setupSprint(t, store)

	a, _ := store.CreateTask(db.TaskParams{SprintID: sprint.ID, Name: "A", Role: types.RoleImplementer})
	b, _ := store.CreateTask(db.TaskParams{SprintID: sprint.ID, Name: "B", Role: types.RoleImplementer})

	complete, err := store.IsSprintComplete(sprint.ID)
	if err != nil {
		t.Fatalf("IsSprintComplete failed: %v", err)
	}
	if complete {
		t.Error("Sprint with pending tasks should not be complete")
	}

	if err := store.UpdateTaskStatus(a.ID, types.TaskStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if err := store.UpdateTaskStatus(b.ID, types.TaskStatusSkipped, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	complete, err = store.IsSprintComplete(sprint.ID)
	if err != nil {
		t.Fatalf("IsSprintComplete failed: %v", err)
	}
	if !complete {
		t.Error("Sprint with all tasks completed/skipped should be complete")
	}
}

func TestStore_Mail_ConsumeInboxMarksRead(t *testing.T) {
	store := setupTestDB(t)

	sent, err := store.AppendMail("implementer", "tester", "handoff", "build is green", types.MailImportanceNormal, "")
	if err != nil {
		t.Fatalf("AppendMail failed: %v", err)
	}
	if sent.ThreadID == "" {
		t.Error("Expected a generated thread ID")
	}

	count, err := store.UnreadCount("tester")
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 unread, got %d", count)
	}

	inbox, err := store.ConsumeInbox("tester")
	if err != nil {
		t.Fatalf("ConsumeInbox failed: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(inbox))
	}
	if inbox[0].ReadAt == nil {
		t.Error("Expected delivered message to be marked read")
	}

	// At-most-once visible delivery: a second read returns nothing
	inbox, err = store.ConsumeInbox("tester")
	if err != nil {
		t.Fatalf("Second ConsumeInbox failed: %v", err)
	}
	if len(inbox) != 0 {
		t.Errorf("Expected empty inbox on second read, got %d messages", len(inbox))
	}
}

func TestStore_Mail_ThreadHistoryPreserved(t *testing.T) {
	store := setupTestDB(t)

	first, _ := store.AppendMail("a", "b", "s1", "first", types.MailImportanceNormal, "")
	store.AppendMail("b", "a", "s2", "second", types.MailImportanceNormal, first.ThreadID)
	store.ConsumeInbox("b")

	thread, err := store.ListThread(first.ThreadID)
	if err != nil {
		t.Fatalf("ListThread failed: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("Expected 2 messages in thread, got %d", len(thread))
	}
	if thread[0].Body != "first" {
		t.Errorf("Expected oldest-first ordering, got %q first", thread[0].Body)
	}
}

func TestStore_Mail_RapidAppendsKeepOrder(t *testing.T) {
	store := setupTestDB(t)

	// Messages written back to back must come out in write order, even
	// when they land within the same wall-clock second.
	first, err := store.AppendMail("a", "b", "s0", "msg-0", types.MailImportanceNormal, "")
	if err != nil {
		t.Fatalf("AppendMail failed: %v", err)
	}
	for i := 1; i < 10; i++ {
		if _, err := store.AppendMail("a", "b", "s", fmt.Sprintf("msg-%d", i),
			types.MailImportanceNormal, first.ThreadID); err != nil {
			t.Fatalf("AppendMail %d failed: %v", i, err)
		}
	}

	thread, err := store.ListThread(first.ThreadID)
	if err != nil {
		t.Fatalf("ListThread failed: %v", err)
	}
	if len(thread) != 10 {
		t.Fatalf("Expected 10 messages, got %d", len(thread))
	}
	for i, msg := range thread {
		if want := fmt.Sprintf("msg-%d", i); msg.Body != want {
			t.Errorf("Position %d: expected %q, got %q", i, want, msg.Body)
		}
	}
}

func TestStore_Validations_RecordAndReplace(t *testing.T) {
	store := setupTestDB(t)
	sprint := setupSprint(t, store)
	task, _ := store.CreateTask(db.TaskParams{SprintID: sprint.ID, Name: "T", Role: types.RoleImplementer})

	if err := store.RecordValidation(task.ID, types.RoleSpecValidator, false, "missing edge case"); err != nil {
		t.Fatalf("RecordValidation failed: %v", err)
	}
	// Re-recording the same validator replaces the verdict
	if err := store.RecordValidation(task.ID, types.RoleSpecValidator, true, ""); err != nil {
		t.Fatalf("RecordValidation replace failed: %v", err)
	}

	results, err := store.ListValidations(task.ID)
	if err != nil {
		t.Fatalf("ListValidations failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 verdict, got %d", len(results))
	}
	if !results[0].Passed {
		t.Error("Expected replaced verdict to be a pass")
	}
}

func TestStore_EnforcementLog_AppendOnly(t *testing.T) {
	store := setupTestDB(t)

	err := store.AppendEnforcementDecision(db.EnforcementDecision{
		GateID:  "layer0",
		Tool:    types.ToolWrite,
		Target:  "hooks/gate.sh",
		Role:    types.RoleImplementer,
		Allowed: false,
		Reason:  "absolute blocklist",
	})
	if err != nil {
		t.Fatalf("AppendEnforcementDecision failed: %v", err)
	}

	decisions, err := store.ListEnforcementDecisions(10)
	if err != nil {
		t.Fatalf("ListEnforcementDecisions failed: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("Expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Allowed {
		t.Error("Expected recorded decision to be a block")
	}
}

func TestStore_Override_FileCap(t *testing.T) {
	store := setupTestDB(t)

	session, err := store.CreateOverride("hotfix prod outage", types.TierStandard, 2, 9999999999)
	if err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.IncrementOverrideFiles(session.ID); err != nil {
			t.Fatalf("IncrementOverrideFiles failed: %v", err)
		}
	}

	got, err := store.GetOverride(session.ID)
	if err != nil {
		t.Fatalf("GetOverride failed: %v", err)
	}
	if got.Active(0) {
		t.Error("Session at its file cap should not be active")
	}
}

func TestStore_Bug_CycleCounter(t *testing.T) {
	store := setupTestDB(t)

	bug, err := store.CreateBug("crash on empty input", types.BugSeverityHigh, "", 3)
	if err != nil {
		t.Fatalf("CreateBug failed: %v", err)
	}

	count, err := store.IncrementBugCycle(bug.ID)
	if err != nil {
		t.Fatalf("IncrementBugCycle failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected cycle count 1, got %d", count)
	}
}

func TestStore_AgentStatus_UpsertReplaces(t *testing.T) {
	store := setupTestDB(t)

	if err := store.UpsertAgentStatus("implementer-task-1", types.RoleImplementer, db.AgentStatusWorking, "task-1"); err != nil {
		t.Fatalf("UpsertAgentStatus failed: %v", err)
	}
	if err := store.UpsertAgentStatus("implementer-task-1", types.RoleImplementer, db.AgentStatusIdle, ""); err != nil {
		t.Fatalf("UpsertAgentStatus failed: %v", err)
	}

	statuses, err := store.ListAgentStatuses()
	if err != nil {
		t.Fatalf("ListAgentStatuses failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("Expected a single row per agent, got %d", len(statuses))
	}
	if statuses[0].Status != db.AgentStatusIdle {
		t.Errorf("Expected idle, got %s", statuses[0].Status)
	}
	if statuses[0].TaskID != "" {
		t.Errorf("Expected no task, got %s", statuses[0].TaskID)
	}
}
