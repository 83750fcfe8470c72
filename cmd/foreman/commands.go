package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/escalation"
	"github.com/cloud-shuttle/foreman/internal/graph"
	"github.com/cloud-shuttle/foreman/internal/knowledge"
	"github.com/cloud-shuttle/foreman/internal/orchestrator"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// buildOrchestrator wires an orchestrator for the current project. The
// spawner posts each worker's blind-walled brief to the mail bus; the
// agents themselves run out of process and report back by mail.
func buildOrchestrator(dir string, store *db.Store) *orchestrator.Orchestrator {
	var ks knowledge.Store
	if sqliteKS, err := knowledge.OpenSQLite(filepath.Join(dir, ".foreman", "knowledge.db")); err == nil {
		ks = sqliteKS
	} else {
		fmt.Fprintf(os.Stderr, "Warning: knowledge index unavailable, using in-memory store: %v\n", err)
		ks = knowledge.NewInMemory()
	}

	var orch *orchestrator.Orchestrator
	spawner := orchestrator.SpawnerFunc(func(ctx context.Context, task *types.Task, role types.Role, prompt string) error {
		worker := fmt.Sprintf("%s-%s", role, task.ID)
		_, err := orch.Bus().Send(ctx, "orchestrator", worker,
			fmt.Sprintf("work assignment for %s", task.ID), prompt, types.MailImportanceNormal, "")
		return err
	})
	orch = orchestrator.New(store, cfg, ks, spawner)
	return orch
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Foreman in the current project",
		Long: `Initialize Foreman in the current project.

Creates a .foreman directory with the SQLite database holding tasks, sprints,
mail, bugs, and the append-only enforcement log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			foremanDir := filepath.Join(dir, ".foreman")
			if _, err := os.Stat(foremanDir); err == nil {
				return fmt.Errorf("already initialized in %s", foremanDir)
			}

			if err := os.MkdirAll(foremanDir, 0755); err != nil {
				return fmt.Errorf("creating .foreman directory: %w", err)
			}

			store, err := db.Open(filepath.Join(foremanDir, "foreman.db"))
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer store.Close()

			if err := store.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}

			fmt.Printf("🐂 Initialized Foreman in %s\n", foremanDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  foreman goal set \"My goal\" --tier standard")
			fmt.Println("  foreman sprint add \"Sprint 1\"")
			fmt.Println("  foreman task add \"My first task\" --sprint <sprint-id>")
			fmt.Println("  foreman run")
			return nil
		},
	}
}

func goalCmd() *cobra.Command {
	var tier string

	goalSet := &cobra.Command{
		Use:   "set [description]",
		Short: "Set the active goal (tier is locked at creation)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			orch := buildOrchestrator(dir, store)
			goal, err := orch.SetGoal(args[0], types.Tier(tier))
			if err != nil {
				return err
			}
			fmt.Printf("Goal %s created at tier %s\n", goal.ID, goal.Tier)
			return nil
		},
	}
	goalSet.Flags().StringVar(&tier, "tier", "standard", "Rigor tier: minimal, standard, or full")

	command := &cobra.Command{
		Use:   "goal",
		Short: "Manage the project goal",
	}
	command.AddCommand(goalSet)
	return command
}

func sprintCmd() *cobra.Command {
	var deps []string
	var number int

	sprintAdd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a sprint to the active goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			goal, err := store.GetActiveGoal(cfg.ProjectID)
			if err != nil {
				return err
			}
			sprint, err := store.CreateSprint(goal.ID, args[0], number, deps)
			if err != nil {
				return err
			}
			fmt.Printf("Sprint %s created\n", sprint.ID)
			return nil
		},
	}
	sprintAdd.Flags().IntVar(&number, "number", 1, "Sprint sequence number")
	sprintAdd.Flags().StringSliceVar(&deps, "deps", nil, "Sprint IDs this sprint depends on")

	sprintTasks := &cobra.Command{
		Use:   "tasks [sprint-id]",
		Short: "List a sprint's tasks in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListTasksBySprint(args[0])
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Printf("%s [%s] %s (%s)\n", t.ID, t.Status, t.Name, t.Role)
			}
			return nil
		},
	}

	sprintCheck := &cobra.Command{
		Use:   "check",
		Short: "Validate the sprint dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			goal, err := store.GetActiveGoal(cfg.ProjectID)
			if err != nil {
				return err
			}
			sprints, err := store.ListSprints(goal.ID)
			if err != nil {
				return err
			}
			report := graph.ValidateSprints(sprints)
			if report.Valid() {
				fmt.Println("✅ Sprint dependency graph is valid")
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Printf("❌ %s\n", issue.Detail)
			}
			return fmt.Errorf("sprint dependency graph has %d issues", len(report.Issues))
		},
	}

	command := &cobra.Command{
		Use:   "sprint",
		Short: "Manage sprints",
	}
	command.AddCommand(sprintAdd, sprintTasks, sprintCheck)
	return command
}

func taskCmd() *cobra.Command {
	var sprintID, role, description string
	var deps, files, verify []string

	taskAdd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a task to a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			task, err := store.CreateTask(db.TaskParams{
				SprintID:       sprintID,
				Name:           args[0],
				Description:    description,
				Role:           types.Role(role),
				DependsOn:      deps,
				Files:          files,
				VerifyCommands: verify,
				MaxRetries:     cfg.MaxRetries,
				MaxRejections:  cfg.MaxRejections,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Task %s created\n", task.ID)
			return nil
		},
	}
	taskAdd.Flags().StringVar(&sprintID, "sprint", "", "Sprint ID (required)")
	taskAdd.Flags().StringVar(&role, "role", string(types.RoleImplementer), "Worker role for the task")
	taskAdd.Flags().StringVar(&description, "description", "", "Task description")
	taskAdd.Flags().StringSliceVar(&deps, "deps", nil, "Task IDs this task depends on")
	taskAdd.Flags().StringSliceVar(&files, "files", nil, "Declared file scope")
	taskAdd.Flags().StringSliceVar(&verify, "verify", nil, "Verification commands")
	taskAdd.MarkFlagRequired("sprint")

	taskFail := &cobra.Command{
		Use:   "fail [task-id] [reason]",
		Short: "Report a task failure (applies the retry rule)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			return buildOrchestrator(dir, store).FailTask(cmd.Context(), args[0], args[1])
		},
	}

	taskComplete := &cobra.Command{
		Use:   "complete [task-id]",
		Short: "Report a task finished (routes through validation if required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			return buildOrchestrator(dir, store).CompleteTask(cmd.Context(), args[0])
		},
	}

	taskValidate := &cobra.Command{
		Use:   "validate [task-id] [validator] [pass|fail]",
		Short: "Record a validator's verdict on a task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			feedback, _ := cmd.Flags().GetString("feedback")
			passed := args[2] == "pass"
			return buildOrchestrator(dir, store).RecordValidation(cmd.Context(),
				args[0], types.Role(args[1]), passed, feedback)
		},
	}
	taskValidate.Flags().String("feedback", "", "Validator feedback")

	taskDep := &cobra.Command{
		Use:   "dep [task-id] [depends-on]",
		Short: "Add a dependency edge (rejected if it would close a cycle)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListTasks()
			if err != nil {
				return err
			}
			if graph.WouldCycle(tasks, args[0], args[1]) {
				return fmt.Errorf("dependency %s -> %s would close a cycle", args[0], args[1])
			}
			return store.AddDependency(args[0], args[1])
		},
	}

	command := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	command.AddCommand(taskAdd, taskFail, taskComplete, taskValidate, taskDep)
	return command
}

func phaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phase [next-phase]",
		Short: "Advance the goal to the next phase",
		Long: `Advance the goal to the next phase.

Phases progress strictly in order: planning, spec, approved, implement,
validating, complete. A jump is rejected; an unmet precondition is named.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			return buildOrchestrator(dir, store).AdvancePhase(cmd.Context(), types.Phase(args[0]))
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate a single-use approval token (human only)",
		Long: `Generate a single-use approval token.

This command is the only entry point that creates tokens. The value is
printed once, expires after five minutes, and is destroyed on first use,
valid or not. Agents must never run this command on a human's behalf.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			value, err := buildOrchestrator(dir, store).Tokens().Generate()
			if err != nil {
				return err
			}
			fmt.Printf("Approval token (valid 5m, single use):\n  %s\n", value)
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [token]",
		Short: "Approve the active goal's spec with a fresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := buildOrchestrator(dir, store).ApproveSpec(args[0]); err != nil {
				return err
			}
			fmt.Println("✅ Spec approved")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drive decision cycles until done or a human is needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			orch := buildOrchestrator(dir, store)
			if err := orch.Run(cmd.Context()); err != nil {
				return err
			}
			return orch.ExportSnapshot()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current goal and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := buildOrchestrator(dir, store).GetStatus()
			if err != nil {
				return err
			}
			printStatus(status)

			agents, err := store.ListAgentStatuses()
			if err != nil {
				return err
			}
			working := 0
			for _, a := range agents {
				if a.Status == db.AgentStatusWorking {
					fmt.Printf("👷 %s working on %s\n", a.Agent, a.TaskID)
					working++
				}
			}
			if working == 0 && len(agents) > 0 {
				fmt.Println("👷 All agents idle")
			}
			return nil
		},
	}
}

func printStatus(status *orchestrator.Status) {
	goal := status.Goal
	fmt.Printf("🎯 Goal %s [%s] phase=%s tier=%s\n", goal.ID, goal.Status, goal.Phase, goal.Tier)
	fmt.Printf("   %s\n", goal.Description)
	if goal.HITLRequired {
		fmt.Printf("🚨 Human intervention required: %s\n", goal.HITLReason)
	}

	t := status.Tasks
	fmt.Printf("\n📊 Tasks: %d total\n", t.Total)
	fmt.Printf("   pending=%d in_progress=%d validating=%d blocked=%d\n",
		t.Pending, t.InProgress, t.Validating, t.Blocked)
	fmt.Printf("   completed=%d failed=%d hitl=%d skipped=%d\n",
		t.Completed, t.Failed, t.HITL, t.Skipped)

	if t.Total > 0 {
		percent := float64(t.Completed+t.Skipped) / float64(t.Total) * 100
		printProgressBar(percent)
	}
}

func printProgressBar(percent float64) {
	const width = 30
	filled := int(percent / 100 * width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	fmt.Printf("   [%s] %.0f%%\n", bar, percent)
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Cross-check in_progress tasks against the mail log",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := buildOrchestrator(dir, store).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("🔄 Reconciled: %d completed by mail, %d failed by mail, %d orphaned\n",
				len(result.Completed), len(result.Failed), len(result.Orphaned))
			for _, id := range result.Orphaned {
				fmt.Printf("   🚨 orphan: %s\n", id)
			}
			return nil
		},
	}
}

func hitlCmd() *cobra.Command {
	resolve := &cobra.Command{
		Use:   "resolve [task-id] [approve|retry|reject|skip]",
		Short: "Apply a human decision to an escalated task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			return buildOrchestrator(dir, store).ResolveHITL(cmd.Context(),
				args[0], orchestrator.HITLResolution(args[1]))
		},
	}

	escalate := &cobra.Command{
		Use:   "escalate [task-id]",
		Short: "File an escalation with structured evidence from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			path, _ := cmd.Flags().GetString("evidence")
			evidence, err := escalation.LoadEvidence(path)
			if err != nil {
				return err
			}
			return buildOrchestrator(dir, store).Escalate(cmd.Context(), args[0], evidence)
		},
	}
	escalate.Flags().String("evidence", "", "Path to the structured evidence JSON file")
	escalate.MarkFlagRequired("evidence")

	command := &cobra.Command{
		Use:   "hitl",
		Short: "Human-in-the-loop escalations",
	}
	command.AddCommand(resolve, escalate)
	return command
}

func bugCmd() *cobra.Command {
	var severity, taskID string
	var maxCycles int

	file := &cobra.Command{
		Use:   "file [title]",
		Short: "File a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			bug, err := buildOrchestrator(dir, store).FileBug(args[0],
				types.BugSeverity(severity), taskID, maxCycles)
			if err != nil {
				return err
			}
			fmt.Printf("Bug %s filed\n", bug.ID)
			return nil
		},
	}
	file.Flags().StringVar(&severity, "severity", string(types.BugSeverityMedium), "critical, high, medium, or low")
	file.Flags().StringVar(&taskID, "task", "", "Related task ID")
	file.Flags().IntVar(&maxCycles, "max-cycles", 3, "Reopen cycles before escalation")

	assign := &cobra.Command{
		Use:   "assign [bug-id] [agent]",
		Short: "Assign a bug to an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()
			return buildOrchestrator(dir, store).AssignBug(args[0], args[1])
		},
	}

	closeBug := &cobra.Command{
		Use:   "close [bug-id]",
		Short: "Close a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()
			return buildOrchestrator(dir, store).CloseBug(args[0])
		},
	}

	reopen := &cobra.Command{
		Use:   "reopen [bug-id]",
		Short: "Reopen a bug (cycle-counts toward its ceiling)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()
			return buildOrchestrator(dir, store).ReopenBug(cmd.Context(), args[0])
		},
	}

	var listStatus string
	list := &cobra.Command{
		Use:   "list",
		Short: "List bugs in a given status, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			bugs, err := store.ListBugsByStatus(types.BugStatus(listStatus))
			if err != nil {
				return err
			}
			for _, b := range bugs {
				fmt.Printf("🐛 %s [%s/%s] cycles=%d/%d %s\n",
					b.ID, b.Severity, b.Status, b.CycleCount, b.MaxCycles, b.Title)
			}
			if len(bugs) == 0 {
				fmt.Printf("No bugs in status %s\n", listStatus)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listStatus, "status", string(types.BugStatusOpen), "Bug status to list")

	command := &cobra.Command{
		Use:   "bug",
		Short: "Manage bugs",
	}
	command.AddCommand(file, assign, closeBug, reopen, list)
	return command
}

func mailCmd() *cobra.Command {
	var importance, thread string

	send := &cobra.Command{
		Use:   "send [from] [to] [subject] [body]",
		Short: "Send a message on the agent mail bus",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			msg, err := buildOrchestrator(dir, store).Bus().Send(cmd.Context(),
				args[0], args[1], args[2], args[3], types.MailImportance(importance), thread)
			if err != nil {
				return err
			}
			fmt.Printf("Mail %s sent on thread %s\n", msg.ID, msg.ThreadID)
			return nil
		},
	}
	send.Flags().StringVar(&importance, "importance", string(types.MailImportanceNormal), "low, normal, high, or critical")
	send.Flags().StringVar(&thread, "thread", "", "Thread ID to reply on")

	inbox := &cobra.Command{
		Use:   "inbox [agent]",
		Short: "Deliver unread mail for an agent (marks it read)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := buildOrchestrator(dir, store).Bus().Inbox(args[0])
			if err != nil {
				return err
			}
			for _, m := range messages {
				printMessage(m)
			}
			if len(messages) == 0 {
				fmt.Println("No unread mail")
			}
			return nil
		},
	}

	threadCmd := &cobra.Command{
		Use:   "thread [thread-id]",
		Short: "Show the full history of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := buildOrchestrator(dir, store).Bus().Thread(args[0])
			if err != nil {
				return err
			}
			for _, m := range messages {
				printMessage(m)
			}
			return nil
		},
	}

	unread := &cobra.Command{
		Use:   "unread [agent]",
		Short: "Count an agent's unread mail without consuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := buildOrchestrator(dir, store).Bus().UnreadCount(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("📬 %s has %d unread message(s)\n", args[0], count)
			return nil
		},
	}

	command := &cobra.Command{
		Use:   "mail",
		Short: "Agent mail bus",
	}
	command.AddCommand(send, inbox, threadCmd, unread)
	return command
}

func printMessage(m *types.MailMessage) {
	when := time.Unix(0, m.CreatedAt).Format(time.RFC3339)
	fmt.Printf("📬 [%s] %s -> %s (%s): %s\n", when, m.From, m.To, m.Importance, m.Subject)
	if m.Body != "" {
		fmt.Printf("   %s\n", m.Body)
	}
}

func overrideCmd() *cobra.Command {
	var tier string
	var maxFiles int
	var duration time.Duration

	request := &cobra.Command{
		Use:   "request [reason]",
		Short: "Open a time-boxed, file-capped emergency override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := buildOrchestrator(dir, store).Gates().RequestOverride(args[0],
				types.Tier(tier), maxFiles, time.Now().Add(duration).Unix())
			if err != nil {
				return err
			}
			fmt.Printf("Override %s active for %v, max %d files (pending review)\n",
				session.ID, duration, maxFiles)
			return nil
		},
	}
	request.Flags().StringVar(&tier, "tier", string(types.TierStandard), "Tier ceiling for the override")
	request.Flags().IntVar(&maxFiles, "max-files", 5, "File edit cap")
	request.Flags().DurationVar(&duration, "duration", 30*time.Minute, "How long the override stays active")

	review := &cobra.Command{
		Use:   "review [override-id] [legitimate|illegitimate]",
		Short: "Record the legitimacy verdict on an override session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			return buildOrchestrator(dir, store).Gates().ReviewOverride(args[0],
				types.OverrideReview(args[1]))
		},
	}

	command := &cobra.Command{
		Use:   "override",
		Short: "Emergency gate overrides",
	}
	command.AddCommand(request, review)
	return command
}

func auditCmd() *cobra.Command {
	var limit int

	command := &cobra.Command{
		Use:   "audit",
		Short: "Show recent enforcement decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			decisions, err := buildOrchestrator(dir, store).Gates().RecentDecisions(limit)
			if err != nil {
				return err
			}
			for _, d := range decisions {
				verdict := "✅"
				if !d.Allowed {
					verdict = "🚫"
				}
				when := time.Unix(0, d.CreatedAt).Format(time.RFC3339)
				fmt.Printf("%s [%s] %s %s %s %s", verdict, when, d.GateID, d.Role, d.Tool, d.Target)
				if d.Reason != "" {
					fmt.Printf(": %s", d.Reason)
				}
				fmt.Println()
			}
			return nil
		},
	}
	command.Flags().IntVar(&limit, "limit", 20, "Maximum decisions to show")
	return command
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export an atomic snapshot of orchestration state",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := buildOrchestrator(dir, store).ExportSnapshot(); err != nil {
				return err
			}
			fmt.Printf("📊 Snapshot written to %s\n", cfg.SnapshotPath)
			return nil
		},
	}
}
