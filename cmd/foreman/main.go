// Package main is the entry point for the Foreman CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/foreman/internal/config"
	"github.com/cloud-shuttle/foreman/internal/db"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "foreman",
		Short: "Coordinate a fleet of software-engineering agents against a shared goal",
		Long: `Foreman orchestrates specialized agents (design, implementation, test,
validation) through a disciplined design -> spec -> implement -> validate -> ship
process. It schedules the task dependency graph in parallel waves, routes worker
output through independent validators, escalates exhausted retries to a human,
and enforces layered fail-closed gates on every side-effecting operation.`,
		Version: "0.1.0",
	}

	rootCmd.AddCommand(
		initCmd(),
		goalCmd(),
		sprintCmd(),
		taskCmd(),
		phaseCmd(),
		tokenCmd(),
		approveCmd(),
		runCmd(),
		statusCmd(),
		reconcileCmd(),
		hitlCmd(),
		bugCmd(),
		mailCmd(),
		overrideCmd(),
		auditCmd(),
		exportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// findProjectDir locates the foreman project root by searching upward
func findProjectDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".foreman")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a foreman project (or any parent up to root)")
		}
		dir = parent
	}
}

// requireProject ensures we're in a foreman project directory
func requireProject() (string, *db.Store, error) {
	dir, err := findProjectDir()
	if err != nil {
		return "", nil, err
	}

	store, err := db.Open(filepath.Join(dir, ".foreman", "foreman.db"))
	if err != nil {
		return "", nil, fmt.Errorf("opening database: %w", err)
	}

	return dir, store, nil
}
