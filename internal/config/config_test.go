package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseIntOrDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"5", 10, 5},
		{"100", 0, 100},
		{"-3", 10, -3},
		{"abc", 10, 10}, // invalid returns default
		{"", 10, 10},    // empty returns default
		{"7xyz", 10, 7}, // parses prefix
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseIntOrDefault(tt.input, tt.def)
			if result != tt.expected {
				t.Errorf("parseIntOrDefault(%q, %d) = %d; want %d", tt.input, tt.def, result, tt.expected)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      time.Duration
		expected time.Duration
	}{
		{"60m", 10 * time.Minute, 60 * time.Minute},
		{"2h", 10 * time.Minute, 2 * time.Hour},
		{"90s", 10 * time.Minute, 90 * time.Second},
		{"invalid", 10 * time.Minute, 10 * time.Minute}, // invalid returns default
		{"", 10 * time.Minute, 10 * time.Minute},        // empty returns default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseDurationOrDefault(tt.input, tt.def)
			if result != tt.expected {
				t.Errorf("parseDurationOrDefault(%q, %v) = %v; want %v", tt.input, tt.def, result, tt.expected)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FOREMAN_MAX_PARALLEL_TASKS", "8")
	t.Setenv("FOREMAN_COMMAND_TIMEOUT", "90s")
	t.Setenv("FOREMAN_PROJECT_ID", "widget")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxParallelTasks != 8 {
		t.Errorf("MaxParallelTasks = %d; want 8", cfg.MaxParallelTasks)
	}
	if cfg.CommandTimeout != 90*time.Second {
		t.Errorf("CommandTimeout = %v; want 90s", cfg.CommandTimeout)
	}
	if cfg.ProjectID != "widget" {
		t.Errorf("ProjectID = %q; want widget", cfg.ProjectID)
	}
}

func TestLoadFile_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("project_id: widget\nmax_parallel_tasks: 6\ncommand_timeout: 2m\nprotected_paths:\n  - secrets/\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg := &Config{ProjectID: "default", MaxParallelTasks: 4, WorkersPerTask: 2, CommandTimeout: 5 * time.Minute}
	if err := cfg.loadFile(path); err != nil {
		t.Fatalf("loadFile() error: %v", err)
	}
	if cfg.ProjectID != "widget" {
		t.Errorf("ProjectID = %q; want widget", cfg.ProjectID)
	}
	if cfg.MaxParallelTasks != 6 {
		t.Errorf("MaxParallelTasks = %d; want 6", cfg.MaxParallelTasks)
	}
	if cfg.CommandTimeout != 2*time.Minute {
		t.Errorf("CommandTimeout = %v; want 2m", cfg.CommandTimeout)
	}
	if len(cfg.ProtectedPaths) != 1 || cfg.ProtectedPaths[0] != "secrets/" {
		t.Errorf("ProtectedPaths = %v; want [secrets/]", cfg.ProtectedPaths)
	}
	// Keys absent from the file keep their prior values.
	if cfg.WorkersPerTask != 2 {
		t.Errorf("WorkersPerTask = %d; want 2", cfg.WorkersPerTask)
	}
}

func TestLoadFile_MissingIsNotAnError(t *testing.T) {
	cfg := &Config{}
	if err := cfg.loadFile(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Errorf("loadFile() on a missing file: %v", err)
	}
}

func TestLoad_RejectsNonPositivePool(t *testing.T) {
	t.Setenv("FOREMAN_WORKERS_PER_TASK", "0")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject workers_per_task below 1")
	}
}
