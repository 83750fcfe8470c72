// Package config handles Foreman configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds Foreman configuration
type Config struct {
	// Database location
	DatabasePath string

	// Project identity
	ProjectID string

	// Scheduling settings
	MaxParallelTasks int
	WorkersPerTask   int

	// Task settings
	MaxRetries     int
	MaxRejections  int
	CommandTimeout time.Duration
	StaleTimeout   time.Duration
	PollInterval   time.Duration

	// Approval token storage (must stay outside agent-writable paths)
	TokenDir string

	// Enforcement settings
	ProtectedPaths     []string
	ManagedDatabases   []string
	CompletionCommands []string

	// State snapshot export
	SnapshotPath string

	// Verbose mode for debugging
	Verbose bool
}

// fileConfig is the YAML shape of the project config file. Durations
// are strings so "5m" style values parse; pointer fields distinguish
// absent keys from zero values.
type fileConfig struct {
	DatabasePath       *string  `yaml:"database_path"`
	ProjectID          *string  `yaml:"project_id"`
	MaxParallelTasks   *int     `yaml:"max_parallel_tasks"`
	WorkersPerTask     *int     `yaml:"workers_per_task"`
	MaxRetries         *int     `yaml:"max_retries"`
	MaxRejections      *int     `yaml:"max_rejections"`
	CommandTimeout     *string  `yaml:"command_timeout"`
	StaleTimeout       *string  `yaml:"stale_timeout"`
	PollInterval       *string  `yaml:"poll_interval"`
	TokenDir           *string  `yaml:"token_dir"`
	ProtectedPaths     []string `yaml:"protected_paths"`
	ManagedDatabases   []string `yaml:"managed_databases"`
	CompletionCommands []string `yaml:"completion_commands"`
	SnapshotPath       *string  `yaml:"snapshot_path"`
	Verbose            *bool    `yaml:"verbose"`
}

// Load loads configuration from defaults, the optional project config
// file, and environment overrides, in that order
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:     defaultDatabasePath(),
		ProjectID:        defaultProjectID(),
		MaxParallelTasks: 4,
		WorkersPerTask:   2,
		MaxRetries:       3,
		MaxRejections:    2,
		CommandTimeout:   5 * time.Minute,
		StaleTimeout:     30 * time.Minute,
		PollInterval:     2 * time.Second,
		TokenDir:         defaultTokenDir(),
		SnapshotPath:     ".foreman/state.json",
	}

	if err := cfg.loadFile(".foreman/config.yaml"); err != nil {
		return nil, err
	}

	// Environment overrides
	if v := os.Getenv("FOREMAN_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("FOREMAN_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("FOREMAN_MAX_PARALLEL_TASKS"); v != "" {
		cfg.MaxParallelTasks = parseIntOrDefault(v, 4)
	}
	if v := os.Getenv("FOREMAN_WORKERS_PER_TASK"); v != "" {
		cfg.WorkersPerTask = parseIntOrDefault(v, 2)
	}
	if v := os.Getenv("FOREMAN_MAX_RETRIES"); v != "" {
		cfg.MaxRetries = parseIntOrDefault(v, 3)
	}
	if v := os.Getenv("FOREMAN_MAX_REJECTIONS"); v != "" {
		cfg.MaxRejections = parseIntOrDefault(v, 2)
	}
	if v := os.Getenv("FOREMAN_COMMAND_TIMEOUT"); v != "" {
		cfg.CommandTimeout = parseDurationOrDefault(v, 5*time.Minute)
	}
	if v := os.Getenv("FOREMAN_STALE_TIMEOUT"); v != "" {
		cfg.StaleTimeout = parseDurationOrDefault(v, 30*time.Minute)
	}
	if v := os.Getenv("FOREMAN_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = parseDurationOrDefault(v, 2*time.Second)
	}
	if v := os.Getenv("FOREMAN_TOKEN_DIR"); v != "" {
		cfg.TokenDir = v
	}
	if v := os.Getenv("FOREMAN_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("FOREMAN_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}

	if cfg.MaxParallelTasks < 1 {
		return nil, fmt.Errorf("max_parallel_tasks must be at least 1")
	}
	if cfg.WorkersPerTask < 1 {
		return nil, fmt.Errorf("workers_per_task must be at least 1")
	}
	return cfg, nil
}

// loadFile merges an optional YAML config file into the config. A
// missing file is not an error.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if fc.DatabasePath != nil {
		c.DatabasePath = *fc.DatabasePath
	}
	if fc.ProjectID != nil {
		c.ProjectID = *fc.ProjectID
	}
	if fc.MaxParallelTasks != nil {
		c.MaxParallelTasks = *fc.MaxParallelTasks
	}
	if fc.WorkersPerTask != nil {
		c.WorkersPerTask = *fc.WorkersPerTask
	}
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if fc.MaxRejections != nil {
		c.MaxRejections = *fc.MaxRejections
	}
	if fc.CommandTimeout != nil {
		c.CommandTimeout = parseDurationOrDefault(*fc.CommandTimeout, c.CommandTimeout)
	}
	if fc.StaleTimeout != nil {
		c.StaleTimeout = parseDurationOrDefault(*fc.StaleTimeout, c.StaleTimeout)
	}
	if fc.PollInterval != nil {
		c.PollInterval = parseDurationOrDefault(*fc.PollInterval, c.PollInterval)
	}
	if fc.TokenDir != nil {
		c.TokenDir = *fc.TokenDir
	}
	if fc.ProtectedPaths != nil {
		c.ProtectedPaths = fc.ProtectedPaths
	}
	if fc.ManagedDatabases != nil {
		c.ManagedDatabases = fc.ManagedDatabases
	}
	if fc.CompletionCommands != nil {
		c.CompletionCommands = fc.CompletionCommands
	}
	if fc.SnapshotPath != nil {
		c.SnapshotPath = *fc.SnapshotPath
	}
	if fc.Verbose != nil {
		c.Verbose = *fc.Verbose
	}
	return nil
}

// defaultDatabasePath returns SQLite in the project directory
func defaultDatabasePath() string {
	dir, err := os.Getwd()
	if err != nil {
		return ".foreman/foreman.db"
	}
	return filepath.Join(dir, ".foreman", "foreman.db")
}

// defaultProjectID derives an identifier from the working directory name
func defaultProjectID() string {
	dir, err := os.Getwd()
	if err != nil {
		return "default"
	}
	return strings.ToLower(filepath.Base(dir))
}

// defaultTokenDir keeps approval tokens under the user's home, outside
// any agent-writable project path
func defaultTokenDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foreman-tokens"
	}
	return filepath.Join(home, ".foreman", "tokens")
}

func parseIntOrDefault(s string, def int) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return def
	}
	return i
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
