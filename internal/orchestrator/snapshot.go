package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Snapshot is the exported view of orchestration state for external
// dashboards and post-mortems. It is derived, never authoritative; the
// store can always regenerate it.
type Snapshot struct {
	Goal       *types.Goal          `json:"goal"`
	Sprints    []*types.Sprint      `json:"sprints"`
	Tasks      []*types.Task        `json:"tasks"`
	Rollup     *types.ProjectStatus `json:"rollup"`
	ExportedAt int64                `json:"exported_at"`
}

// ExportSnapshot writes the current state to the configured snapshot
// path. The write takes an exclusive advisory lock, lands in a temp
// file, and is renamed into place, so a concurrent writer or reader
// never observes a partial file.
func (o *Orchestrator) ExportSnapshot() error {
	goal, err := o.store.GetActiveGoal(o.cfg.ProjectID)
	if err != nil {
		return err
	}
	sprints, err := o.store.ListSprints(goal.ID)
	if err != nil {
		return err
	}
	tasks, err := o.store.ListTasks()
	if err != nil {
		return err
	}
	rollup, err := o.store.GetProjectStatus()
	if err != nil {
		return err
	}

	snapshot := Snapshot{
		Goal:       goal,
		Sprints:    sprints,
		Tasks:      tasks,
		Rollup:     rollup,
		ExportedAt: time.Now().Unix(),
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return writeAtomic(o.cfg.SnapshotPath, data)
}

// writeAtomic writes data under an exclusive flock using the
// write-temp-then-rename pattern
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("preparing snapshot directory: %w", err)
	}

	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening snapshot lock: %w", err)
	}
	defer lock.Close()

	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("locking snapshot: %w", err)
	}
	defer syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	return nil
}
