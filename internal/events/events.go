// Package events provides in-process streaming of orchestration
// lifecycle events for front ends and live dashboards. The bus is
// best-effort: a slow subscriber drops events rather than stalling the
// orchestrator, and nothing here is authoritative state.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a lifecycle event
type Kind string

const (
	// KindTaskStarted is emitted when a task moves to in_progress
	KindTaskStarted Kind = "task.started"
	// KindTaskValidating is emitted when a task enters validation
	KindTaskValidating Kind = "task.validating"
	// KindTaskCompleted is emitted when a task completes
	KindTaskCompleted Kind = "task.completed"
	// KindTaskFailed is emitted when a task records a failure
	KindTaskFailed Kind = "task.failed"
	// KindTaskEscalated is emitted when a task moves to hitl
	KindTaskEscalated Kind = "task.escalated"
	// KindWaveDispatched is emitted once per dispatched wave
	KindWaveDispatched Kind = "wave.dispatched"
	// KindGateBlocked is emitted when the enforcement engine blocks an
	// operation
	KindGateBlocked Kind = "gate.blocked"
	// KindPhaseAdvanced is emitted when the goal changes phase
	KindPhaseAdvanced Kind = "goal.phase_advanced"
)

// Event is one lifecycle occurrence
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Timestamp int64          `json:"timestamp"`
	TaskID    string         `json:"task_id,omitempty"`
	GoalID    string         `json:"goal_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event stamped with the current time
func New(kind Kind, taskID, goalID string, data map[string]any) *Event {
	return &Event{
		Kind:      kind,
		Timestamp: time.Now().Unix(),
		TaskID:    taskID,
		GoalID:    goalID,
		Data:      data,
	}
}

// Format renders an event as one JSON line
func Format(event *Event) ([]byte, error) {
	return json.Marshal(event)
}

// Bus fans events out to subscribers
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan *Event]string
	closed      atomic.Bool
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan *Event]string)}
}

// Subscribe registers a buffered channel that receives future events
func (b *Bus) Subscribe(name string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 100)
	b.subscribers[ch] = name
	return ch
}

// Unsubscribe removes a subscription channel
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, ch)
}

// Publish emits an event to all subscribers. A full subscriber channel
// is skipped; consumers that fall behind miss events instead of
// stalling the publisher.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	if b.closed.Load() {
		return fmt.Errorf("event bus is closed")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// Close shuts down the bus and closes every subscriber channel
func (b *Bus) Close() error {
	b.closed.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
	return nil
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
