// Package approval implements the single-use human-approval token. The
// token is the only currency a human-approval gate accepts: generation
// is reachable solely from human-invoked entry points, and consumption
// destroys the stored token whether or not validation succeeds.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TTL is how long a generated token stays valid
const TTL = 5 * time.Minute

// ErrNoToken means no token is outstanding; ErrInvalidToken covers a
// mismatched or expired value. Both invalidate whatever was stored.
var (
	ErrNoToken      = errors.New("no approval token outstanding")
	ErrInvalidToken = errors.New("approval token invalid or expired")
)

// Manager persists the single outstanding token in a directory outside
// any agent-writable path
type Manager struct {
	dir string
}

type storedToken struct {
	Value     string `json:"value"`
	CreatedAt int64  `json:"created_at"`
}

// NewManager creates a token manager rooted at dir. The directory must
// not be reachable by agent write tools; the gate engine's blocklist is
// expected to cover it.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) path() string {
	return filepath.Join(m.dir, "approval_token.json")
}

// Generate creates a fresh opaque token and persists it, replacing any
// prior token. Only human-invoked entry points may call this.
func (m *Manager) Generate() (string, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("preparing token directory: %w", err)
	}

	token := storedToken{
		Value:     uuid.NewString(),
		CreatedAt: time.Now().Unix(),
	}
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}
	if err := os.WriteFile(m.path(), data, 0o600); err != nil {
		return "", fmt.Errorf("persisting token: %w", err)
	}

	log.Printf("🔑 Approval token generated, valid for %v", TTL)
	return token.Value, nil
}

// Consume validates a presented value against the stored token and
// deletes the stored token regardless of the outcome. A failed attempt
// burns the token; the human must generate a fresh one.
func (m *Manager) Consume(value string) error {
	data, err := os.ReadFile(m.path())
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoToken
	}
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	// Single-use: the stored token is gone from here on, even if the
	// presented value turns out to be wrong.
	if err := os.Remove(m.path()); err != nil {
		return fmt.Errorf("destroying token: %w", err)
	}

	var token storedToken
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("%w: unreadable stored token", ErrInvalidToken)
	}
	if value == "" || value != token.Value {
		return fmt.Errorf("%w: value mismatch", ErrInvalidToken)
	}
	if time.Since(time.Unix(token.CreatedAt, 0)) > TTL {
		return fmt.Errorf("%w: generated more than %v ago", ErrInvalidToken, TTL)
	}

	log.Printf("🔑 Approval token consumed")
	return nil
}
