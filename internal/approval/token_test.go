package approval

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsume_ValidTokenOnce(t *testing.T) {
	mgr := NewManager(t.TempDir())

	value, err := mgr.Generate()
	require.NoError(t, err)

	require.NoError(t, mgr.Consume(value))
	assert.ErrorIs(t, mgr.Consume(value), ErrNoToken, "a consumed token must never validate twice")
}

func TestConsume_WrongValueBurnsToken(t *testing.T) {
	mgr := NewManager(t.TempDir())

	value, err := mgr.Generate()
	require.NoError(t, err)

	assert.ErrorIs(t, mgr.Consume("guessed-value"), ErrInvalidToken)
	assert.ErrorIs(t, mgr.Consume(value), ErrNoToken, "a failed attempt must destroy the stored token")
}

func TestConsume_ExpiredTokenRejectedAndBurned(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	value, err := mgr.Generate()
	require.NoError(t, err)

	// Backdate the stored token past the TTL.
	path := filepath.Join(dir, "approval_token.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored storedToken
	require.NoError(t, json.Unmarshal(data, &stored))
	stored.CreatedAt = time.Now().Add(-2 * TTL).Unix()
	data, err = json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	assert.ErrorIs(t, mgr.Consume(value), ErrInvalidToken)
	assert.ErrorIs(t, mgr.Consume(value), ErrNoToken)
}

func TestGenerate_ReplacesPriorToken(t *testing.T) {
	mgr := NewManager(t.TempDir())

	old, err := mgr.Generate()
	require.NoError(t, err)
	fresh, err := mgr.Generate()
	require.NoError(t, err)
	require.NotEqual(t, old, fresh)

	assert.ErrorIs(t, mgr.Consume(old), ErrInvalidToken)

	// The failed attempt burned the fresh token too.
	assert.ErrorIs(t, mgr.Consume(fresh), ErrNoToken)
}

func TestGenerate_TokenFileIsPrivate(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	_, err := mgr.Generate()
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "approval_token.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
