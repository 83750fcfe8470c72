package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"inmemory": NewInMemory(),
		"sqlite":   sqlite,
	}
}

func TestSearch_FindsRelevantRecords(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.CreateRecord(ctx, "task widget-1 escalated after schema mismatch", RecordTypeEscalation, "proj", []string{"hitl"})
			require.NoError(t, err)
			_, err = store.CreateRecord(ctx, "sprint retrospective notes", RecordTypeNote, "proj", nil)
			require.NoError(t, err)

			results, err := store.Search(ctx, "schema mismatch", "proj", RecordTypeEscalation, 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Contains(t, results[0].Content, "schema mismatch")
			assert.Equal(t, RecordTypeEscalation, results[0].Type)
		})
	}
}

func TestSearch_ScopedToProject(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.CreateRecord(ctx, "widget design decision", RecordTypeDecision, "proj-a", nil)
			require.NoError(t, err)

			results, err := store.Search(ctx, "widget design", "proj-b", RecordTypeDecision, 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestSearch_EmptyQueryReturnsNothing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.CreateRecord(ctx, "orphaned task flagged for review", RecordTypeNote, "proj", nil)
			require.NoError(t, err)

			results, err := store.Search(ctx, "   ", "proj", RecordTypeNote, 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}
