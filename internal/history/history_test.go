package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converge/internal/api"
	"converge/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Silence()
	os.Exit(m.Run())
}

func entry(app, revision string) api.RevisionHistoryEntry {
	return api.RevisionHistoryEntry{
		ID:          uuid.NewString(),
		Application: app,
		Revision:    revision,
		DeployedAt:  time.Now().UTC().Truncate(time.Second),
		Digest:      "digest-" + revision,
		Resources: []api.Resource{{
			Key:    api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "cm"},
			Object: map[string]any{"kind": "ConfigMap", "metadata": map[string]any{"name": "cm"}},
		}},
		Result: api.SyncResult{Phase: api.SyncPhaseSucceeded},
		Cause:  api.CauseManual,
	}
}

// Both implementations must satisfy the same contract.
func stores(t *testing.T) map[string]Store {
	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestAppendListGetLatest(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first := entry("team-a/guestbook", "abc123")
			second := entry("team-a/guestbook", "def456")

			require.NoError(t, store.Append(first))
			require.NoError(t, store.Append(second))
			require.NoError(t, store.Append(entry("other-app", "zzz")))

			entries, err := store.List("team-a/guestbook")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "abc123", entries[0].Revision)
			assert.Equal(t, "def456", entries[1].Revision)

			got, err := store.Get("team-a/guestbook", 0)
			require.NoError(t, err)
			assert.Equal(t, first.ID, got.ID)
			assert.Equal(t, first.Resources, got.Resources)

			latest, ok, err := store.Latest("team-a/guestbook")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second.ID, latest.ID)
		})
	}
}

func TestGetOutOfRange(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(entry("app", "abc")))

			_, err := store.Get("app", 5)
			assert.True(t, api.IsNotFound(err))
			_, err = store.Get("app", -1)
			assert.True(t, api.IsNotFound(err))
			_, err = store.Get("unknown-app", 0)
			assert.True(t, api.IsNotFound(err))
		})
	}
}

func TestLatestEmpty(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Latest("nothing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestAppendRejectsAnonymousEntries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Append(api.RevisionHistoryEntry{})
			assert.Error(t, err)
		})
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(entry("guestbook", "abc123")))

	// A fresh store over the same directory sees the same history.
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	entries, err := reopened.List("guestbook")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc123", entries[0].Revision)
}

func TestFileStoreToleratesTornTail(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(entry("guestbook", "abc123")))

	// Simulate a crash mid-append.
	path := filepath.Join(dir, "guestbook.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"torn`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := store.List("guestbook")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreScopedNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(entry("team-a/guestbook", "abc")))

	_, err = os.Stat(filepath.Join(dir, "team-a__guestbook.jsonl"))
	assert.NoError(t, err)
}
