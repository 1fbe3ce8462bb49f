package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherEmitsDebouncedRevisionEvent(t *testing.T) {
	root := t.TempDir()
	seedRepository(t, root, "infra", "abc123", map[string]string{"a.yaml": "kind: A\n"})

	w := NewWatcher(root, 50*time.Millisecond)
	require.NoError(t, w.AddRepository("infra"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan RevisionEvent, 8)
	require.NoError(t, w.Start(ctx, events))
	defer w.Stop()

	// Two rapid ref writes should coalesce into one event.
	refPath := filepath.Join(root, "infra", refsDir, "latest")
	require.NoError(t, os.WriteFile(refPath, []byte("def456\n"), 0644))
	require.NoError(t, os.WriteFile(refPath, []byte("def789\n"), 0644))

	select {
	case ev := <-events:
		assert.Equal(t, "infra", ev.Repository)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a revision event")
	}

	select {
	case ev := <-events:
		t.Fatalf("expected debouncing, got extra event for %s", ev.Repository)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	seedRepository(t, root, "infra", "abc123", map[string]string{"a.yaml": "kind: A\n"})

	w := NewWatcher(root, 0)
	require.NoError(t, w.AddRepository("infra"))

	events := make(chan RevisionEvent, 1)
	require.NoError(t, w.Start(context.Background(), events))

	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestRepositoryOf(t *testing.T) {
	w := NewWatcher("/data/repos", 0)

	assert.Equal(t, "infra", w.repositoryOf("/data/repos/infra/refs/latest"))
	assert.Equal(t, "", w.repositoryOf("/data/repos/infra/revisions/abc/x.yaml"))
	assert.Equal(t, "", w.repositoryOf("/elsewhere/infra/refs/latest"))
}
