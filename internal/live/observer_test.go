package live

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converge/internal/api"
	"converge/internal/cluster"
	"converge/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Silence()
	os.Exit(m.Run())
}

func labeled(name, app string) api.Resource {
	res := api.Resource{
		Key: api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: name},
		Object: map[string]any{
			"kind":     "ConfigMap",
			"metadata": map[string]any{"name": name, "namespace": "default"},
		},
	}
	if app != "" {
		res.SetLabel(api.ApplicationLabel, app)
	}
	return res
}

func TestRefreshPopulatesCache(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	require.NoError(t, mem.Apply(ctx, labeled("a", "guestbook")))

	obs := NewObserver(mem, time.Minute)
	require.NoError(t, obs.Refresh(ctx))

	got, ok := obs.Get(api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "a"})
	require.True(t, ok)
	assert.Equal(t, "a", got.Key.Name)

	_, ok = obs.Get(api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "missing"})
	assert.False(t, ok)
}

func TestRefreshEmitsUpdateAndDeleteEvents(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	obs := NewObserver(mem, time.Minute)
	events := obs.Subscribe()

	res := labeled("a", "guestbook")
	require.NoError(t, mem.Apply(ctx, res))
	require.NoError(t, obs.Refresh(ctx))

	ev := <-events
	assert.Equal(t, EventUpdated, ev.Type)
	assert.Equal(t, res.Key, ev.Resource.Key)

	// Unchanged state: no further events.
	require.NoError(t, obs.Refresh(ctx))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s for %s", ev.Type, ev.Resource.Key)
	default:
	}

	// Out-of-band deletion surfaces as a Deleted event carrying the
	// last-known state.
	require.NoError(t, mem.Delete(ctx, res.Key))
	require.NoError(t, obs.Refresh(ctx))

	ev = <-events
	assert.Equal(t, EventDeleted, ev.Type)
	assert.Equal(t, "guestbook", ev.Resource.Label(api.ApplicationLabel))

	_, ok := obs.Get(res.Key)
	assert.False(t, ok, "deleted resources must leave the cache")
}

func TestSnapshotForFiltersByTrackingLabel(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	require.NoError(t, mem.Apply(ctx, labeled("a", "guestbook")))
	require.NoError(t, mem.Apply(ctx, labeled("b", "other-app")))
	require.NoError(t, mem.Apply(ctx, labeled("c", "guestbook")))

	obs := NewObserver(mem, time.Minute)
	require.NoError(t, obs.Refresh(ctx))

	mine := obs.SnapshotFor("guestbook")
	assert.Len(t, mine, 2)
	for _, res := range mine {
		assert.Equal(t, "guestbook", res.Label(api.ApplicationLabel))
	}

	assert.Len(t, obs.Snapshot(), 3)
}

func TestSnapshotIsPointInTime(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	require.NoError(t, mem.Apply(ctx, labeled("a", "guestbook")))

	obs := NewObserver(mem, time.Minute)
	require.NoError(t, obs.Refresh(ctx))

	snap := obs.SnapshotFor("guestbook")
	require.Len(t, snap, 1)

	// Mutating the snapshot must not leak into the cache.
	snap[0].Object["data"] = map[string]any{"injected": "true"}
	fresh, ok := obs.Get(snap[0].Key)
	require.True(t, ok)
	assert.NotContains(t, fresh.Object, "data")
}

func TestStartPollsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mem := cluster.NewMemory()
	obs := NewObserver(mem, 10*time.Millisecond)
	events := obs.Subscribe()

	done := make(chan error, 1)
	go func() { done <- obs.Start(ctx) }()

	require.NoError(t, mem.Apply(context.Background(), labeled("a", "guestbook")))

	select {
	case ev := <-events:
		assert.Equal(t, EventUpdated, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the poll loop to observe the new resource")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not stop")
	}
}
