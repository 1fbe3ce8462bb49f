package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converge/internal/api"
)

func cmResource(name string) api.Resource {
	return api.Resource{
		Key: api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: name},
		Object: map[string]any{
			"apiVersion": "v1",
			"kind":       "ConfigMap",
			"metadata":   map[string]any{"name": name, "namespace": "default"},
			"data":       map[string]any{"k": "v"},
		},
	}
}

func TestMemoryApplyGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	res := cmResource("cm")
	require.NoError(t, m.Apply(ctx, res))

	got, err := m.Get(ctx, res.Key)
	require.NoError(t, err)
	assert.Equal(t, res.Key, got.Key)
	assert.NotEmpty(t, got.ResourceVersion)

	// Returned copies must be independent of the store.
	got.Object["data"].(map[string]any)["k"] = "mutated"
	again, err := m.Get(ctx, res.Key)
	require.NoError(t, err)
	assert.Equal(t, "v", again.Object["data"].(map[string]any)["k"])

	require.NoError(t, m.Delete(ctx, res.Key))
	_, err = m.Get(ctx, res.Key)
	assert.True(t, api.IsNotFound(err))

	// Deleting again is a no-op.
	assert.NoError(t, m.Delete(ctx, res.Key))
}

func TestMemoryApplyBumpsResourceVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	res := cmResource("cm")

	require.NoError(t, m.Apply(ctx, res))
	first, _ := m.Get(ctx, res.Key)

	require.NoError(t, m.Apply(ctx, res))
	second, _ := m.Get(ctx, res.Key)

	assert.NotEqual(t, first.ResourceVersion, second.ResourceVersion)
}

func TestMemoryListIsSorted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Apply(ctx, cmResource("zeta")))
	require.NoError(t, m.Apply(ctx, cmResource("alpha")))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Key.Name)
	assert.Equal(t, "zeta", list[1].Key.Name)
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	res := cmResource("cm")

	injected := errors.New("quota exceeded")
	m.FailOn(res.Key, injected)
	assert.ErrorIs(t, m.Apply(ctx, res), injected)
	assert.ErrorIs(t, m.Delete(ctx, res.Key), injected)

	m.FailOn(res.Key, nil)
	assert.NoError(t, m.Apply(ctx, res))
}

func TestMemorySetStatusAndNamespaces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	res := cmResource("cm")
	require.NoError(t, m.Apply(ctx, res))

	require.NoError(t, m.SetStatus(res.Key, map[string]any{"ready": true}))
	got, err := m.Get(ctx, res.Key)
	require.NoError(t, err)
	assert.Equal(t, true, got.Object["status"].(map[string]any)["ready"])

	err = m.SetStatus(api.ResourceKey{Kind: "ConfigMap", Name: "missing"}, nil)
	assert.True(t, api.IsNotFound(err))

	require.NoError(t, m.EnsureNamespace(ctx, "apps"))
	assert.True(t, m.HasNamespace("apps"))
	assert.Error(t, m.EnsureNamespace(ctx, ""))
}
