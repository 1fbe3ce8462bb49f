package executor

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converge/internal/api"
	"converge/internal/cluster"
	"converge/internal/diff"
	"converge/internal/history"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
	"converge/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Silence()
	os.Exit(m.Run())
}

func app(options ...v1alpha1.SyncOption) *v1alpha1.Application {
	return &v1alpha1.Application{
		Metadata: v1alpha1.ApplicationMeta{Name: "guestbook", Scope: "team-a"},
		Spec: v1alpha1.ApplicationSpec{
			Source:      v1alpha1.Source{Repository: "infra", Revision: "latest", Path: "dev"},
			Destination: v1alpha1.Destination{Target: "in-cluster", Namespace: "guestbook"},
			SyncPolicy:  v1alpha1.SyncPolicy{Options: options},
		},
	}
}

func desired(kind, name string, annotations map[string]any) api.Resource {
	meta := map[string]any{"name": name, "namespace": "guestbook"}
	if annotations != nil {
		meta["annotations"] = annotations
	}
	return api.Resource{
		Key:    api.ResourceKey{Kind: kind, Namespace: "guestbook", Name: name},
		Object: map[string]any{"kind": kind, "metadata": meta},
	}
}

func request(a *v1alpha1.Application, resources []api.Resource, live []api.Resource, prune bool) Request {
	return Request{
		App:      a,
		Revision: "abc123",
		Cause:    api.CauseManual,
		Plan:     diff.Calculate(resources, live, prune),
		Desired:  resources,
	}
}

func TestExecuteFullSuccessAppendsHistory(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	store := history.NewMemoryStore()
	exec := New(mem, store)

	resources := []api.Resource{
		desired("ConfigMap", "settings", nil),
		desired("Deployment", "web", nil),
	}

	result, err := exec.Execute(ctx, request(app(), resources, nil, false))
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Len(t, result.Results, 2)
	assert.Equal(t, 2, mem.Len())

	// Applied resources carry the tracking label.
	got, err := mem.Get(ctx, resources[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "guestbook", got.Label(api.ApplicationLabel))
	// The desired set handed to the executor is not mutated by stamping.
	assert.Equal(t, "", resources[0].Label(api.ApplicationLabel))

	entries, err := store.List("team-a/guestbook")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc123", entries[0].Revision)
	assert.Equal(t, api.CauseManual, entries[0].Cause)
	assert.Equal(t, api.DigestResources(resources), entries[0].Digest)
	assert.Len(t, entries[0].Resources, 2)
}

func TestExecuteConvergence(t *testing.T) {
	// Applying the full plan for desired D against empty live state must
	// leave a live set that diffs to empty against D.
	ctx := context.Background()
	mem := cluster.NewMemory()
	exec := New(mem, history.NewMemoryStore())

	resources := []api.Resource{
		desired("ConfigMap", "a", nil),
		desired("ConfigMap", "b", map[string]any{api.WaveAnnotation: "1"}),
	}

	result, err := exec.Execute(ctx, request(app(), resources, nil, true))
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	live, err := mem.List(ctx)
	require.NoError(t, err)
	rediff := diff.Calculate(resources, live, true)
	assert.Empty(t, rediff.Operations, "converged state must diff to empty")
	assert.Equal(t, api.SyncStatusSynced, rediff.Status)
}

func TestPartialFailureStopsLaterWaves(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	store := history.NewMemoryStore()
	exec := New(mem, store)

	resources := []api.Resource{
		desired("ConfigMap", "ok-zero", nil),
		desired("ConfigMap", "broken", nil),
		desired("ConfigMap", "later", map[string]any{api.WaveAnnotation: "1"}),
	}
	mem.FailOn(resources[1].Key, errors.New("quota exceeded"))

	result, err := exec.Execute(ctx, request(app(), resources, nil, false))
	require.NoError(t, err)

	assert.Equal(t, api.SyncPhasePartial, result.Phase)
	outcomes := map[string]api.OperationOutcome{}
	messages := map[string]string{}
	for _, res := range result.Results {
		outcomes[res.Operation.Key.Name] = res.Outcome
		messages[res.Operation.Key.Name] = res.Message
	}

	// Siblings in the failing wave still complete.
	assert.Equal(t, api.OutcomeSucceeded, outcomes["ok-zero"])
	assert.Equal(t, api.OutcomeFailed, outcomes["broken"])
	assert.Equal(t, "quota exceeded", messages["broken"])
	// Later waves never start, and nothing is rolled back.
	assert.Equal(t, api.OutcomeSkipped, outcomes["later"])
	assert.Equal(t, 1, mem.Len())

	// The partial attempt is still recorded exactly once.
	entries, err := store.List("team-a/guestbook")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, api.SyncPhasePartial, entries[0].Result.Phase)
}

func TestPreSyncFailureSkipsEverything(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	exec := New(mem, history.NewMemoryStore())

	hook := desired("Job", "migrate", map[string]any{api.HookAnnotation: "PreSync"})
	resources := []api.Resource{hook, desired("ConfigMap", "a", nil)}
	mem.FailOn(hook.Key, errors.New("image pull backoff"))

	result, err := exec.Execute(ctx, request(app(), resources, nil, false))
	require.NoError(t, err)

	assert.Equal(t, api.SyncPhaseFailed, result.Phase)
	assert.Equal(t, 0, mem.Len(), "wave 0 must not begin after a PreSync failure")
	require.Len(t, result.FailedKeys(), 1)
	assert.Equal(t, hook.Key, result.FailedKeys()[0])
}

func TestPostSyncOnlyAfterFullSuccess(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	exec := New(mem, history.NewMemoryStore())

	post := desired("Job", "notify", map[string]any{api.HookAnnotation: "PostSync"})
	broken := desired("ConfigMap", "broken", nil)
	resources := []api.Resource{post, broken}
	mem.FailOn(broken.Key, errors.New("denied"))

	result, err := exec.Execute(ctx, request(app(), resources, nil, false))
	require.NoError(t, err)

	for _, res := range result.Results {
		if res.Operation.Hook == api.HookPostSync {
			assert.Equal(t, api.OutcomeSkipped, res.Outcome)
		}
	}

	// And with a clean plan the hook runs.
	mem.FailOn(broken.Key, nil)
	result, err = exec.Execute(ctx, request(app(), resources, nil, false))
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	_, err = mem.Get(ctx, post.Key)
	assert.NoError(t, err)
}

func TestPruneExecutesDeletes(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	exec := New(mem, history.NewMemoryStore())

	orphan := desired("ConfigMap", "orphan", nil)
	require.NoError(t, mem.Apply(ctx, orphan))

	result, err := exec.Execute(ctx, request(app(), nil, []api.Resource{orphan}, true))
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, 0, mem.Len())
}

func TestNamespaceAutoCreation(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	exec := New(mem, history.NewMemoryStore())

	resources := []api.Resource{desired("ConfigMap", "a", nil)}
	_, err := exec.Execute(ctx, request(app(v1alpha1.SyncOptionCreateNamespace), resources, nil, false))
	require.NoError(t, err)
	assert.True(t, mem.HasNamespace("guestbook"))

	// Without the option the namespace is not touched.
	mem2 := cluster.NewMemory()
	exec2 := New(mem2, history.NewMemoryStore())
	_, err = exec2.Execute(ctx, request(app(), resources, nil, false))
	require.NoError(t, err)
	assert.False(t, mem2.HasNamespace("guestbook"))
}

func TestEmptyPlanPerformsNoMutations(t *testing.T) {
	ctx := context.Background()
	mem := cluster.NewMemory()
	store := history.NewMemoryStore()
	exec := New(mem, store)

	result, err := exec.Execute(ctx, request(app(), nil, nil, false))
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 0, mem.Len())
}
