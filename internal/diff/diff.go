package diff

import (
	"sort"

	apiequality "k8s.io/apimachinery/pkg/api/equality"

	"converge/internal/api"
)

// Result is the outcome of comparing a desired snapshot against a live
// snapshot.
type Result struct {
	// PreSync and PostSync are hook operations, run outside normal wave
	// ordering and excluded from sync status derivation.
	PreSync  []api.SyncOperation
	PostSync []api.SyncOperation

	// Operations is the ordered list of wave operations needed to
	// converge live onto desired. Sorted by wave ascending, then
	// lexicographically by key, so output is deterministic for a given
	// input.
	Operations []api.SyncOperation

	// Extras lists live resources absent from the desired set that were
	// NOT planned for deletion because pruning is disabled. Informational
	// only; never acted on.
	Extras []api.ResourceKey

	// Status is the aggregate sync status: OutOfSync iff Operations is
	// non-empty, Synced otherwise. Extras do not count.
	Status api.SyncStatus
}

// Calculate computes the minimal operation set reconciling desired against
// live. Both inputs are point-in-time snapshots; Calculate never mutates
// them. prune gates whether live-but-not-desired resources produce Prune
// operations or are merely reported as extras.
func Calculate(desired, live []api.Resource, prune bool) Result {
	var result Result

	liveByKey := make(map[api.ResourceKey]api.Resource, len(live))
	for _, res := range live {
		liveByKey[res.Key] = res
	}

	desiredKeys := make(map[api.ResourceKey]bool, len(desired))
	for _, res := range desired {
		desiredKeys[res.Key] = true

		if hook := res.Hook(); hook != api.HookNone {
			op := api.SyncOperation{
				Type:    api.OperationCreate,
				Key:     res.Key,
				Wave:    res.Wave(),
				Hook:    hook,
				Desired: copyOf(res),
			}
			if hook == api.HookPreSync {
				result.PreSync = append(result.PreSync, op)
			} else {
				result.PostSync = append(result.PostSync, op)
			}
			continue
		}

		liveRes, exists := liveByKey[res.Key]
		switch {
		case !exists:
			result.Operations = append(result.Operations, api.SyncOperation{
				Type:    api.OperationCreate,
				Key:     res.Key,
				Wave:    res.Wave(),
				Desired: copyOf(res),
			})
		case !specsEqual(res, liveRes):
			result.Operations = append(result.Operations, api.SyncOperation{
				Type:    api.OperationUpdate,
				Key:     res.Key,
				Wave:    res.Wave(),
				Desired: copyOf(res),
			})
		}
	}

	for _, res := range live {
		if desiredKeys[res.Key] || res.Hook() != api.HookNone {
			continue
		}
		if prune {
			result.Operations = append(result.Operations, api.SyncOperation{
				Type: api.OperationPrune,
				Key:  res.Key,
				Wave: res.Wave(),
			})
		} else {
			result.Extras = append(result.Extras, res.Key)
		}
	}

	sortOperations(result.PreSync)
	sortOperations(result.PostSync)
	sortOperations(result.Operations)
	sort.Slice(result.Extras, func(i, j int) bool { return result.Extras[i].Less(result.Extras[j]) })

	if len(result.Operations) == 0 {
		result.Status = api.SyncStatusSynced
	} else {
		result.Status = api.SyncStatusOutOfSync
	}
	return result
}

// Waves groups operations into ascending wave batches. Operations within
// a batch retain their sorted order.
func Waves(ops []api.SyncOperation) [][]api.SyncOperation {
	var waves [][]api.SyncOperation
	for _, op := range ops {
		if len(waves) == 0 || waves[len(waves)-1][0].Wave != op.Wave {
			waves = append(waves, []api.SyncOperation{op})
			continue
		}
		last := len(waves) - 1
		waves[last] = append(waves[last], op)
	}
	return waves
}

// specsEqual structurally compares the normalized payloads of a desired
// and a live resource.
func specsEqual(desired, live api.Resource) bool {
	return apiequality.Semantic.DeepEqual(Normalize(desired), Normalize(live))
}

// engineManagedMetadata are metadata fields owned by the target platform,
// excluded from drift comparison.
var engineManagedMetadata = []string{
	"resourceVersion",
	"uid",
	"generation",
	"creationTimestamp",
	"managedFields",
}

// Normalize returns a copy of the resource payload with platform-owned
// fields and engine tracking labels removed, suitable for structural
// comparison.
func Normalize(res api.Resource) map[string]any {
	obj := res.DeepCopy().Object
	if obj == nil {
		return nil
	}
	delete(obj, "status")

	meta, ok := obj["metadata"].(map[string]any)
	if !ok {
		return obj
	}
	for _, field := range engineManagedMetadata {
		delete(meta, field)
	}
	if labels, ok := meta["labels"].(map[string]any); ok {
		delete(labels, api.ApplicationLabel)
		if len(labels) == 0 {
			delete(meta, "labels")
		}
	}
	return obj
}

func sortOperations(ops []api.SyncOperation) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Wave != ops[j].Wave {
			return ops[i].Wave < ops[j].Wave
		}
		return ops[i].Key.Less(ops[j].Key)
	})
}

func copyOf(res api.Resource) *api.Resource {
	cp := res.DeepCopy()
	return &cp
}
