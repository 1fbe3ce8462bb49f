package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
)

// ApplicationLabel tracks which application owns a live resource. The
// executor stamps it on every resource it applies; the controller uses it
// to carve per-application slices out of the shared live cache.
const ApplicationLabel = "converge.io/application"

// Annotations understood by the engine on manifest metadata.
const (
	// WaveAnnotation orders operations into sync waves. The value is an
	// integer; resources without the annotation are wave 0.
	WaveAnnotation = "converge.io/wave"

	// HookAnnotation marks a resource as a hook. The value is one of
	// "PreSync" or "PostSync". Hook resources run outside normal waves.
	HookAnnotation = "converge.io/hook"
)

// ResourceKey uniquely identifies a resource in the target environment.
type ResourceKey struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

// String renders the key as kind/namespace/name. Cluster-scoped resources
// omit the namespace segment.
func (k ResourceKey) String() string {
	if k.Namespace == "" {
		return k.Kind + "/" + k.Name
	}
	return k.Kind + "/" + k.Namespace + "/" + k.Name
}

// Less orders keys lexicographically. Used to keep operation lists
// deterministic for a given input.
func (k ResourceKey) Less(other ResourceKey) bool {
	return k.String() < other.String()
}

// Resource is a typed descriptor of a resource, either as declared in the
// source (desired) or as observed in the target environment (live). The
// payload is a generic, kind-tagged value tree so that arbitrary resource
// kinds unknown at build time can flow through the engine.
type Resource struct {
	Key    ResourceKey    `json:"key"`
	Object map[string]any `json:"object"`

	// ResourceVersion is the target environment's opaque version of the
	// observed resource. Empty for desired resources.
	ResourceVersion string `json:"resourceVersion,omitempty"`
}

// DeepCopy returns a structurally independent copy of the resource.
func (r Resource) DeepCopy() Resource {
	cp := r
	if r.Object != nil {
		cp.Object = runtime.DeepCopyJSON(r.Object)
	}
	return cp
}

// Annotation returns the named metadata annotation, or "" if absent.
func (r Resource) Annotation(name string) string {
	meta, ok := r.Object["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	annotations, ok := meta["annotations"].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := annotations[name].(string)
	return value
}

// Label returns the named metadata label, or "" if absent.
func (r Resource) Label(name string) string {
	meta, ok := r.Object["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	labels, ok := meta["labels"].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := labels[name].(string)
	return value
}

// SetLabel sets a metadata label on the resource payload, creating the
// metadata and labels maps as needed.
func (r Resource) SetLabel(name, value string) {
	meta, ok := r.Object["metadata"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		r.Object["metadata"] = meta
	}
	labels, ok := meta["labels"].(map[string]any)
	if !ok {
		labels = map[string]any{}
		meta["labels"] = labels
	}
	labels[name] = value
}

// Wave returns the sync wave of the resource. Resources without a wave
// annotation, or with one that does not parse, belong to wave 0.
func (r Resource) Wave() int {
	raw := r.Annotation(WaveAnnotation)
	if raw == "" {
		return 0
	}
	wave, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return wave
}

// Hook returns the hook phase of the resource, or HookNone for regular
// resources.
func (r Resource) Hook() HookPhase {
	switch r.Annotation(HookAnnotation) {
	case string(HookPreSync):
		return HookPreSync
	case string(HookPostSync):
		return HookPostSync
	default:
		return HookNone
	}
}

// HookPhase scopes an operation to a hook phase outside normal wave
// ordering.
type HookPhase string

const (
	HookNone     HookPhase = ""
	HookPreSync  HookPhase = "PreSync"
	HookPostSync HookPhase = "PostSync"
)

// OperationType is the kind of mutation a SyncOperation performs.
type OperationType string

const (
	// OperationCreate creates a resource that is desired but not live.
	OperationCreate OperationType = "Create"

	// OperationUpdate replaces a live resource whose spec drifted from the
	// desired one.
	OperationUpdate OperationType = "Update"

	// OperationDelete removes a hook resource after its phase completes.
	OperationDelete OperationType = "Delete"

	// OperationPrune removes a live resource that is no longer desired.
	// Only emitted when the application's sync policy enables pruning.
	OperationPrune OperationType = "Prune"
)

// SyncOperation is one planned action against a specific resource key.
type SyncOperation struct {
	Type OperationType `json:"type"`
	Key  ResourceKey   `json:"key"`

	// Wave is the ordering group; all operations of wave N complete before
	// wave N+1 begins.
	Wave int `json:"wave"`

	// Hook is the hook phase this operation belongs to, if any. Hook
	// operations run outside the wave sequence.
	Hook HookPhase `json:"hook,omitempty"`

	// Desired is the payload to apply. Nil for Prune operations.
	Desired *Resource `json:"desired,omitempty"`
}

// OperationOutcome is the result of executing a single SyncOperation.
type OperationOutcome string

const (
	OutcomeSucceeded OperationOutcome = "Succeeded"
	OutcomeFailed    OperationOutcome = "Failed"
	OutcomeSkipped   OperationOutcome = "Skipped"
)

// OperationResult records the outcome of one executed operation.
type OperationResult struct {
	Operation SyncOperation    `json:"operation"`
	Outcome   OperationOutcome `json:"outcome"`

	// Message carries the failure reason for failed operations.
	Message string `json:"message,omitempty"`
}

// SyncPhase is the aggregate outcome of a sync attempt.
type SyncPhase string

const (
	SyncPhaseSucceeded SyncPhase = "Succeeded"
	SyncPhaseFailed    SyncPhase = "Failed"
	SyncPhasePartial   SyncPhase = "PartialFailure"
)

// SyncResult is the aggregate outcome of executing an operation list.
type SyncResult struct {
	Phase   SyncPhase         `json:"phase"`
	Results []OperationResult `json:"results"`
}

// Succeeded reports whether every operation applied cleanly.
func (r SyncResult) Succeeded() bool {
	return r.Phase == SyncPhaseSucceeded
}

// FailedKeys returns the keys of all failed operations, in result order.
func (r SyncResult) FailedKeys() []ResourceKey {
	var keys []ResourceKey
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			keys = append(keys, res.Operation.Key)
		}
	}
	return keys
}

// TriggerCause identifies why a reconciliation cycle started.
type TriggerCause string

const (
	// CauseManual is an explicit operator sync request.
	CauseManual TriggerCause = "manual"

	// CauseDrift is a self-heal trigger from observed live-state drift.
	CauseDrift TriggerCause = "drift"

	// CauseRevision is a newly resolved source revision.
	CauseRevision TriggerCause = "revision"

	// CauseRollback is a rollback to a recorded history entry.
	CauseRollback TriggerCause = "rollback"
)

// RevisionHistoryEntry is the durable record of one completed sync attempt.
// Entries are appended by the executor, never mutated or deleted; rollback
// consumes an entry as a new desired-state source.
type RevisionHistoryEntry struct {
	// ID uniquely identifies the sync attempt.
	ID string `json:"id"`

	// Application is the name of the application this entry belongs to.
	Application string `json:"application"`

	// Revision is the immutable source revision that was synced.
	Revision string `json:"revision"`

	// DeployedAt is when the sync attempt completed.
	DeployedAt time.Time `json:"deployedAt"`

	// Digest is the content digest of the full resolved resource set.
	Digest string `json:"digest"`

	// Resources is the full resolved desired set, retained so a rollback
	// can replay it without refetching the source.
	Resources []Resource `json:"resources"`

	// Result is the aggregate outcome of the attempt.
	Result SyncResult `json:"result"`

	// Cause is what triggered the attempt.
	Cause TriggerCause `json:"cause"`
}

// HealthStatus describes the observed health of a resource or application.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "Healthy"
	HealthProgressing HealthStatus = "Progressing"
	HealthDegraded    HealthStatus = "Degraded"
	HealthMissing     HealthStatus = "Missing"
	HealthUnknown     HealthStatus = "Unknown"
)

// healthSeverity orders statuses for worst-case aggregation.
// Degraded > Progressing > Missing > Unknown > Healthy.
var healthSeverity = map[HealthStatus]int{
	HealthHealthy:     0,
	HealthUnknown:     1,
	HealthMissing:     2,
	HealthProgressing: 3,
	HealthDegraded:    4,
}

// WorseHealth returns the more severe of two health statuses.
func WorseHealth(a, b HealthStatus) HealthStatus {
	if healthSeverity[b] > healthSeverity[a] {
		return b
	}
	return a
}

// SyncStatus is the application-level sync state derived from the latest
// diff result.
type SyncStatus string

const (
	SyncStatusSynced    SyncStatus = "Synced"
	SyncStatusOutOfSync SyncStatus = "OutOfSync"
	SyncStatusSyncing   SyncStatus = "Syncing"
	SyncStatusUnknown   SyncStatus = "Unknown"
)

// DigestResources computes a stable content digest over a resource set.
// The set is digested in key order so that the same logical set always
// produces the same digest regardless of input ordering.
func DigestResources(resources []Resource) string {
	sorted := make([]Resource, len(resources))
	copy(sorted, resources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.Less(sorted[j].Key) })

	h := sha256.New()
	for _, r := range sorted {
		// encoding/json serializes map keys in sorted order, which makes
		// the digest independent of map iteration order.
		raw, err := json.Marshal(r.Object)
		if err != nil {
			// Object trees come from JSON/YAML decoding and are always
			// marshalable; fall back to the key alone if not.
			raw = nil
		}
		fmt.Fprintf(h, "%s\n", r.Key)
		h.Write(raw)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
