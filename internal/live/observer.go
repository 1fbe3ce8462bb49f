package live

import (
	"context"
	"sync"
	"time"

	apiequality "k8s.io/apimachinery/pkg/api/equality"

	"converge/internal/api"
	"converge/internal/cluster"
	"converge/pkg/logging"
)

// EventType classifies a live-state change notification.
type EventType string

const (
	// EventUpdated covers both first observation and spec/status changes.
	EventUpdated EventType = "Updated"

	// EventDeleted signals a previously observed resource is gone.
	EventDeleted EventType = "Deleted"
)

// Event is a change notification for one resource key. The carried
// resource is the post-change state for updates and the last-known state
// for deletions.
type Event struct {
	Type     EventType
	Resource api.Resource
}

// Observer maintains an up-to-date, queryable view of the resources
// present in one target environment. The cache is refreshed by polling
// and only ever reflects state that has already taken effect in the
// target: subscribers may see bounded delay but never phantom entries.
//
// The cache is shared by every application reconciling into the same
// target; it is internally synchronized for concurrent read.
type Observer struct {
	cluster  cluster.Interface
	interval time.Duration

	mu          sync.RWMutex
	cache       map[api.ResourceKey]api.Resource
	subscribers []chan Event
	running     bool
}

// NewObserver creates an observer polling the cluster at the given
// interval.
func NewObserver(cl cluster.Interface, interval time.Duration) *Observer {
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &Observer{
		cluster:  cl,
		interval: interval,
		cache:    make(map[api.ResourceKey]api.Resource),
	}
}

// Start runs the poll loop until the context is cancelled. An initial
// refresh happens before the first tick so consumers start from a
// populated cache.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.mu.Unlock()

	if err := o.Refresh(ctx); err != nil {
		logging.Warn("LiveObserver", "Initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			if err := o.Refresh(ctx); err != nil {
				logging.Warn("LiveObserver", "Refresh failed: %v", err)
			}
		}
	}
}

// Refresh lists the target environment once and reconciles the cache
// against it, notifying subscribers of every difference. Consumers that
// need a fresh point-in-time view (the controller at the start of each
// diff) call this directly.
func (o *Observer) Refresh(ctx context.Context) error {
	resources, err := o.cluster.List(ctx)
	if err != nil {
		return err
	}

	observed := make(map[api.ResourceKey]api.Resource, len(resources))
	for _, res := range resources {
		observed[res.Key] = res
	}

	var events []Event

	o.mu.Lock()
	for key, res := range observed {
		prev, seen := o.cache[key]
		if !seen || prev.ResourceVersion != res.ResourceVersion || !apiequality.Semantic.DeepEqual(prev.Object, res.Object) {
			o.cache[key] = res
			events = append(events, Event{Type: EventUpdated, Resource: res.DeepCopy()})
		}
	}
	for key, prev := range o.cache {
		if _, still := observed[key]; !still {
			delete(o.cache, key)
			events = append(events, Event{Type: EventDeleted, Resource: prev.DeepCopy()})
		}
	}
	subscribers := make([]chan Event, len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.mu.Unlock()

	for _, event := range events {
		for _, sub := range subscribers {
			select {
			case sub <- event:
			default:
				logging.Warn("LiveObserver", "Subscriber channel full, dropping %s for %s",
					event.Type, event.Resource.Key)
			}
		}
	}
	return nil
}

// Get returns the cached resource for the key, if present.
func (o *Observer) Get(key api.ResourceKey) (api.Resource, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	res, ok := o.cache[key]
	if !ok {
		return api.Resource{}, false
	}
	return res.DeepCopy(), true
}

// Snapshot returns a point-in-time copy of the whole cache.
func (o *Observer) Snapshot() map[api.ResourceKey]api.Resource {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[api.ResourceKey]api.Resource, len(o.cache))
	for key, res := range o.cache {
		out[key] = res.DeepCopy()
	}
	return out
}

// SnapshotFor returns a point-in-time copy of the resources tracked for
// one application, selected by the tracking label the executor stamps.
func (o *Observer) SnapshotFor(application string) []api.Resource {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []api.Resource
	for _, res := range o.cache {
		if res.Label(api.ApplicationLabel) == application {
			out = append(out, res.DeepCopy())
		}
	}
	return out
}

// Subscribe registers a change notification channel. The returned channel
// is buffered; slow consumers lose events rather than blocking the
// observer.
func (o *Observer) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	o.mu.Lock()
	o.subscribers = append(o.subscribers, ch)
	o.mu.Unlock()
	return ch
}
