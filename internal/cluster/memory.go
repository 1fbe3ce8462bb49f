package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"converge/internal/api"
)

// Memory is an in-memory cluster implementation. It backs tests and the
// standalone demo mode, and doubles as the reference semantics for the
// Interface contract: apply is create-or-replace, delete is idempotent,
// and every mutation bumps the resource version.
type Memory struct {
	mu         sync.RWMutex
	resources  map[api.ResourceKey]api.Resource
	namespaces map[string]bool
	version    int64

	// failing maps keys to injected errors, returned by Apply/Delete.
	failing map[api.ResourceKey]error
}

// NewMemory creates an empty in-memory cluster.
func NewMemory() *Memory {
	return &Memory{
		resources:  make(map[api.ResourceKey]api.Resource),
		namespaces: make(map[string]bool),
		failing:    make(map[api.ResourceKey]error),
	}
}

// Get returns a deep copy of the stored resource.
func (m *Memory) Get(_ context.Context, key api.ResourceKey) (api.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.resources[key]
	if !ok {
		return api.Resource{}, api.NewNotFoundError("resource", key.String())
	}
	return res.DeepCopy(), nil
}

// List returns deep copies of all stored resources in key order.
func (m *Memory) List(_ context.Context) ([]api.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.Resource, 0, len(m.resources))
	for _, res := range m.resources {
		out = append(out, res.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

// Apply stores a deep copy of the resource and assigns a fresh resource
// version.
func (m *Memory) Apply(_ context.Context, res api.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failing[res.Key]; ok {
		return err
	}

	m.version++
	stored := res.DeepCopy()
	stored.ResourceVersion = strconv.FormatInt(m.version, 10)
	m.resources[res.Key] = stored
	return nil
}

// Delete removes the resource. Absent keys are a no-op.
func (m *Memory) Delete(_ context.Context, key api.ResourceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failing[key]; ok {
		return err
	}

	delete(m.resources, key)
	return nil
}

// EnsureNamespace records the namespace as existing.
func (m *Memory) EnsureNamespace(_ context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces[namespace] = true
	return nil
}

// HasNamespace reports whether EnsureNamespace was called for the
// namespace. Test helper.
func (m *Memory) HasNamespace(namespace string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.namespaces[namespace]
}

// FailOn injects an error for Apply/Delete calls on the given key.
// Passing a nil error clears the injection. Test helper.
func (m *Memory) FailOn(key api.ResourceKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failing, key)
		return
	}
	m.failing[key] = err
}

// SetStatus merges a status payload into the stored resource, simulating
// the target platform's runtime converging. Test helper.
func (m *Memory) SetStatus(key api.ResourceKey, status map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[key]
	if !ok {
		return api.NewNotFoundError("resource", key.String())
	}

	m.version++
	res.Object["status"] = status
	res.ResourceVersion = strconv.FormatInt(m.version, 10)
	m.resources[key] = res
	return nil
}

// Len returns the number of stored resources.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resources)
}
