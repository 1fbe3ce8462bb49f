package cluster

import (
	"context"

	"converge/internal/api"
)

// Interface is the capability set the engine requires from a target
// environment. The engine treats the target as an opaque store of
// independently-mutable resources; it never assumes transactional
// semantics across resources.
//
// Implementations must be safe for concurrent use: the live-state
// observer polls while executors mutate.
type Interface interface {
	// Get returns the resource for the given key, or a NotFoundError.
	Get(ctx context.Context, key api.ResourceKey) (api.Resource, error)

	// List returns every resource managed by the engine in this target.
	List(ctx context.Context) ([]api.Resource, error)

	// Apply creates or replaces the resource. The call returns only after
	// the change has taken effect in the target environment.
	Apply(ctx context.Context, res api.Resource) error

	// Delete removes the resource. Deleting an absent resource is not an
	// error.
	Delete(ctx context.Context, key api.ResourceKey) error

	// EnsureNamespace creates the namespace if it does not exist.
	EnsureNamespace(ctx context.Context, namespace string) error
}
