package api

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a requested entity does not exist. It carries
// the entity type and name so callers can produce precise error output.
type NotFoundError struct {
	// ResourceType categorizes the entity that was not found
	// (e.g., "application", "history entry", "resource").
	ResourceType string

	// ResourceName is the identifier of the entity that was not found.
	ResourceName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// NewNotFoundError creates a NotFoundError for the given entity.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceName: resourceName}
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// SourceUnavailableError reports a transient failure reaching the source
// repository (network, auth). The controller retries these with backoff.
type SourceUnavailableError struct {
	Repository string
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Repository, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// IsSourceUnavailable checks if an error is or wraps a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var sourceErr *SourceUnavailableError
	return errors.As(err, &sourceErr)
}

// RevisionNotFoundError reports that a revision selector did not resolve in
// the source repository. Permanent for the triggering request; not retried.
type RevisionNotFoundError struct {
	Repository string
	Revision   string
}

func (e *RevisionNotFoundError) Error() string {
	return fmt.Sprintf("revision %q not found in source %s", e.Revision, e.Repository)
}

// IsRevisionNotFound checks if an error is or wraps a RevisionNotFoundError.
func IsRevisionNotFound(err error) bool {
	var revErr *RevisionNotFoundError
	return errors.As(err, &revErr)
}

// RenderError reports that the desired-state renderer rejected a manifest.
// A render failure is total: the engine never syncs a partially rendered
// desired set. Permanent until the source changes.
type RenderError struct {
	// Manifest locates the failing document (file name or source path).
	Manifest string

	// Document is the zero-based index of the failing document within a
	// multi-document manifest, or -1 when not applicable.
	Document int

	Err error
}

func (e *RenderError) Error() string {
	if e.Document >= 0 {
		return fmt.Sprintf("render %s (document %d): %v", e.Manifest, e.Document, e.Err)
	}
	return fmt.Sprintf("render %s: %v", e.Manifest, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsRenderError checks if an error is or wraps a RenderError.
func IsRenderError(err error) bool {
	var renderErr *RenderError
	return errors.As(err, &renderErr)
}

// TargetUnavailableError reports a transient failure reaching the target
// environment. Diffing and syncing are deferred and retried.
type TargetUnavailableError struct {
	Target string
	Err    error
}

func (e *TargetUnavailableError) Error() string {
	return fmt.Sprintf("target %s unavailable: %v", e.Target, e.Err)
}

func (e *TargetUnavailableError) Unwrap() error { return e.Err }

// IsTargetUnavailable checks if an error is or wraps a TargetUnavailableError.
func IsTargetUnavailable(err error) bool {
	var targetErr *TargetUnavailableError
	return errors.As(err, &targetErr)
}

// OperationFailedError reports a per-resource operation failure during a
// sync. It never masks which resource failed inside a multi-resource sync.
type OperationFailedError struct {
	Key       ResourceKey
	Operation OperationType
	Err       error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Operation, e.Key, e.Err)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }
