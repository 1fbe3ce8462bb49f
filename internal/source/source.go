package source

import (
	"context"

	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
)

// Manifest is one raw manifest file fetched from a source repository.
type Manifest struct {
	// Path is the repository-relative path of the file.
	Path string

	// Data is the raw file content.
	Data []byte
}

// Fetcher retrieves declared manifests from a version-controlled source.
//
// Implementations must be idempotent for a fixed (repository, resolved
// revision) pair: repeated fetches return byte-identical content in the
// same order. The reconciliation loop relies on this to detect "nothing
// changed since last sync" without reprocessing.
type Fetcher interface {
	// Resolve resolves the source's revision selector (branch, tag,
	// commit, "latest") to exactly one immutable revision identifier.
	// Returns a RevisionNotFoundError if the selector does not resolve,
	// or a SourceUnavailableError if the repository cannot be reached.
	Resolve(ctx context.Context, src v1alpha1.Source) (string, error)

	// Fetch returns the raw manifests under the source's sub-path at the
	// resolved revision.
	Fetch(ctx context.Context, src v1alpha1.Source, revision string) ([]Manifest, error)
}
