package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"converge/internal/api"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
)

const (
	revisionsDir = "revisions"
	refsDir      = "refs"
)

// RepositoryStore is a filesystem-backed Fetcher. Each repository lives
// under the store root with the layout
//
//	<root>/<repository>/revisions/<revision>/...  immutable snapshot trees
//	<root>/<repository>/refs/<selector>           text file naming a revision
//
// A selector that names a revision directory resolves to itself (commit
// pinning); anything else is looked up as a ref. "latest" is a ref like
// any branch or tag.
type RepositoryStore struct {
	root string
}

// NewRepositoryStore creates a store rooted at the given directory.
func NewRepositoryStore(root string) *RepositoryStore {
	return &RepositoryStore{root: root}
}

// Resolve resolves the revision selector to an immutable revision.
func (s *RepositoryStore) Resolve(_ context.Context, src v1alpha1.Source) (string, error) {
	repoDir := filepath.Join(s.root, src.Repository)
	if _, err := os.Stat(repoDir); err != nil {
		return "", &api.SourceUnavailableError{Repository: src.Repository, Err: err}
	}

	selector := src.Revision
	if selector == "" {
		selector = v1alpha1.RevisionLatest
	}

	// Commit pinning: a selector naming a revision snapshot wins.
	if _, err := os.Stat(filepath.Join(repoDir, revisionsDir, selector)); err == nil {
		return selector, nil
	}

	refPath := filepath.Join(repoDir, refsDir, selector)
	data, err := os.ReadFile(refPath)
	if os.IsNotExist(err) {
		return "", &api.RevisionNotFoundError{Repository: src.Repository, Revision: selector}
	}
	if err != nil {
		return "", &api.SourceUnavailableError{Repository: src.Repository, Err: err}
	}

	revision := strings.TrimSpace(string(data))
	if revision == "" {
		return "", &api.RevisionNotFoundError{Repository: src.Repository, Revision: selector}
	}
	if _, err := os.Stat(filepath.Join(repoDir, revisionsDir, revision)); err != nil {
		return "", &api.RevisionNotFoundError{Repository: src.Repository, Revision: revision}
	}
	return revision, nil
}

// Fetch returns the manifests under the source path at the resolved
// revision, sorted by repository-relative path so that repeated fetches
// are byte-identical and ordered identically.
func (s *RepositoryStore) Fetch(_ context.Context, src v1alpha1.Source, revision string) ([]Manifest, error) {
	snapDir := filepath.Join(s.root, src.Repository, revisionsDir, revision)
	if _, err := os.Stat(snapDir); err != nil {
		if os.IsNotExist(err) {
			return nil, &api.RevisionNotFoundError{Repository: src.Repository, Revision: revision}
		}
		return nil, &api.SourceUnavailableError{Repository: src.Repository, Err: err}
	}

	baseDir := snapDir
	if src.Path != "" {
		baseDir = filepath.Join(snapDir, filepath.Clean(src.Path))
		if !strings.HasPrefix(baseDir, snapDir+string(os.PathSeparator)) {
			return nil, fmt.Errorf("source path %q escapes the repository", src.Path)
		}
	}

	var manifests []Manifest
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isManifestFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(snapDir, path)
		if err != nil {
			return err
		}
		manifests = append(manifests, Manifest{Path: filepath.ToSlash(rel), Data: data})
		return nil
	})
	if os.IsNotExist(err) {
		// A missing sub-path renders to an empty desired set; the differ
		// will surface everything live as prune candidates.
		return nil, nil
	}
	if err != nil {
		return nil, &api.SourceUnavailableError{Repository: src.Repository, Err: err}
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Path < manifests[j].Path })
	return manifests, nil
}

func isManifestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
