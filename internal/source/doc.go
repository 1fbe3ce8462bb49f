// Package source retrieves declared manifests from a version-controlled
// source.
//
// The Fetcher interface is the engine's only view of a source; the
// transport behind it (git, OCI, a plain directory tree) is an injected
// capability. The package ships a filesystem-backed RepositoryStore whose
// layout mirrors a content-addressed repository: immutable revision
// snapshots plus mutable ref files pointing at them. A fsnotify Watcher
// turns ref movements into revision-change triggers for the controller.
package source
