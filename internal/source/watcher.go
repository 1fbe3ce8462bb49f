package source

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"converge/pkg/logging"
)

// RevisionEvent signals that a repository's refs moved, meaning a revision
// selector may now resolve differently.
type RevisionEvent struct {
	// Repository is the repository whose refs changed.
	Repository string

	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// Watcher watches the ref files of repositories in a RepositoryStore and
// emits RevisionEvents when they move. Rapid successive writes to the same
// repository are debounced into a single event.
type Watcher struct {
	mu sync.RWMutex

	// root is the repository store root directory.
	root string

	// watcher is the fsnotify watcher instance.
	watcher *fsnotify.Watcher

	// repositories is the set of repositories being watched.
	repositories map[string]bool

	// debounceInterval is how long to wait for additional ref writes.
	debounceInterval time.Duration

	// pending tracks pending debounced events per repository.
	pending map[string]*time.Timer

	// running indicates if the watcher is active.
	running bool
}

// NewWatcher creates a revision watcher over the given store root.
func NewWatcher(root string, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		root:             root,
		repositories:     make(map[string]bool),
		debounceInterval: debounceInterval,
		pending:          make(map[string]*time.Timer),
	}
}

// AddRepository adds a repository's refs directory to the watch set. Safe
// to call before or after Start.
func (w *Watcher) AddRepository(repository string) error {
	w.mu.Lock()
	w.repositories[repository] = true
	watcher := w.watcher
	running := w.running
	w.mu.Unlock()

	if running && watcher != nil {
		return watcher.Add(filepath.Join(w.root, repository, refsDir))
	}
	return nil
}

// Start begins watching. Events are sent to the provided channel until
// the context is cancelled. The channel is not closed by the watcher.
func (w *Watcher) Start(ctx context.Context, events chan<- RevisionEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.running = true

	repos := make([]string, 0, len(w.repositories))
	for repo := range w.repositories {
		repos = append(repos, repo)
	}
	w.mu.Unlock()

	for _, repo := range repos {
		if err := watcher.Add(filepath.Join(w.root, repo, refsDir)); err != nil {
			logging.Warn("SourceWatcher", "Failed to watch refs of %s: %v", repo, err)
		}
	}

	go w.processEvents(ctx, events)

	logging.Info("SourceWatcher", "Watching %d repositories under %s", len(repos), w.root)
	return nil
}

// Stop stops the watcher and cancels pending debounced events.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	for repo, timer := range w.pending {
		timer.Stop()
		delete(w.pending, repo)
	}
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context, events chan<- RevisionEvent) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce(event.Name, events)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("SourceWatcher", "Watch error: %v", err)
		}
	}
}

// debounce schedules an event for the repository owning the changed ref
// file, resetting the timer if one is already pending.
func (w *Watcher) debounce(path string, events chan<- RevisionEvent) {
	repo := w.repositoryOf(path)
	if repo == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if timer, ok := w.pending[repo]; ok {
		timer.Stop()
	}
	w.pending[repo] = time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		delete(w.pending, repo)
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}

		select {
		case events <- RevisionEvent{Repository: repo, Timestamp: time.Now()}:
			logging.Debug("SourceWatcher", "Refs moved in repository %s", repo)
		default:
			logging.Warn("SourceWatcher", "Event channel full, dropping revision event for %s", repo)
		}
	})
}

// repositoryOf maps a watched ref path back to its repository name.
// Watched paths have the shape <root>/<repo>/refs/<file>.
func (w *Watcher) repositoryOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	repo, rest, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found || !strings.HasPrefix(rest, refsDir+"/") {
		return ""
	}
	return repo
}
