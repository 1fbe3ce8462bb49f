package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"converge/internal/api"
	"converge/pkg/logging"
)

// FileStore persists history as one JSON-lines file per application under
// a state directory. It is the only engine state that survives a process
// restart; desired and live snapshots are always rebuilt from source and
// observation.
//
// Files are opened in append-only mode and lines are never rewritten,
// which makes the on-disk format match the Store contract directly.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a store rooted at the given directory, creating it
// if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Append implements Store.
func (s *FileStore) Append(entry api.RevisionHistoryEntry) error {
	if entry.Application == "" {
		return fmt.Errorf("history entry without application")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.pathFor(entry.Application), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	logging.Debug("HistoryStore", "Appended entry %s for %s (revision %s, phase %s)",
		entry.ID, entry.Application, entry.Revision, entry.Result.Phase)
	return nil
}

// List implements Store.
func (s *FileStore) List(application string) ([]api.RevisionHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(application)
}

// Get implements Store.
func (s *FileStore) Get(application string, index int) (api.RevisionHistoryEntry, error) {
	entries, err := s.List(application)
	if err != nil {
		return api.RevisionHistoryEntry{}, err
	}
	if index < 0 || index >= len(entries) {
		return api.RevisionHistoryEntry{}, api.NewNotFoundError("history entry", entryName(application, index))
	}
	return entries[index], nil
}

// Latest implements Store.
func (s *FileStore) Latest(application string) (api.RevisionHistoryEntry, bool, error) {
	entries, err := s.List(application)
	if err != nil {
		return api.RevisionHistoryEntry{}, false, err
	}
	if len(entries) == 0 {
		return api.RevisionHistoryEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (s *FileStore) read(application string) ([]api.RevisionHistoryEntry, error) {
	f, err := os.Open(s.pathFor(application))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	var entries []api.RevisionHistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry api.RevisionHistoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn final line from a crash mid-append is tolerated;
			// anything else is corruption worth surfacing.
			logging.Warn("HistoryStore", "Skipping unreadable history line for %s: %v", application, err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	return entries, nil
}

// pathFor maps an application identifier to its history file. Scope
// separators are flattened so scoped names stay one file each.
func (s *FileStore) pathFor(application string) string {
	name := strings.ReplaceAll(application, "/", "__")
	return filepath.Join(s.dir, name+".jsonl")
}
