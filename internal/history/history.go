package history

import (
	"fmt"
	"sync"

	"converge/internal/api"
)

// Store is the append-only log of completed sync attempts. Entries are
// never mutated or deleted; rollback consumes an entry as a new
// desired-state source rather than editing history. Implementations are
// safe for concurrent append and read.
type Store interface {
	// Append records a completed sync attempt. Called exactly once per
	// attempt by the executor.
	Append(entry api.RevisionHistoryEntry) error

	// List returns all entries for the application in chronological
	// (append) order.
	List(application string) ([]api.RevisionHistoryEntry, error)

	// Get returns the entry at the given zero-based index, or a
	// NotFoundError.
	Get(application string, index int) (api.RevisionHistoryEntry, error)

	// Latest returns the most recent entry, or ok=false when the
	// application has no history.
	Latest(application string) (api.RevisionHistoryEntry, bool, error)
}

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]api.RevisionHistoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]api.RevisionHistoryEntry)}
}

// Append implements Store.
func (s *MemoryStore) Append(entry api.RevisionHistoryEntry) error {
	if entry.Application == "" {
		return fmt.Errorf("history entry without application")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Application] = append(s.entries[entry.Application], entry)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(application string) ([]api.RevisionHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[application]
	out := make([]api.RevisionHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(application string, index int) (api.RevisionHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[application]
	if index < 0 || index >= len(entries) {
		return api.RevisionHistoryEntry{}, api.NewNotFoundError("history entry", entryName(application, index))
	}
	return entries[index], nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(application string) (api.RevisionHistoryEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[application]
	if len(entries) == 0 {
		return api.RevisionHistoryEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func entryName(application string, index int) string {
	return fmt.Sprintf("%s[%d]", application, index)
}
