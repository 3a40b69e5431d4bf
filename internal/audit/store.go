package audit

import "sync"

// Store persists ledger entries. Load returns the full persisted sequence
// (empty, not an error, when nothing has been written yet). Append durably
// adds one entry after the current tail. The Ledger serializes Append and
// never runs it concurrently with Load.
type Store interface {
	Load() ([]Entry, error)
	Append(Entry) error
	Close() error
}

// MemoryStore keeps entries in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries), nil
}

func (s *MemoryStore) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEntry(e))
	return nil
}

func (s *MemoryStore) Close() error { return nil }
