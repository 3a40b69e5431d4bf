package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("audit: ledger closed")

// InitError reports a persisted ledger that exists but cannot be opened or
// parsed. It is fatal: discarding or repairing the store would defeat
// tamper evidence.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("audit: ledger init: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Ledger is the append-only, hash-chained governance log.
// Appends are serialized under an exclusive lock so every entry is chained
// to exactly one predecessor; readers share a read lock and only ever see
// fully committed entries.
type Ledger struct {
	mu       sync.RWMutex
	store    Store
	entries  []Entry
	lastHash string
	closed   bool
	now      func() time.Time
}

// Open loads the persisted entries from store. A store with no data yields
// an empty ledger; a store that cannot be parsed yields an *InitError.
func Open(store Store) (*Ledger, error) {
	entries, err := store.Load()
	if err != nil {
		var ie *InitError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &InitError{Err: err}
	}

	lastHash := ZeroHash
	if len(entries) > 0 {
		lastHash = entries[len(entries)-1].Hash
	}

	return &Ledger{
		store:    store,
		entries:  entries,
		lastHash: lastHash,
		now:      time.Now,
	}, nil
}

// Append records a new entry chained to the current tail, persists it and
// returns its hash. The in-memory chain only advances once the store has
// accepted the entry.
func (l *Ledger) Append(actor, action string, caseID int64, metadata map[string]any) (string, error) {
	if err := validateInput(actor, action, caseID, metadata); err != nil {
		return "", err
	}
	meta, err := normalizeMetadata(metadata)
	if err != nil {
		return "", fmt.Errorf("audit: metadata is not JSON-encodable: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return "", ErrClosed
	}

	entry := Entry{
		Timestamp: l.now().UTC().Format(TimestampFormat),
		Actor:     actor,
		Action:    action,
		CaseID:    caseID,
		Metadata:  meta,
		PrevHash:  l.lastHash,
	}
	hash, err := entry.ComputeHash()
	if err != nil {
		return "", err
	}
	entry.Hash = hash

	if err := l.store.Append(entry); err != nil {
		return "", fmt.Errorf("audit: persist entry: %w", err)
	}

	l.entries = append(l.entries, entry)
	l.lastHash = hash
	return hash, nil
}

// ReadAll returns a copy of every committed entry in order.
func (l *Ledger) ReadAll() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEntries(l.entries)
}

// Len returns the number of committed entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastHash returns the hash of the last entry, or ZeroHash when empty.
func (l *Ledger) LastHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastHash
}

// Verify re-reads the persisted store and checks the hash chain, then that
// every entry committed through this ledger is still stored in place, so a
// store that was cut short or replaced reports a violation.
func (l *Ledger) Verify() (VerifyResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.store.Load()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: reload for verification: %w", err)
	}
	return verifyCommitted(entries, l.entries), nil
}

// Close releases the underlying store. Further appends fail with ErrClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.store.Close()
}
