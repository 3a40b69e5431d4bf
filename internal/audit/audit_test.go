package audit

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l, err := Open(store)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	return l, store
}

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

func TestEmptyLedger(t *testing.T) {
	l, _ := newTestLedger(t)
	if l.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d entries", l.Len())
	}
	if l.LastHash() != ZeroHash {
		t.Fatalf("expected zero hash, got %s", l.LastHash())
	}
	res, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Entries != 0 || res.Index != -1 {
		t.Fatalf("expected valid empty chain, got %+v", res)
	}
}

func TestTwoAppendScenario(t *testing.T) {
	l, _ := newTestLedger(t)

	h1, err := l.Append("SYSTEM", "VALIDATE", 1001, map[string]any{"result": "breach"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	h2, err := l.Append("AGENT1", "STATUS_UPDATE", 1001, map[string]any{"new_status": "Closed"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}

	if h1 == h2 {
		t.Fatal("expected distinct hashes")
	}
	if len(h1) != 64 || len(h2) != 64 {
		t.Fatalf("expected 64 char hex hashes, got %d and %d", len(h1), len(h2))
	}

	entries := l.ReadAll()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].PrevHash != ZeroHash {
		t.Errorf("first entry prev_hash = %s, expected zero hash", entries[0].PrevHash)
	}
	if entries[1].PrevHash != h1 {
		t.Errorf("second entry prev_hash = %s, expected %s", entries[1].PrevHash, h1)
	}
	if entries[1].Hash != h2 || l.LastHash() != h2 {
		t.Errorf("last hash not tracked: entry=%s ledger=%s want=%s", entries[1].Hash, l.LastHash(), h2)
	}
	if entries[0].Actor != "SYSTEM" || entries[0].Action != "VALIDATE" || entries[0].CaseID != 1001 {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Metadata["new_status"] != "Closed" {
		t.Errorf("unexpected metadata: %v", entries[1].Metadata)
	}
}

func TestSequentialAppendsProduceValidChain(t *testing.T) {
	l, _ := newTestLedger(t)

	for i := 0; i < 25; i++ {
		if _, err := l.Append("SYSTEM", "VALIDATE", int64(i), map[string]any{"i": i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	res, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("expected valid chain, got error at %d: %s", res.Index, res.Reason)
	}
	if res.Entries != 25 {
		t.Fatalf("expected 25 entries, got %d", res.Entries)
	}
}

func TestStoredHashMatchesRecomputation(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Append("SYSTEM", "VALIDATE", 1, map[string]any{"nested": map[string]any{"b": 2, "a": []any{1, "x"}}})
	l.Append("SYSTEM", "VALIDATE", 2, nil)

	for i, e := range l.ReadAll() {
		got, err := e.ComputeHash()
		if err != nil {
			t.Fatal(err)
		}
		if got != e.Hash {
			t.Errorf("entry %d: recomputed %s, stored %s", i, got, e.Hash)
		}
	}
}

func TestNilMetadataStoredAsEmptyObject(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Append("SYSTEM", "VALIDATE", 1, nil)

	e := l.ReadAll()[0]
	if e.Metadata == nil || len(e.Metadata) != 0 {
		t.Fatalf("expected empty metadata map, got %#v", e.Metadata)
	}
}

func TestAppendDoesNotRetainCallerMetadata(t *testing.T) {
	l, _ := newTestLedger(t)
	meta := map[string]any{"result": "breach"}
	l.Append("SYSTEM", "VALIDATE", 1, meta)
	meta["result"] = "clean"

	res, _ := l.Verify()
	if !res.Valid {
		t.Fatalf("caller mutation leaked into ledger: %+v", res)
	}
	if l.ReadAll()[0].Metadata["result"] != "breach" {
		t.Fatal("ledger entry changed after caller mutation")
	}
}

func TestReadAllReturnsCopy(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Append("SYSTEM", "VALIDATE", 1, map[string]any{"result": "breach"})

	entries := l.ReadAll()
	entries[0].Actor = "MALLORY"
	entries[0].Metadata["result"] = "clean"

	again := l.ReadAll()
	if again[0].Actor != "SYSTEM" || again[0].Metadata["result"] != "breach" {
		t.Fatalf("ReadAll exposed internal state: %+v", again[0])
	}
}

func TestAppendRejectsUnencodableMetadata(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Append("SYSTEM", "VALIDATE", 1, map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Fatal("expected error for channel metadata")
	}
	if l.Len() != 0 {
		t.Fatal("failed append must not add an entry")
	}
}

func TestAppendRejectsCaseIDOutsideExactRange(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, id := range []int64{MaxCaseID + 2, -MaxCaseID - 1, 1<<63 - 1} {
		if _, err := l.Append("SYSTEM", "VALIDATE", id, nil); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("case_id %d: expected ErrInvalidEntry, got %v", id, err)
		}
	}
	if _, err := l.Append("SYSTEM", "VALIDATE", MaxCaseID, nil); err != nil {
		t.Fatalf("MaxCaseID should be accepted: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Len())
	}
}

func TestAppendRejectsInvalidUTF8(t *testing.T) {
	l, _ := newTestLedger(t)
	cases := map[string]func() error{
		"actor": func() error {
			_, err := l.Append("\xff", "VALIDATE", 1, nil)
			return err
		},
		"action": func() error {
			_, err := l.Append("SYSTEM", "VALIDATE\xfe", 1, nil)
			return err
		},
		"metadata value": func() error {
			_, err := l.Append("SYSTEM", "VALIDATE", 1, map[string]any{"note": "\xff"})
			return err
		},
		"metadata key": func() error {
			_, err := l.Append("SYSTEM", "VALIDATE", 1, map[string]any{"\xfe": 1})
			return err
		},
		"nested metadata": func() error {
			_, err := l.Append("SYSTEM", "VALIDATE", 1, map[string]any{
				"sla": map[string]any{"tags": []any{"ok", "\xff"}},
			})
			return err
		},
	}
	for name, appendFn := range cases {
		if err := appendFn(); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("%s: expected ErrInvalidEntry, got %v", name, err)
		}
	}
	if l.Len() != 0 {
		t.Fatalf("rejected appends must not add entries, got %d", l.Len())
	}

	if _, err := l.Append("SYSTEM", "VALIDATE", 1, map[string]any{"note": "résumé ✓"}); err != nil {
		t.Fatalf("valid multi-byte text rejected: %v", err)
	}
}

type failingStore struct {
	MemoryStore
	fail bool
}

func (s *failingStore) Append(e Entry) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Append(e)
}

func TestFailedPersistDoesNotAdvanceChain(t *testing.T) {
	store := &failingStore{}
	l, err := Open(store)
	if err != nil {
		t.Fatal(err)
	}
	h1, _ := l.Append("SYSTEM", "VALIDATE", 1, nil)

	store.fail = true
	if _, err := l.Append("SYSTEM", "VALIDATE", 2, nil); err == nil {
		t.Fatal("expected persist error")
	}
	if l.Len() != 1 || l.LastHash() != h1 {
		t.Fatalf("chain advanced after failed persist: len=%d last=%s", l.Len(), l.LastHash())
	}

	store.fail = false
	l.Append("SYSTEM", "VALIDATE", 3, nil)
	res, _ := l.Verify()
	if !res.Valid || res.Entries != 2 {
		t.Fatalf("expected valid 2-entry chain, got %+v", res)
	}
}

func TestConcurrentAppendsNeverFork(t *testing.T) {
	l, _ := newTestLedger(t)

	var wg sync.WaitGroup
	hashes := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := l.Append("AGENT", "STATUS_UPDATE", int64(i), map[string]any{"n": i})
			if err != nil {
				t.Error(err)
				return
			}
			hashes <- h
		}(i)
	}
	wg.Wait()
	close(hashes)

	res, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("expected valid chain after concurrent appends, got error at %d: %s", res.Index, res.Reason)
	}
	if res.Entries != 100 {
		t.Fatalf("expected 100 entries, got %d", res.Entries)
	}

	seen := map[string]bool{}
	for _, e := range l.ReadAll() {
		if seen[e.PrevHash] {
			t.Fatalf("two entries share prev_hash %s", e.PrevHash)
		}
		seen[e.PrevHash] = true
	}
	n := 0
	for range hashes {
		n++
	}
	if n != 100 {
		t.Fatalf("expected 100 returned hashes, got %d", n)
	}
}

func TestConcurrentReadersSeeCommittedPrefix(t *testing.T) {
	l, _ := newTestLedger(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if res := VerifyEntries(l.ReadAll()); !res.Valid {
					t.Errorf("reader observed broken chain: %+v", res)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		l.Append("SYSTEM", "VALIDATE", int64(i), nil)
	}
	close(stop)
	wg.Wait()
}

func TestTimestampFormat(t *testing.T) {
	l, _ := newTestLedger(t)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 123e6, time.FixedZone("X", 3600)) }
	l.Append("SYSTEM", "VALIDATE", 1, nil)

	if got := l.ReadAll()[0].Timestamp; got != "2026-03-01T08:30:00.123Z" {
		t.Fatalf("unexpected timestamp %q", got)
	}
}

func TestAppendAfterClose(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append("SYSTEM", "VALIDATE", 1, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenUnparseableFileIsInitError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	os.WriteFile(path, []byte(`[{"timestamp": `), 0600)

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Open(store)
	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InitError, got %v", err)
	}
}
