package audit

import "fmt"

// Violation classifies the first broken link found by verification.
// Truncated and rewritten are reported by Ledger.Verify when the store no
// longer holds an entry this ledger committed.
type Violation string

const (
	ViolationPrevHash  Violation = "prev_hash_mismatch"
	ViolationHash      Violation = "hash_mismatch"
	ViolationTruncated Violation = "truncated"
	ViolationRewritten Violation = "rewritten"
)

// VerifyResult is the outcome of a chain verification. When Valid is false,
// Index is the first untrusted entry; everything from Index on is suspect.
type VerifyResult struct {
	Valid   bool      `json:"valid"`
	Entries int       `json:"entries"`
	Index   int       `json:"index"`
	Kind    Violation `json:"kind,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// VerifyEntries checks every entry's link to its predecessor and recomputes
// its hash from its own fields. It reports, never repairs.
func VerifyEntries(entries []Entry) VerifyResult {
	prev := ZeroHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return VerifyResult{
				Entries: len(entries),
				Index:   i,
				Kind:    ViolationPrevHash,
				Reason:  fmt.Sprintf("prev_hash is %q, expected %q", e.PrevHash, prev),
			}
		}

		computed, err := e.ComputeHash()
		if err != nil {
			return VerifyResult{
				Entries: len(entries),
				Index:   i,
				Kind:    ViolationHash,
				Reason:  fmt.Sprintf("cannot recompute hash: %v", err),
			}
		}
		if computed != e.Hash {
			return VerifyResult{
				Entries: len(entries),
				Index:   i,
				Kind:    ViolationHash,
				Reason:  fmt.Sprintf("stored hash %q does not match recomputed %q", e.Hash, computed),
			}
		}

		prev = e.Hash
	}

	return VerifyResult{Valid: true, Entries: len(entries), Index: -1}
}

// verifyCommitted checks persisted entries against the chain committed by
// this process. A valid chain that lost or replaced committed entries is
// still a violation; entries appended later by another writer are not.
func verifyCommitted(persisted, committed []Entry) VerifyResult {
	res := VerifyEntries(persisted)
	if !res.Valid {
		return res
	}
	for i := range min(len(persisted), len(committed)) {
		if persisted[i].Hash != committed[i].Hash {
			return VerifyResult{
				Entries: len(persisted),
				Index:   i,
				Kind:    ViolationRewritten,
				Reason:  fmt.Sprintf("stored hash %q differs from committed %q", persisted[i].Hash, committed[i].Hash),
			}
		}
	}
	if len(persisted) < len(committed) {
		return VerifyResult{
			Entries: len(persisted),
			Index:   len(persisted),
			Kind:    ViolationTruncated,
			Reason:  fmt.Sprintf("store holds %d entries, %d were committed", len(persisted), len(committed)),
		}
	}
	return res
}
