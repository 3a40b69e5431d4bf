// Package audit implements the hash-chained, append-only governance ledger.
//
// Each entry carries the hash of its predecessor (ZeroHash for the first)
// and its own hash, computed over the RFC 8785 canonical JSON of every other
// field. Editing any entry invalidates it and breaks the link to every entry
// after it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
)

// ZeroHash is the prev_hash of the first entry in a ledger.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout used in entry timestamps (UTC).
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// MaxCaseID bounds case ids to integers JCS encodes exactly; it formats
// numbers as IEEE doubles, so larger ids could collide.
const MaxCaseID = 1<<53 - 1

// ErrInvalidEntry is returned for entries that cannot be hashed faithfully.
var ErrInvalidEntry = errors.New("audit: invalid entry")

// Entry is one governance event in the ledger.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	CaseID    int64          `json:"case_id"`
	Metadata  map[string]any `json:"metadata"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// hashedFields is Entry without its own hash: the input to ComputeHash.
type hashedFields struct {
	Timestamp string         `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	CaseID    int64          `json:"case_id"`
	Metadata  map[string]any `json:"metadata"`
	PrevHash  string         `json:"prev_hash"`
}

// Canonical returns the canonical serialization of the entry excluding Hash.
func (e Entry) Canonical() ([]byte, error) {
	if err := validateInput(e.Actor, e.Action, e.CaseID, e.Metadata); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(hashedFields{
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Action:    e.Action,
		CaseID:    e.CaseID,
		Metadata:  e.Metadata,
		PrevHash:  e.PrevHash,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: marshal entry: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	return canon, nil
}

// ComputeHash returns the hex SHA-256 of the entry's canonical serialization.
func (e Entry) ComputeHash() (string, error) {
	canon, err := e.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func checkCaseID(id int64) error {
	if id > MaxCaseID || id < -MaxCaseID {
		return fmt.Errorf("%w: case_id %d outside ±%d", ErrInvalidEntry, id, int64(MaxCaseID))
	}
	return nil
}

// validateInput rejects values that json.Marshal would rewrite before
// hashing: invalid UTF-8 is replaced with U+FFFD, so distinct inputs could
// share a hash and differ from what is persisted.
func validateInput(actor, action string, caseID int64, metadata map[string]any) error {
	if err := checkCaseID(caseID); err != nil {
		return err
	}
	if !utf8.ValidString(actor) {
		return fmt.Errorf("%w: actor is not valid UTF-8", ErrInvalidEntry)
	}
	if !utf8.ValidString(action) {
		return fmt.Errorf("%w: action is not valid UTF-8", ErrInvalidEntry)
	}
	if metadata != nil && !validStrings(reflect.ValueOf(metadata)) {
		return fmt.Errorf("%w: metadata contains invalid UTF-8", ErrInvalidEntry)
	}
	return nil
}

// validStrings walks v and reports whether every string in it, map keys
// included, is valid UTF-8. Past maxDepth it gives up and leaves cycles to
// json.Marshal, which rejects them.
func validStrings(v reflect.Value) bool { return validStringsDepth(v, 0) }

const maxDepth = 1000

func validStringsDepth(v reflect.Value, depth int) bool {
	if depth > maxDepth {
		return true
	}
	depth++
	switch v.Kind() {
	case reflect.String:
		return utf8.ValidString(v.String())
	case reflect.Interface, reflect.Pointer:
		return v.IsNil() || validStringsDepth(v.Elem(), depth)
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !validStringsDepth(iter.Key(), depth) || !validStringsDepth(iter.Value(), depth) {
				return false
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return true // []byte marshals as base64
		}
		for i := 0; i < v.Len(); i++ {
			if !validStringsDepth(v.Index(i), depth) {
				return false
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() && !validStringsDepth(v.Field(i), depth) {
				return false
			}
		}
	}
	return true
}

// normalizeMetadata round-trips metadata through JSON so the in-memory form
// equals what any store persists and reloads. Nil becomes an empty map.
func normalizeMetadata(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneEntry(e Entry) Entry {
	if e.Metadata != nil {
		e.Metadata = cloneValue(e.Metadata).(map[string]any)
	}
	return e
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// cloneValue deep-copies JSON-decoded values.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}
