package audit

import (
	"time"
)

// Query selects ledger entries for review. Zero values match everything.
type Query struct {
	CaseID *int64
	Actor  string
	Action string
	From   time.Time // zero value = no lower bound
	To     time.Time // zero value = no upper bound
}

// ReplaySummary holds per-action counts for a replayed selection.
type ReplaySummary struct {
	Total          int            `json:"total"`
	Actions        map[string]int `json:"actions"`
	Actors         map[string]int `json:"actors"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds the selected entries in ledger order and their summary.
type ReplayResult struct {
	CaseID  *int64        `json:"case_id,omitempty"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay filters entries by q, preserving ledger order.
func Replay(entries []Entry, q Query) *ReplayResult {
	result := &ReplayResult{
		CaseID:  q.CaseID,
		Entries: []Entry{},
		Summary: ReplaySummary{Actions: map[string]int{}, Actors: map[string]int{}},
	}

	for _, e := range entries {
		if !q.matches(e) {
			continue
		}
		result.Entries = append(result.Entries, e)
		updateSummary(&result.Summary, e)
	}
	return result
}

func (q Query) matches(e Entry) bool {
	if q.CaseID != nil && e.CaseID != *q.CaseID {
		return false
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !q.From.IsZero() && ts.Before(q.From) {
			return false
		}
		if !q.To.IsZero() && ts.After(q.To) {
			return false
		}
	}
	return true
}

func updateSummary(s *ReplaySummary, e Entry) {
	s.Total++
	s.Actions[e.Action]++
	s.Actors[e.Actor]++
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
