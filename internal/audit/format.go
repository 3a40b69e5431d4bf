package audit

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	scope := "all cases"
	if result.CaseID != nil {
		scope = fmt.Sprintf("case %d", *result.CaseID)
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Ledger: %s | No entries found.\n", scope)
	}

	var b strings.Builder

	first := formatDateTime(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Ledger: %s | %s–%s UTC\n", scope, first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		b.WriteString(fmt.Sprintf("%-10s %-14s %-16s %-8d %s\n",
			formatTimeOnly(e.Timestamp),
			truncate(e.Actor, 14),
			truncate(e.Action, 16),
			e.CaseID,
			ShortHash(e.Hash)))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

// ShortHash returns the first 12 hex characters of a hash.
func ShortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := make([]string, 0, len(s.Actions))
	for _, action := range slices.Sorted(maps.Keys(s.Actions)) {
		parts = append(parts, fmt.Sprintf("%d %s", s.Actions[action], action))
	}
	noun := "entries"
	if s.Total == 1 {
		noun = "entry"
	}
	return fmt.Sprintf("Summary: %d %s (%s) by %d actor(s)\n", s.Total, noun, strings.Join(parts, ", "), len(s.Actors))
}

// truncate shortens s to at most max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
