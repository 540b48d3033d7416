package session

import (
	"time"

	sqlpkg "sessiondb/pkg/sql"
)

const maxQueryHistory = 100

// HistoryEntry is one executed statement in a record's query history.
type HistoryEntry struct {
	Query    string    `json:"query"`
	Kind     string    `json:"kind"`
	At       time.Time `json:"at"`
	Duration string    `json:"duration"` // e.g. "12.345ms"
	Error    string    `json:"error,omitempty"`
	// Noise marks driver chatter that is not kept in history.
	Noise bool `json:"-"`
}

// NewHistoryEntry builds an entry for query with its arguments inlined for display.
func NewHistoryEntry(query string, args []any, at time.Time, elapsed time.Duration, err error) HistoryEntry {
	e := HistoryEntry{
		Query: sqlpkg.SubstituteParams(query, args),
		Kind:  sqlpkg.StatementKind(query),
		At:    at,
		Noise: sqlpkg.IsNoise(query),
	}
	if elapsed > 0 {
		e.Duration = elapsed.String()
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// appendHistory records e on rec, oldest first, keeping at most maxQueryHistory entries.
// Entries marked Noise are dropped. Caller must hold the registry mutex.
func appendHistory(rec *record, e HistoryEntry) {
	if e.Noise {
		return
	}
	rec.history = append(rec.history, e)
	if len(rec.history) > maxQueryHistory {
		rec.history = rec.history[len(rec.history)-maxQueryHistory:]
	}
}

func copyHistory(rec *record) []HistoryEntry {
	if len(rec.history) == 0 {
		return nil
	}
	out := make([]HistoryEntry, len(rec.history))
	copy(out, rec.history)
	return out
}
