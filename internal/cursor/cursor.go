// Package cursor implements keyset pagination over (timestamp, id) in
// descending order. Cursors are opaque to clients but are simply
// "<RFC3339Nano timestamp>_<row id>"; strict lexicographic comparison on
// the pair keeps pages stable under concurrent inserts.
package cursor

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLimit applies when the client omits limit.
	DefaultLimit = 20
	// MaxLimit is the hard clamp on page size.
	MaxLimit = 100
)

// Cursor is a decoded keyset boundary.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// Encode renders the boundary of the last returned row.
func Encode(ts time.Time, id string) string {
	return ts.UTC().Format(time.RFC3339Nano) + "_" + id
}

// Decode parses a client-supplied cursor. An empty cursor is valid and
// means "from the top".
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	// RFC3339 timestamps contain no underscores, so the first underscore
	// separates timestamp from id even when the id itself has underscores.
	idx := strings.Index(s, "_")
	if idx <= 0 || idx == len(s)-1 {
		return nil, fmt.Errorf("malformed cursor %q", s)
	}
	ts, err := time.Parse(time.RFC3339Nano, s[:idx])
	if err != nil {
		return nil, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return &Cursor{Timestamp: ts, ID: s[idx+1:]}, nil
}

// ClampLimit bounds a requested page size to [1, MaxLimit], substituting
// DefaultLimit for zero or negative requests.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Page is the standard paginated response envelope.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
	HasMore    bool    `json:"hasMore"`
}

// NewPage builds a Page from limit+1 fetched rows: the extra row, if
// present, is dropped and its predecessor's key becomes the next cursor.
func NewPage[T any](rows []T, limit int, key func(T) (time.Time, string)) Page[T] {
	if len(rows) <= limit {
		return Page[T]{Items: rows, NextCursor: nil, HasMore: false}
	}
	items := rows[:limit]
	last := items[len(items)-1]
	ts, id := key(last)
	next := Encode(ts, id)
	return Page[T]{Items: items, NextCursor: &next, HasMore: true}
}

// Before reports whether row (ts, id) sorts strictly after the cursor in
// descending (timestamp, id) order, i.e. whether the row belongs on pages
// following the cursor. Used by in-memory stores; SQL stores express the
// same predicate as (timestamp, id) < (cursor.ts, cursor.id).
func (c *Cursor) Before(ts time.Time, id string) bool {
	if ts.Before(c.Timestamp) {
		return true
	}
	if ts.Equal(c.Timestamp) {
		return id < c.ID
	}
	return false
}
