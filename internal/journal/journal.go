// Package journal implements the Event Journal (spec §4.2): an append-only
// per-session log keyed by a monotonic sequence number, with read-after-seq
// and read-recent queries and archived-only pruning.
package journal

import (
	"context"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
)

// Store is the Event Journal interface the hub appends to and replays
// from. See sqlite.go for the shipped implementation.
type Store interface {
	// Append assigns the next seq for sessionID and inserts the event.
	// Two concurrent appends for the same session observe distinct,
	// consecutive seq values (spec invariant, §3).
	Append(ctx context.Context, sessionID, eventType string, payload []byte) (seq uint64, err error)

	// GetAfterSeq returns events with seq strictly greater than afterSeq,
	// ordered ascending. limit <= 0 means unbounded.
	GetAfterSeq(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]domain.Event, error)

	// GetRecent returns the last n events for a session, ascending.
	GetRecent(ctx context.Context, sessionID string, n int) ([]domain.Event, error)

	// GetMaxSeq returns the highest seq recorded for a session, or 0.
	GetMaxSeq(ctx context.Context, sessionID string) (uint64, error)

	// DeleteForSession removes every event for a session.
	DeleteForSession(ctx context.Context, sessionID string) error

	// PruneOlderThan deletes events older than cutoff, but only for
	// sessions whose status is archived; returns the number of rows
	// deleted. Active/idle sessions are never touched, regardless of age.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
