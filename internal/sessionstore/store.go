// Package sessionstore persists the Session record described in spec §3.
// The hub never creates sessions; this package backs the external API that
// does, and the lookups the hub performs on attach.
package sessionstore

import (
	"context"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
)

// Repository is the session persistence interface. The SQLite
// implementation in sqlite.go is the only one shipped; tests fake this
// interface directly, as the teacher's own tests fake store.Repository.
type Repository interface {
	// Create inserts a new session in StatusCreating.
	Create(ctx context.Context, s *domain.Session) error

	// Get retrieves a session by id, or (nil, nil) if it does not exist.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Activate transitions a session to active and records its sandbox
	// binding. Called by the external API once a sandbox attach succeeds.
	Activate(ctx context.Context, id, provider, providerID, environmentID string) error

	// Archive transitions a session to archived.
	Archive(ctx context.Context, id string) error

	// MarkError transitions a session to error state (unrecoverable attach
	// failure).
	MarkError(ctx context.Context, id string) error

	// CompareAndSwapIdle moves a session from active to idle, returning
	// false without error if the session was not active (lost the race
	// with a concurrent attach). See spec §5.
	CompareAndSwapIdle(ctx context.Context, id string) (bool, error)

	// Touch updates last_activity_at.
	Touch(ctx context.Context, id string, at time.Time) error

	// SetName updates the session's display name (server hook).
	SetName(ctx context.Context, id, name string) error

	// SetFirstUserMessageIfEmpty sets first_user_message only if it is
	// currently empty (first-only server hook, spec §4.3).
	SetFirstUserMessageIfEmpty(ctx context.Context, id, message string) error

	// ListActive returns every session currently in StatusActive, for the
	// idle reaper's scan.
	ListActive(ctx context.Context) ([]*domain.Session, error)

	Ping(ctx context.Context) error
	Close() error
}
