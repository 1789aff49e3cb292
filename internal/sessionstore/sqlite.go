package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
)

// SQLiteStore implements Repository over a shared *sql.DB. The schema lives
// alongside the journal's events table so the reaper's idle check and the
// journal's archived-only prune can both reference session status without
// crossing a service boundary (see internal/journal.SQLiteStore).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite wraps an already-opened database handle (WAL mode, busy_timeout
// configured by the caller — see cmd/relayd/main.go) and ensures the
// sessions table exists.
func NewSQLite(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                  TEXT PRIMARY KEY,
		mode                TEXT NOT NULL,
		status              TEXT NOT NULL,
		environment_id      TEXT NOT NULL DEFAULT '',
		sandbox_provider    TEXT NOT NULL DEFAULT '',
		sandbox_provider_id TEXT NOT NULL DEFAULT '',
		name                TEXT NOT NULL DEFAULT '',
		first_user_message  TEXT NOT NULL DEFAULT '',
		created_at          INTEGER NOT NULL,
		last_activity_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`
	_, err := s.db.Exec(query)
	return err
}

// Create inserts a new session in StatusCreating.
func (s *SQLiteStore) Create(ctx context.Context, sess *domain.Session) error {
	query := `
	INSERT INTO sessions (id, mode, status, environment_id, sandbox_provider, sandbox_provider_id, name, first_user_message, created_at, last_activity_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, string(sess.Mode), string(domain.StatusCreating),
		sess.EnvironmentID, sess.SandboxProvider, sess.SandboxProviderID,
		sess.Name, sess.FirstUserMessage,
		sess.CreatedAt.Unix(), sess.LastActivityAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// Get retrieves a session by id, or (nil, nil) if it does not exist.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `
	SELECT id, mode, status, environment_id, sandbox_provider, sandbox_provider_id,
	       name, first_user_message, created_at, last_activity_at
	FROM sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var sess domain.Session
	var mode, status string
	var createdAt, lastActivityAt int64

	err := row.Scan(
		&sess.ID, &mode, &status, &sess.EnvironmentID, &sess.SandboxProvider, &sess.SandboxProviderID,
		&sess.Name, &sess.FirstUserMessage, &createdAt, &lastActivityAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Mode = domain.SessionMode(mode)
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastActivityAt = time.Unix(lastActivityAt, 0)

	return &sess, nil
}

// Activate transitions a session to active and records its sandbox binding.
func (s *SQLiteStore) Activate(ctx context.Context, id, provider, providerID, environmentID string) error {
	query := `
	UPDATE sessions SET status = ?, sandbox_provider = ?, sandbox_provider_id = ?, environment_id = ?, last_activity_at = ?
	WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, string(domain.StatusActive), provider, providerID, environmentID, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("activate session %s: %w", id, err)
	}
	return rowsAffectedOrNotFound(res, id)
}

// Archive transitions a session to archived.
func (s *SQLiteStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, string(domain.StatusArchived), id)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", id, err)
	}
	return rowsAffectedOrNotFound(res, id)
}

// MarkError transitions a session to error state.
func (s *SQLiteStore) MarkError(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, string(domain.StatusError), id)
	if err != nil {
		return fmt.Errorf("mark session %s errored: %w", id, err)
	}
	return rowsAffectedOrNotFound(res, id)
}

// CompareAndSwapIdle moves a session from active to idle; the WHERE clause
// on the current status is the compare-and-swap spec §5 requires so a
// reaper tick cannot race an in-flight attach that just set status=active.
func (s *SQLiteStore) CompareAndSwapIdle(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
		string(domain.StatusIdle), id, string(domain.StatusActive))
	if err != nil {
		return false, fmt.Errorf("idle session %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idle session %s rows affected: %w", id, err)
	}
	return rows > 0, nil
}

// Touch updates last_activity_at.
func (s *SQLiteStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = ? WHERE id = ?`, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session %s rows affected: %w", id, err)
	}
	if rows == 0 {
		slog.Warn("touch affected no rows", "session_id", id)
	}
	return nil
}

// SetName updates the session's display name.
func (s *SQLiteStore) SetName(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("set session %s name: %w", id, err)
	}
	return nil
}

// SetFirstUserMessageIfEmpty sets first_user_message only if it is empty.
func (s *SQLiteStore) SetFirstUserMessageIfEmpty(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET first_user_message = ? WHERE id = ? AND first_user_message = ''`,
		message, id)
	if err != nil {
		return fmt.Errorf("set session %s first user message: %w", id, err)
	}
	return nil
}

// ListActive returns every session currently in StatusActive.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*domain.Session, error) {
	query := `
	SELECT id, mode, status, environment_id, sandbox_provider, sandbox_provider_id,
	       name, first_user_message, created_at, last_activity_at
	FROM sessions WHERE status = ?`

	rows, err := s.db.QueryContext(ctx, query, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close active sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var sess domain.Session
		var mode, status string
		var createdAt, lastActivityAt int64

		if err := rows.Scan(
			&sess.ID, &mode, &status, &sess.EnvironmentID, &sess.SandboxProvider, &sess.SandboxProviderID,
			&sess.Name, &sess.FirstUserMessage, &createdAt, &lastActivityAt,
		); err != nil {
			return nil, fmt.Errorf("scan active session row: %w", err)
		}
		sess.Mode = domain.SessionMode(mode)
		sess.Status = domain.SessionStatus(status)
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.LastActivityAt = time.Unix(lastActivityAt, 0)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active sessions: %w", err)
	}
	return sessions, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection. The journal shares the
// same *sql.DB, so only one of the two owners should call this in
// cmd/relayd/main.go's shutdown sequence.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func rowsAffectedOrNotFound(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}
