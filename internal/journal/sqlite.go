package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/shared"
)

const (
	appendMaxRetries = 5
	appendBaseDelay  = 5 * time.Millisecond
)

// SQLiteStore implements Store over a shared *sql.DB. It assumes a
// sessions(id, status) table exists in the same database — see
// internal/sessionstore.SQLiteStore, which owns that table — so
// PruneOlderThan can restrict itself to archived sessions without a
// second round trip to another service.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite wraps an already-opened database handle and ensures the events
// table exists.
func NewSQLite(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		type       TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Append assigns the next seq for sessionID inside a transaction and
// inserts the event. A concurrent writer racing for the same seq hits the
// (session_id, seq) primary key and is retried with a short backoff —
// spec's sequenceConflict, which must never surface to the hub.
func (s *SQLiteStore) Append(ctx context.Context, sessionID, eventType string, payload []byte) (uint64, error) {
	var seq uint64
	var lastErr error

	for attempt := 0; attempt < appendMaxRetries; attempt++ {
		seq, lastErr = s.appendOnce(ctx, sessionID, eventType, payload)
		if lastErr == nil {
			return seq, nil
		}
		if !isSequenceConflict(lastErr) && !shared.IsSQLiteConflictError(lastErr) {
			return 0, lastErr
		}
		delay := appendBaseDelay * time.Duration(1<<attempt)
		slog.Debug("journal append sequence conflict, retrying",
			"session_id", sessionID, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	return 0, fmt.Errorf("append event for session %s after %d attempts: %w", sessionID, appendMaxRetries, lastErr)
}

func (s *SQLiteStore) appendOnce(ctx context.Context, sessionID, eventType string, payload []byte) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE session_id = ?`, sessionID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	nextSeq := uint64(1)
	if maxSeq.Valid {
		nextSeq = uint64(maxSeq.Int64) + 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (session_id, seq, type, payload_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, nextSeq, eventType, string(payload), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append tx: %w", err)
	}

	return nextSeq, nil
}

func isSequenceConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed")
}

// GetAfterSeq returns events with seq strictly greater than afterSeq.
func (s *SQLiteStore) GetAfterSeq(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]domain.Event, error) {
	query := `SELECT session_id, seq, type, payload_json, created_at FROM events WHERE session_id = ? AND seq > ? ORDER BY seq ASC`
	args := []interface{}{sessionID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// GetRecent returns the last n events for a session, ascending.
func (s *SQLiteStore) GetRecent(ctx context.Context, sessionID string, n int) ([]domain.Event, error) {
	query := `
	SELECT session_id, seq, type, payload_json, created_at FROM (
		SELECT session_id, seq, type, payload_json, created_at
		FROM events WHERE session_id = ? ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`
	return s.query(ctx, query, sessionID, n)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload string
		var createdAt int64
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetMaxSeq returns the highest seq recorded for a session, or 0.
func (s *SQLiteStore) GetMaxSeq(ctx context.Context, sessionID string) (uint64, error) {
	var maxSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE session_id = ?`, sessionID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get max seq for session %s: %w", sessionID, err)
	}
	if !maxSeq.Valid {
		return 0, nil
	}
	return uint64(maxSeq.Int64), nil
}

// DeleteForSession removes every event for a session.
func (s *SQLiteStore) DeleteForSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete events for session %s: %w", sessionID, err)
	}
	return nil
}

// PruneOlderThan deletes events older than cutoff for archived sessions only.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
	DELETE FROM events
	WHERE created_at < ?
	AND session_id IN (SELECT id FROM sessions WHERE status = 'archived')`
	res, err := s.db.ExecContext(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune events older than %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}
