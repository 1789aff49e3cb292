package journal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE sessions (id TEXT PRIMARY KEY, status TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("create sessions table: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db := newTestDB(t)
	s, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("new sqlite journal: %v", err)
	}
	return s
}

func insertSession(t *testing.T, db *sql.DB, id, status string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO sessions (id, status) VALUES (?, ?)`, id, status); err != nil {
		t.Fatalf("insert session %s: %v", id, err)
	}
}

func TestAppend_AssignsSequentialSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "sess-1", "active")

	for i := 1; i <= 3; i++ {
		seq, err := s.Append(ctx, "sess-1", "turn_start", []byte(`{}`))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != uint64(i) {
			t.Errorf("append %d: seq = %d, want %d", i, seq, i)
		}
	}
}

func TestAppend_ConcurrentWritersGetDistinctSeqs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "sess-1", "active")

	const n = 20
	seqCh := make(chan uint64, n)
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			seq, err := s.Append(ctx, "sess-1", "turn_start", []byte(`{}`))
			if err != nil {
				errCh <- err
				return
			}
			seqCh <- seq
		}()
	}

	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		select {
		case err := <-errCh:
			t.Fatalf("concurrent append failed: %v", err)
		case seq := <-seqCh:
			if seen[seq] {
				t.Fatalf("duplicate seq %d observed", seq)
			}
			seen[seq] = true
		}
	}
	if len(seen) != n {
		t.Errorf("got %d distinct seqs, want %d", len(seen), n)
	}
}

func TestGetAfterSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "sess-1", "active")

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "sess-1", "turn_start", []byte(`{}`)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := s.GetAfterSeq(ctx, "sess-1", 2, 0)
	if err != nil {
		t.Fatalf("get after seq: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		want := uint64(3 + i)
		if e.Seq != want {
			t.Errorf("event %d: seq = %d, want %d", i, e.Seq, want)
		}
	}
}

func TestGetAfterSeq_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "sess-1", "active")

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "sess-1", "turn_start", []byte(`{}`)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := s.GetAfterSeq(ctx, "sess-1", 0, 2)
	if err != nil {
		t.Fatalf("get after seq: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("unexpected seqs: %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestGetRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "sess-1", "active")

	for i := 0; i < 10; i++ {
		if _, err := s.Append(ctx, "sess-1", "turn_start", []byte(`{}`)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := s.GetRecent(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	wantSeqs := []uint64{8, 9, 10}
	for i, e := range events {
		if e.Seq != wantSeqs[i] {
			t.Errorf("event %d: seq = %d, want %d", i, e.Seq, wantSeqs[i])
		}
	}
}

func TestGetMaxSeq_NoEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "sess-1", "active")

	seq, err := s.GetMaxSeq(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get max seq: %v", err)
	}
	if seq != 0 {
		t.Errorf("seq = %d, want 0", seq)
	}
}

func TestDeleteForSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "sess-1", "active")

	if _, err := s.Append(ctx, "sess-1", "turn_start", []byte(`{}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.DeleteForSession(ctx, "sess-1"); err != nil {
		t.Fatalf("delete for session: %v", err)
	}

	seq, err := s.GetMaxSeq(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get max seq: %v", err)
	}
	if seq != 0 {
		t.Errorf("seq = %d after delete, want 0", seq)
	}
}

func TestPruneOlderThan_OnlyArchivedSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertSession(t, s.db, "active-sess", "active")
	insertSession(t, s.db, "archived-sess", "archived")

	for _, id := range []string{"active-sess", "archived-sess"} {
		if _, err := s.Append(ctx, id, "turn_start", []byte(`{}`)); err != nil {
			t.Fatalf("append for %s: %v", id, err)
		}
	}

	// Backdate both events so they fall before the cutoff.
	if _, err := s.db.Exec(`UPDATE events SET created_at = ?`, time.Now().Add(-48*time.Hour).Unix()); err != nil {
		t.Fatalf("backdate events: %v", err)
	}

	n, err := s.PruneOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune older than: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}

	activeSeq, err := s.GetMaxSeq(ctx, "active-sess")
	if err != nil {
		t.Fatalf("get max seq active: %v", err)
	}
	if activeSeq != 1 {
		t.Errorf("active session event was pruned, seq = %d", activeSeq)
	}

	archivedSeq, err := s.GetMaxSeq(ctx, "archived-sess")
	if err != nil {
		t.Fatalf("get max seq archived: %v", err)
	}
	if archivedSeq != 0 {
		t.Errorf("archived session event survived prune, seq = %d", archivedSeq)
	}
}
