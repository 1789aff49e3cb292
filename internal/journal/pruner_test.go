package journal

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	Store
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakeStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	return f.deleted, nil
}

func TestSweep_InvokesPruneOlderThanWithRetentionCutoff(t *testing.T) {
	store := &fakeStore{deleted: 3}
	p, err := NewPruner(store, time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("NewPruner: %v", err)
	}

	before := time.Now().Add(-time.Hour)
	p.sweep(context.Background())
	after := time.Now().Add(-time.Hour)

	if len(store.cutoffs) != 1 {
		t.Fatalf("expected exactly one prune call, got %d", len(store.cutoffs))
	}
	if store.cutoffs[0].Before(before) || store.cutoffs[0].After(after) {
		t.Fatalf("expected cutoff around now-retention, got %v", store.cutoffs[0])
	}
}

func TestSweep_ToleratesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	p, _ := NewPruner(store, time.Hour, time.Minute)

	// Must not panic; errors are logged and swallowed since sweep has no
	// caller to propagate to.
	p.sweep(context.Background())
}
