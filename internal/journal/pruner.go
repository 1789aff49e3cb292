package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Pruner periodically deletes journaled events older than a retention
// window for archived sessions (spec §4.2). Scheduling follows the same
// gocron pattern as internal/reaper.
type Pruner struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	scheduler gocron.Scheduler
}

// NewPruner constructs a Pruner that sweeps store every interval,
// deleting archived-session events older than retention.
func NewPruner(store Store, retention, interval time.Duration) (*Pruner, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Pruner{store: store, retention: retention, interval: interval, scheduler: sched}, nil
}

// Start registers the recurring prune job and begins the scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() { p.sweep(ctx) }),
		gocron.WithName("journal-pruner"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule journal pruner: %w", err)
	}
	p.scheduler.Start()
	slog.Info("journal pruner started", "interval", p.interval, "retention", p.retention)
	return nil
}

// Stop shuts down the scheduler.
func (p *Pruner) Stop() error {
	if err := p.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown journal pruner: %w", err)
	}
	slog.Info("journal pruner stopped")
	return nil
}

func (p *Pruner) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)
	n, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("journal prune sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("journal prune sweep complete", "events_deleted", n)
	}
}
