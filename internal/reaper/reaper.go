// Package reaper implements the Idle Reaper (spec §4.5, C5): a periodic
// scan that pauses sandboxes whose sessions have gone quiet with nobody
// watching. Scheduling is built on gocron, grounded in the teacher pack's
// arkeep-io-arkeep/server/internal/scheduler package.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/hubmanager"
	"github.com/sessionrelay/hub/internal/metrics"
	"github.com/sessionrelay/hub/internal/sandbox"
	"github.com/sessionrelay/hub/internal/sessionstore"
)

// EnvironmentTimeouts resolves the idle timeout in seconds for an
// environment id, and whether that environment manages idling on its own
// (e.g. a remote worker with built-in sleep) and should be excluded from
// the reaper's scan entirely (spec §4.5 step 1).
type EnvironmentTimeouts interface {
	IdleTimeoutSeconds(ctx context.Context, environmentID string) (seconds int, selfManaged bool, err error)
}

// Reaper periodically scans active sessions and idles the ones that have
// exceeded their environment's idle timeout with no connected clients.
type Reaper struct {
	sessions sessionstore.Repository
	hubs     *hubmanager.Manager
	provider sandbox.Provider
	envs     EnvironmentTimeouts

	checkInterval time.Duration
	scheduler     gocron.Scheduler
}

// New constructs a Reaper that ticks every checkInterval (spec §4.5:
// "typically 30-60s").
func New(sessions sessionstore.Repository, hubs *hubmanager.Manager, provider sandbox.Provider, envs EnvironmentTimeouts, checkInterval time.Duration) (*Reaper, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Reaper{
		sessions:      sessions,
		hubs:          hubs,
		provider:      provider,
		envs:          envs,
		checkInterval: checkInterval,
		scheduler:     sched,
	}, nil
}

// Start registers the recurring tick job and begins the scheduler.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.checkInterval),
		gocron.NewTask(func() { r.tick(ctx) }),
		gocron.WithName("idle-reaper-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule idle reaper tick: %w", err)
	}
	r.scheduler.Start()
	slog.Info("idle reaper started", "interval", r.checkInterval)
	return nil
}

// Stop shuts down the scheduler, letting an in-progress tick run to
// completion.
func (r *Reaper) Stop() error {
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown idle reaper: %w", err)
	}
	slog.Info("idle reaper stopped")
	return nil
}

func (r *Reaper) tick(ctx context.Context) {
	sessions, err := r.sessions.ListActive(ctx)
	if err != nil {
		slog.Error("idle reaper: list active sessions failed", "error", err)
		return
	}

	for _, sess := range sessions {
		if err := r.evaluate(ctx, sess); err != nil {
			slog.Warn("idle reaper: session evaluation failed", "session_id", sess.ID, "error", err)
		}
	}
}

func (r *Reaper) evaluate(ctx context.Context, sess *domain.Session) error {
	if sess.EnvironmentID == "" {
		return nil
	}

	timeoutSec, selfManaged, err := r.envs.IdleTimeoutSeconds(ctx, sess.EnvironmentID)
	if err != nil {
		return fmt.Errorf("resolve idle timeout: %w", err)
	}
	if selfManaged {
		return nil
	}

	idle := time.Since(sess.LastActivityAt)
	if idle < time.Duration(timeoutSec)*time.Second {
		return nil
	}

	if r.hubs.GetConnectionCount(sess.ID) > 0 {
		return nil
	}

	return r.idleSession(ctx, sess)
}

func (r *Reaper) idleSession(ctx context.Context, sess *domain.Session) error {
	// Re-check under the store's compare-and-swap to close the race
	// against a concurrent attach (spec §5: "reaper writes status=idle
	// and must not race with an attach raising status=active").
	if r.hubs.GetConnectionCount(sess.ID) > 0 {
		return nil
	}

	swapped, err := r.sessions.CompareAndSwapIdle(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("compare-and-swap idle: %w", err)
	}
	if !swapped {
		return nil
	}

	frame := []byte(`{"type":"sandbox_status","status":"paused","message":"Session idled due to inactivity"}`)
	r.hubs.Broadcast(sess.ID, frame)
	r.hubs.ClearSessionClientState(sess.ID)

	if err := r.provider.Pause(ctx, sess.SandboxProvider, sess.SandboxProviderID); err != nil {
		if errors.Is(err, sandbox.ErrNotFound) {
			slog.Debug("idle reaper: sandbox already gone", "session_id", sess.ID)
			return nil
		}
		return fmt.Errorf("pause sandbox: %w", err)
	}

	metrics.IdlePauses.Inc()
	slog.Info("idle reaper: session idled", "session_id", sess.ID, "environment_id", sess.EnvironmentID)
	return nil
}
