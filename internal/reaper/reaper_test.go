package reaper

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/hubmanager"
	"github.com/sessionrelay/hub/internal/journal"
	"github.com/sessionrelay/hub/internal/sandbox"
)

type fakeRepo struct {
	mu      sync.Mutex
	active  []*domain.Session
	swapped []string
	noSwap  map[string]bool
}

func (r *fakeRepo) Create(ctx context.Context, s *domain.Session) error { return nil }
func (r *fakeRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	for _, s := range r.active {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}
func (r *fakeRepo) Activate(ctx context.Context, id, provider, providerID, environmentID string) error {
	return nil
}
func (r *fakeRepo) Archive(ctx context.Context, id string) error   { return nil }
func (r *fakeRepo) MarkError(ctx context.Context, id string) error { return nil }
func (r *fakeRepo) CompareAndSwapIdle(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.noSwap[id] {
		return false, nil
	}
	r.swapped = append(r.swapped, id)
	return true, nil
}
func (r *fakeRepo) Touch(ctx context.Context, id string, at time.Time) error            { return nil }
func (r *fakeRepo) SetName(ctx context.Context, id, name string) error                  { return nil }
func (r *fakeRepo) SetFirstUserMessageIfEmpty(ctx context.Context, id, msg string) error { return nil }
func (r *fakeRepo) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return r.active, nil
}
func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

type fakeEnvs struct {
	timeoutSec  int
	selfManaged map[string]bool
}

func (e *fakeEnvs) IdleTimeoutSeconds(ctx context.Context, environmentID string) (int, bool, error) {
	return e.timeoutSec, e.selfManaged[environmentID], nil
}

type fakeProvider struct {
	mu     sync.Mutex
	paused []string
	err    error
}

func (p *fakeProvider) AttachSession(ctx context.Context, providerType, providerID string, env sandbox.EnvConfig) (io.ReadWriteCloser, error) {
	return nil, nil
}

func (p *fakeProvider) Pause(ctx context.Context, providerType, providerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.paused = append(p.paused, providerID)
	return nil
}

func (p *fakeProvider) IsRunning(ctx context.Context, providerType, providerID string) (bool, error) {
	return true, nil
}

func session(id string, idleFor time.Duration) *domain.Session {
	return &domain.Session{
		ID:                id,
		Status:            domain.StatusActive,
		EnvironmentID:     "env-1",
		SandboxProvider:   "docker",
		SandboxProviderID: "container-" + id,
		LastActivityAt:    time.Now().Add(-idleFor),
	}
}

func TestEvaluate_IdlesSessionPastTimeoutWithNoClients(t *testing.T) {
	repo := &fakeRepo{noSwap: map[string]bool{}}
	provider := &fakeProvider{}
	hubs := hubmanager.New(repo, stubJournal{}, provider)
	envs := &fakeEnvs{timeoutSec: 60, selfManaged: map[string]bool{}}
	r, err := New(repo, hubs, provider, envs, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s := session("s1", 2*time.Minute)
	if err := r.evaluate(context.Background(), s); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if len(repo.swapped) != 1 || repo.swapped[0] != "s1" {
		t.Fatalf("expected session s1 to be swapped idle, got %v", repo.swapped)
	}
	if len(provider.paused) != 1 || provider.paused[0] != "container-s1" {
		t.Fatalf("expected sandbox paused, got %v", provider.paused)
	}
}

func TestEvaluate_SkipsSessionBelowTimeout(t *testing.T) {
	repo := &fakeRepo{noSwap: map[string]bool{}}
	provider := &fakeProvider{}
	hubs := hubmanager.New(repo, stubJournal{}, provider)
	envs := &fakeEnvs{timeoutSec: 600, selfManaged: map[string]bool{}}
	r, _ := New(repo, hubs, provider, envs, time.Minute)

	s := session("s1", 2*time.Minute)
	if err := r.evaluate(context.Background(), s); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if len(repo.swapped) != 0 {
		t.Fatalf("expected no idling below timeout, got %v", repo.swapped)
	}
}

func TestEvaluate_SkipsSelfManagedEnvironment(t *testing.T) {
	repo := &fakeRepo{noSwap: map[string]bool{}}
	provider := &fakeProvider{}
	hubs := hubmanager.New(repo, stubJournal{}, provider)
	envs := &fakeEnvs{timeoutSec: 1, selfManaged: map[string]bool{"env-1": true}}
	r, _ := New(repo, hubs, provider, envs, time.Minute)

	s := session("s1", time.Hour)
	if err := r.evaluate(context.Background(), s); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if len(repo.swapped) != 0 {
		t.Fatalf("expected self-managed environment to be skipped, got %v", repo.swapped)
	}
}

func TestEvaluate_SkipsChatSessionWithNoEnvironment(t *testing.T) {
	repo := &fakeRepo{noSwap: map[string]bool{}}
	provider := &fakeProvider{}
	hubs := hubmanager.New(repo, stubJournal{}, provider)
	envs := &fakeEnvs{timeoutSec: 1}
	r, _ := New(repo, hubs, provider, envs, time.Minute)

	s := session("s1", time.Hour)
	s.EnvironmentID = ""
	if err := r.evaluate(context.Background(), s); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(repo.swapped) != 0 {
		t.Fatalf("expected chat session with no environment to be skipped, got %v", repo.swapped)
	}
}

func TestIdleSession_TreatsMissingSandboxAsSuccess(t *testing.T) {
	repo := &fakeRepo{noSwap: map[string]bool{}}
	provider := &fakeProvider{err: sandbox.ErrNotFound}
	hubs := hubmanager.New(repo, stubJournal{}, provider)
	r, _ := New(repo, hubs, provider, &fakeEnvs{timeoutSec: 1}, time.Minute)

	s := session("s1", time.Hour)
	if err := r.idleSession(context.Background(), s); err != nil {
		t.Fatalf("expected ErrNotFound to be tolerated, got %v", err)
	}
}

func TestIdleSession_PropagatesOtherPauseErrors(t *testing.T) {
	repo := &fakeRepo{noSwap: map[string]bool{}}
	provider := &fakeProvider{err: errors.New("docker daemon unreachable")}
	hubs := hubmanager.New(repo, stubJournal{}, provider)
	r, _ := New(repo, hubs, provider, &fakeEnvs{timeoutSec: 1}, time.Minute)

	s := session("s1", time.Hour)
	if err := r.idleSession(context.Background(), s); err == nil {
		t.Fatal("expected pause error to propagate")
	}
}

type stubJournal struct{ journal.Store }
