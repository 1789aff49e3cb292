package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/hubmanager"
	"github.com/sessionrelay/hub/internal/journal"
	"github.com/sessionrelay/hub/internal/sandbox"
)

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	pingErr  error
}

func newFakeRepo() *fakeRepo { return &fakeRepo{sessions: make(map[string]*domain.Session)} }

func (r *fakeRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) Activate(ctx context.Context, id, provider, providerID, environmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s.Status = domain.StatusActive
	s.SandboxProvider = provider
	s.SandboxProviderID = providerID
	s.EnvironmentID = environmentID
	return nil
}

func (r *fakeRepo) Archive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Status = domain.StatusArchived
	}
	return nil
}

func (r *fakeRepo) MarkError(ctx context.Context, id string) error { return nil }
func (r *fakeRepo) CompareAndSwapIdle(ctx context.Context, id string) (bool, error) {
	return true, nil
}
func (r *fakeRepo) Touch(ctx context.Context, id string, at time.Time) error { return nil }
func (r *fakeRepo) SetName(ctx context.Context, id, name string) error      { return nil }
func (r *fakeRepo) SetFirstUserMessageIfEmpty(ctx context.Context, id, msg string) error {
	return nil
}
func (r *fakeRepo) ListActive(ctx context.Context) ([]*domain.Session, error) { return nil, nil }
func (r *fakeRepo) Ping(ctx context.Context) error                            { return r.pingErr }
func (r *fakeRepo) Close() error                                             { return nil }

type fakeProvider struct{ sandbox.Provider }

func (fakeProvider) AttachSession(ctx context.Context, providerType, providerID string, env sandbox.EnvConfig) (io.ReadWriteCloser, error) {
	return nil, nil
}

type stubJournal struct{ journal.Store }

func newRouter(repo *fakeRepo) (*chi.Mux, *hubmanager.Manager) {
	hubs := hubmanager.New(repo, stubJournal{}, fakeProvider{})
	base := NewHandler(repo, hubs, fakeProvider{})
	sh := NewSessionHandler(base)
	r := chi.NewRouter()
	sh.RegisterRoutes(r)
	return r, hubs
}

func TestCreate_InsertsSessionInCreatingStatus(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/", bytes.NewBufferString(`{"mode":"code"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "code" || resp.Status != string(domain.StatusCreating) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGet_ReturnsNotFoundForUnknownSession(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestActivate_TransitionsSessionToActive(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = &domain.Session{ID: "s1", Status: domain.StatusCreating, Mode: domain.ModeCode}
	r, _ := newRouter(repo)

	body := `{"sandboxProvider":"docker","sandboxProviderId":"container-1","environmentId":"env-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/activate", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(domain.StatusActive) || resp.SandboxProviderID != "container-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestActivate_RejectsMissingSandboxFields(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = &domain.Session{ID: "s1", Status: domain.StatusCreating}
	r, _ := newRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/activate", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestArchive_ClosesAssociatedHub(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = &domain.Session{ID: "s1", Status: domain.StatusActive}
	r, hubs := newRouter(repo)
	hubs.GetOrCreate("s1")

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/archive", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if hubs.Get("s1") != nil {
		t.Fatal("expected hub to be evicted after archive")
	}
}

func TestHealth_ReportsDegradedOnPingFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.pingErr = context.DeadlineExceeded
	h := NewHealthHandler(repo, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealth_ReportsHealthyByDefault(t *testing.T) {
	repo := newFakeRepo()
	h := NewHealthHandler(repo, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
