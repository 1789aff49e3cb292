package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sessionrelay/hub/internal/domain"
)

// activateLocks prevents two concurrent activate requests from racing to
// bind a sandbox to the same session, mirroring the teacher's
// per-user provisionLocks.
var activateLocks sync.Map

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session lifecycle handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session lifecycle routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/activate", h.Activate)
		r.Post("/{id}/archive", h.Archive)
	})
}

type createSessionRequest struct {
	Mode string `json:"mode"`
}

type sessionResponse struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Status            string `json:"status"`
	EnvironmentID     string `json:"environmentId,omitempty"`
	SandboxProvider   string `json:"sandboxProvider,omitempty"`
	SandboxProviderID string `json:"sandboxProviderId,omitempty"`
	Name              string `json:"name,omitempty"`
	FirstUserMessage  string `json:"firstUserMessage,omitempty"`
	CreatedAt         string `json:"createdAt"`
	LastActivityAt    string `json:"lastActivityAt"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:                s.ID,
		Mode:              string(s.Mode),
		Status:            string(s.Status),
		EnvironmentID:     s.EnvironmentID,
		SandboxProvider:   s.SandboxProvider,
		SandboxProviderID: s.SandboxProviderID,
		Name:              s.Name,
		FirstUserMessage:  s.FirstUserMessage,
		CreatedAt:         s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt:    s.LastActivityAt.UTC().Format(time.RFC3339),
	}
}

// Create inserts a new session in StatusCreating. The caller activates it
// separately once a sandbox has been provisioned (spec §3: the hub never
// creates sessions).
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := domain.ModeChat
	if req.Mode == string(domain.ModeCode) {
		mode = domain.ModeCode
	}

	now := time.Now()
	s := &domain.Session{
		ID:             uuid.NewString(),
		Mode:           mode,
		Status:         domain.StatusCreating,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := h.sessions.Create(r.Context(), s); err != nil {
		slog.Error("create session failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	JSON(w, http.StatusCreated, toSessionResponse(s))
}

// Get returns a session by id.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		slog.Error("get session failed", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	if s == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(s))
}

type activateSessionRequest struct {
	SandboxProvider   string `json:"sandboxProvider"`
	SandboxProviderID string `json:"sandboxProviderId"`
	EnvironmentID     string `json:"environmentId"`
}

// Activate transitions a session to active once its sandbox binding is
// known, so the first client attach can find a channel to attach to.
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lock, _ := activateLocks.LoadOrStore(id, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		Error(w, http.StatusConflict, "activation already in progress")
		return
	}
	defer func() {
		mutex.Unlock()
		activateLocks.Delete(id)
	}()

	var req activateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SandboxProvider == "" || req.SandboxProviderID == "" {
		Error(w, http.StatusBadRequest, "sandboxProvider and sandboxProviderId are required")
		return
	}

	ctx := r.Context()
	s, err := h.sessions.Get(ctx, id)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	if s == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	if err := h.sessions.Activate(ctx, id, req.SandboxProvider, req.SandboxProviderID, req.EnvironmentID); err != nil {
		slog.Error("activate session failed", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to activate session")
		return
	}

	s, err = h.sessions.Get(ctx, id)
	if err != nil || s == nil {
		Error(w, http.StatusInternalServerError, "session vanished after activation")
		return
	}

	JSON(w, http.StatusOK, toSessionResponse(s))
}

// Archive transitions a session to archived and tears down its hub so no
// new clients can attach, closing any that remain connected.
func (h *SessionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	s, err := h.sessions.Get(ctx, id)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	if s == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	if err := h.sessions.Archive(ctx, id); err != nil {
		slog.Error("archive session failed", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to archive session")
		return
	}

	h.hubs.Evict(id)

	JSON(w, http.StatusOK, map[string]string{"status": "archived"})
}
