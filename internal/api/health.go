package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionrelay/hub/internal/sessionstore"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	sessions sessionstore.Repository
	timeout  time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sessions sessionstore.Repository, timeout time.Duration) *HealthHandler {
	return &HealthHandler{sessions: sessions, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.sessions.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
