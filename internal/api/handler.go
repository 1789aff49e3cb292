// Package api provides the relay's external HTTP surface: session
// lifecycle management (create/get/activate/archive) and health. The
// metrics endpoint is served by internal/metrics.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/sessionrelay/hub/internal/hubmanager"
	"github.com/sessionrelay/hub/internal/sandbox"
	"github.com/sessionrelay/hub/internal/sessionstore"
)

// Handler provides common handler dependencies for the session lifecycle
// endpoints.
type Handler struct {
	sessions sessionstore.Repository
	hubs     *hubmanager.Manager
	provider sandbox.Provider
}

// NewHandler creates a new Handler with the relay's core dependencies.
func NewHandler(sessions sessionstore.Repository, hubs *hubmanager.Manager, provider sandbox.Provider) *Handler {
	return &Handler{sessions: sessions, hubs: hubs, provider: provider}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
