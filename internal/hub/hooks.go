package hub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sessionrelay/hub/internal/domain"
)

// runServerHooks implements the small, statically registered set of
// side-effects the hub performs synchronously as events pass through
// (spec §4.3.e). Hooks are best-effort: a failed update is logged, never
// propagated to the client or treated as a forwarding error.
func (h *Hub) runServerHooks(ctx context.Context, ev domain.RpcEvent) {
	switch ev.Type {
	case domain.EventResponse:
		h.hookGetStateSessionName(ctx, ev)
	case domain.EventExtensionUIRequest:
		h.hookSetTitle(ctx, ev)
	}
}

type responsePayload struct {
	Command string `json:"command"`
	Payload struct {
		SessionName string `json:"sessionName"`
	} `json:"payload"`
}

func (h *Hub) hookGetStateSessionName(ctx context.Context, ev domain.RpcEvent) {
	var p responsePayload
	if err := json.Unmarshal(ev.RawBytes, &p); err != nil {
		return
	}
	if p.Command != "get_state" || p.Payload.SessionName == "" {
		return
	}
	if err := h.sessions.SetName(ctx, h.sessionID, p.Payload.SessionName); err != nil {
		slog.Warn("get_state session name hook failed", "session_id", h.sessionID, "error", err)
	}
}

type setTitleParams struct {
	Title string `json:"title"`
}

func (h *Hub) hookSetTitle(ctx context.Context, ev domain.RpcEvent) {
	if ev.ExtraField.Method != "setTitle" {
		return
	}
	var p setTitleParams
	if err := json.Unmarshal(ev.ExtraField.Params, &p); err != nil || p.Title == "" {
		return
	}
	if err := h.sessions.SetName(ctx, h.sessionID, p.Title); err != nil {
		slog.Warn("setTitle session name hook failed", "session_id", h.sessionID, "error", err)
	}
}
