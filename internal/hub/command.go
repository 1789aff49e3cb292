package hub

import (
	"context"
	"log/slog"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/metrics"
)

// HandleClientCommand validates, journals, and routes one command from a
// connected client to the attached sandbox channel (spec §4.3).
func (h *Hub) HandleClientCommand(ctx context.Context, clientID string, cmd domain.ClientCommand) error {
	h.mu.Lock()
	cc, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownClient
	}

	switch cmd.Type {
	case domain.CmdPrompt, domain.CmdSteer, domain.CmdFollowUp:
		if cc.Capabilities.ExtensionUI {
			h.lastWriterClientID = clientID
			h.electControllerLocked()
		}
	case domain.CmdExtensionUIResponse:
		if h.controllerClientID != clientID {
			h.mu.Unlock()
			h.sendFrame(cc, serverFrame{Type: "error", Code: "NOT_CONTROLLER", Message: "Only the controller client can send extension_ui_response"})
			return ErrNotController
		}
	}
	channel := h.channel
	h.mu.Unlock()

	if cmd.Type == domain.CmdPrompt {
		if _, err := h.journal.Append(ctx, h.sessionID, "prompt", cmd.Raw); err != nil {
			metrics.JournalAppendFailures.Inc()
			slog.Error("journal append for prompt failed", "session_id", h.sessionID, "error", err)
		}
		if err := h.sessions.SetFirstUserMessageIfEmpty(ctx, h.sessionID, cmd.Message); err != nil {
			slog.Warn("set first user message failed", "session_id", h.sessionID, "error", err)
		}
	}

	if channel == nil {
		h.sendFrame(cc, serverFrame{Type: "error", Code: "CHANNEL_DETACHED"})
		return ErrChannelDetached
	}

	return channel.Forward(ctx, cmd.Raw)
}
