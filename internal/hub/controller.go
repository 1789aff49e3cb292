package hub

import "log/slog"

// electControllerLocked re-derives the controller client under the
// already-held lock. Priority order (spec §4.3):
//  1. the last writer, if still connected and extension-UI capable
//  2. the activator, if still connected and extension-UI capable
//  3. the most recently connected extension-UI capable client
//  4. no controller
//
// Election is silent: no client-facing frame is sent on change, it only
// affects where future extension_ui_request events are routed.
func (h *Hub) electControllerLocked() {
	prev := h.controllerClientID
	next := h.pickControllerLocked()
	if next == prev {
		return
	}
	h.controllerClientID = next
	slog.Debug("controller election changed", "session_id", h.sessionID, "from", prev, "to", next)
}

func (h *Hub) pickControllerLocked() string {
	if cc, ok := h.clients[h.lastWriterClientID]; ok && cc.Capabilities.ExtensionUI {
		return h.lastWriterClientID
	}
	if cc, ok := h.clients[h.activatorClientID]; ok && cc.Capabilities.ExtensionUI {
		return h.activatorClientID
	}

	var bestID string
	var bestAt int64
	for id, cc := range h.clients {
		if !cc.Capabilities.ExtensionUI {
			continue
		}
		if t := cc.ConnectedAt.UnixNano(); bestID == "" || t > bestAt {
			bestID, bestAt = id, t
		}
	}
	return bestID
}
