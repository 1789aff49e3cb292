package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/metrics"
	"github.com/sessionrelay/hub/internal/sandbox"
	"github.com/sessionrelay/hub/internal/transport"
	"github.com/sessionrelay/hub/internal/wire"
)

// ensureAttached dedupes concurrent attach attempts behind a single
// in-flight attachState so that N clients racing to add themselves all
// await the same underlying sandbox attach (spec §4.3).
func (h *Hub) ensureAttached(ctx context.Context) error {
	h.mu.Lock()
	if h.channel != nil {
		h.mu.Unlock()
		return nil
	}
	if h.attaching != nil {
		st := h.attaching
		h.mu.Unlock()
		<-st.done
		return st.err
	}

	st := &attachState{done: make(chan struct{})}
	h.attaching = st
	h.mu.Unlock()

	err := h.doAttach(ctx)

	h.mu.Lock()
	st.err = err
	h.attaching = nil
	h.mu.Unlock()
	close(st.done)

	return err
}

func (h *Hub) doAttach(ctx context.Context) error {
	sess, err := h.sessions.Get(ctx, h.sessionID)
	if err != nil {
		return &AttachError{Code: CloseInternalError, Message: fmt.Sprintf("look up session: %v", err)}
	}
	if sess == nil || sess.Status == domain.StatusArchived {
		return &AttachError{Code: CloseSessionNotFound, Message: "session not found"}
	}
	if sess.Status != domain.StatusActive {
		return &AttachError{Code: CloseSessionNotActive, Message: "Session not active"}
	}
	if !sess.HasSandbox() {
		return &AttachError{Code: CloseSessionNotActive, Message: "Sandbox not provisioned"}
	}

	env := sandbox.EnvConfig{ID: sess.EnvironmentID}
	stream, err := h.provider.AttachSession(ctx, sess.SandboxProvider, sess.SandboxProviderID, env)
	if err != nil {
		return &AttachError{Code: CloseSessionNotActive, Message: fmt.Sprintf("attach failed: %v", err)}
	}

	tr := transport.NewStreamTransport(stream)
	if err := tr.Connect(ctx); err != nil {
		return &AttachError{Code: CloseSessionNotActive, Message: fmt.Sprintf("attach failed: %v", err)}
	}

	h.mu.Lock()
	h.channel = tr
	h.mu.Unlock()

	go h.drainTransportEvents(tr)

	return nil
}

// drainTransportEvents is the hub's event reader task: one per transport,
// decoding events and handing them to the hub's single-writer mutations
// (spec §5). It returns, and triggers channel-close handling, once the
// transport's event channel is closed.
func (h *Hub) drainTransportEvents(tr transport.Transport) {
	ctx := context.Background()
	for ev := range tr.Events() {
		h.handleTransportEvent(ctx, ev)
	}
	h.handleChannelClose(tr, "agent disconnected")
}

// handleTransportEvent appends the event to the journal, runs server
// hooks, then routes it: extension_ui_request goes only to the
// controller, everything else broadcasts.
func (h *Hub) handleTransportEvent(ctx context.Context, ev transport.Event) {
	seq, err := h.journal.Append(ctx, h.sessionID, ev.RawType, ev.RawBytes)
	if err != nil {
		metrics.JournalAppendFailures.Inc()
		slog.Error("journal append failed", "session_id", h.sessionID, "error", err)
		return
	}

	rpcEvent := wire.ParseRpcEvent(h.sessionID, &seq, ev.RawType, ev.RawBytes)
	h.runServerHooks(ctx, rpcEvent)

	if rpcEvent.Type == domain.EventExtensionUIRequest {
		h.sendToController(ev.RawBytes)
	} else {
		h.Broadcast(ev.RawBytes)
	}

	if err := h.sessions.Touch(ctx, h.sessionID, time.Now()); err != nil {
		slog.Debug("touch session failed", "session_id", h.sessionID, "error", err)
	}
}

func (h *Hub) sendToController(raw []byte) {
	h.mu.Lock()
	controllerID := h.controllerClientID
	cc, ok := h.clients[controllerID]
	h.mu.Unlock()

	if controllerID == "" || !ok {
		slog.Debug("extension_ui_request dropped, no controller", "session_id", h.sessionID)
		return
	}

	h.mu.Lock()
	if cc.replaying {
		cc.pendingLive = append(cc.pendingLive, raw)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	cc.pump.enqueue(raw)
}

// handleChannelClose broadcasts a sandbox_status(stopped) frame, clears
// the channel, and leaves clients attached so they can reconnect once
// the session is reactivated externally (spec §4.3).
func (h *Hub) handleChannelClose(tr transport.Transport, reason string) {
	h.mu.Lock()
	if h.channel != tr {
		// A newer attach has already replaced this transport; this is a
		// stale close notification from a superseded channel.
		h.mu.Unlock()
		return
	}
	h.channel = nil
	h.broadcastLocked(mustMarshalFrame(serverFrame{Type: "sandbox_status", Status: string(domain.SandboxStopped), Message: reason}))
	h.mu.Unlock()
}

func mustMarshalFrame(f serverFrame) []byte {
	b, err := marshalFrame(f)
	if err != nil {
		slog.Error("failed to marshal sandbox_status frame", "error", err)
		return nil
	}
	return b
}
