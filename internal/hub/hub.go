// Package hub implements the Session Hub (spec §4.3, C3): the per-session
// fan-out/fan-in core that owns at most one Transport attachment,
// multiplexes connected clients onto it, elects a controller for
// interactive prompts, journals and replays events, and releases its
// channel after a detach grace period.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/journal"
	"github.com/sessionrelay/hub/internal/sandbox"
	"github.com/sessionrelay/hub/internal/sessionstore"
	"github.com/sessionrelay/hub/internal/transport"
)

// DetachGrace is the delay between the last client leaving and the hub
// releasing its Transport attachment (spec §4.3).
const DetachGrace = 15 * time.Second

type attachState struct {
	done chan struct{}
	err  error
}

type clientConn struct {
	domain.Client
	pump *clientPump

	replaying   bool
	pendingLive [][]byte
}

// Hub is the per-session actor. All mutable state is guarded by mu; the
// design follows spec §5's "logical single-writer actor" model using a
// mutex rather than a dedicated goroutine mailbox, matching the teacher's
// preference for lock-guarded shared maps over channel-actors elsewhere
// in the codebase.
type Hub struct {
	sessionID string

	sessions sessionstore.Repository
	journal  journal.Store
	provider sandbox.Provider

	mu                 sync.Mutex
	clients            map[string]*clientConn
	channel            transport.Transport
	attaching          *attachState
	detachTimer        *time.Timer
	controllerClientID string
	activatorClientID  string
	lastWriterClientID string
	closed             bool
}

// New constructs a Hub for sessionID. It does not attach to a sandbox
// until the first client is added.
func New(sessionID string, sessions sessionstore.Repository, jrnl journal.Store, provider sandbox.Provider) *Hub {
	return &Hub{
		sessionID: sessionID,
		sessions:  sessions,
		journal:   jrnl,
		provider:  provider,
		clients:   make(map[string]*clientConn),
	}
}

// SessionID returns the session this hub serves.
func (h *Hub) SessionID() string { return h.sessionID }

// ConnectionCount returns the number of currently attached clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// AddClient attaches a new client connection: it cancels any pending
// detach timer, re-elects the controller, ensures the sandbox channel is
// attached, sends a connected frame, and replays missed events if the
// client presents a lastSeq within the journal's range.
func (h *Hub) AddClient(ctx context.Context, client domain.Client, sink ClientSink, lastSeq uint64) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.cancelDetachTimerLocked()
	cc := &clientConn{Client: client, pump: newClientPump(client.ID, sink)}
	h.clients[client.ID] = cc
	h.electControllerLocked()
	h.mu.Unlock()

	if err := h.ensureAttached(ctx); err != nil {
		h.RemoveClient(client.ID)
		var ae *AttachError
		if ok := asAttachError(err, &ae); ok {
			cc.pump.close(int(ae.Code), ae.Message)
		}
		return err
	}

	maxSeq, err := h.journal.GetMaxSeq(ctx, h.sessionID)
	if err != nil {
		slog.Warn("get max seq failed on attach", "session_id", h.sessionID, "error", err)
	}

	h.sendFrame(cc, serverFrame{Type: "connected", SessionID: h.sessionID, LastSeq: maxSeq})

	if lastSeq > 0 && lastSeq < maxSeq {
		h.replay(ctx, cc, lastSeq, maxSeq)
	}

	h.mu.Lock()
	cc.replaying = false
	pending := cc.pendingLive
	cc.pendingLive = nil
	h.mu.Unlock()
	for _, frame := range pending {
		cc.pump.enqueue(frame)
	}

	return nil
}

func asAttachError(err error, out **AttachError) bool {
	ae, ok := err.(*AttachError)
	if ok {
		*out = ae
	}
	return ok
}

func (h *Hub) replay(ctx context.Context, cc *clientConn, lastSeq, maxSeq uint64) {
	h.mu.Lock()
	cc.replaying = true
	h.mu.Unlock()

	h.sendFrame(cc, serverFrame{Type: "replay_start", FromSeq: lastSeq, ToSeq: maxSeq})

	events, err := h.journal.GetAfterSeq(ctx, h.sessionID, lastSeq, 0)
	if err != nil {
		slog.Warn("replay query failed", "session_id", h.sessionID, "error", err)
	}
	for _, ev := range events {
		if len(ev.Payload) == 0 {
			slog.Warn("skipping malformed replay payload", "session_id", h.sessionID, "seq", ev.Seq)
			continue
		}
		cc.pump.enqueue(ev.Payload)
	}

	h.sendFrame(cc, serverFrame{Type: "replay_end"})
}

// RemoveClient detaches a client. If no clients remain, it starts the
// detach grace timer.
func (h *Hub) RemoveClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, clientID)
	if h.controllerClientID == clientID {
		h.controllerClientID = ""
	}
	h.electControllerLocked()

	if len(h.clients) == 0 && !h.closed {
		h.startDetachTimerLocked()
	}
}

func (h *Hub) cancelDetachTimerLocked() {
	if h.detachTimer != nil {
		h.detachTimer.Stop()
		h.detachTimer = nil
	}
}

func (h *Hub) startDetachTimerLocked() {
	h.cancelDetachTimerLocked()
	h.detachTimer = time.AfterFunc(DetachGrace, h.onDetachGraceElapsed)
}

func (h *Hub) onDetachGraceElapsed() {
	h.mu.Lock()
	if len(h.clients) != 0 || h.closed {
		h.mu.Unlock()
		return
	}
	channel := h.channel
	h.channel = nil
	h.detachTimer = nil
	h.mu.Unlock()

	if channel != nil {
		if err := channel.Disconnect(); err != nil {
			slog.Debug("detach disconnect error", "session_id", h.sessionID, "error", err)
		}
	}
}

// ClearClientState resets controller/activator/writer election state,
// used by the idle reaper when it idles a (necessarily empty) hub so the
// next activation starts from a clean slate.
func (h *Hub) ClearClientState() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controllerClientID = ""
	h.activatorClientID = ""
	h.lastWriterClientID = ""
}

// SetClientCapabilities updates a connected client's capability bits and
// re-runs controller election.
func (h *Hub) SetClientCapabilities(clientID string, caps domain.Capabilities) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cc, ok := h.clients[clientID]
	if !ok {
		return
	}
	cc.Capabilities = caps
	h.electControllerLocked()
}

// SetActivatorClient records which client activated this session (e.g.
// triggered its creation) so election can prefer it.
func (h *Hub) SetActivatorClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activatorClientID = clientID
	h.electControllerLocked()
}

// Broadcast sends frame to every connected client, holding it back for
// clients still in replay. The hub uses it for agent events; the Hub
// Manager's Broadcast passes sandbox_status frames through to it.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(frame)
}

func (h *Hub) broadcastLocked(frame []byte) {
	for _, cc := range h.clients {
		if cc.replaying {
			cc.pendingLive = append(cc.pendingLive, frame)
			continue
		}
		cc.pump.enqueue(frame)
	}
}

func (h *Hub) sendFrame(cc *clientConn, f serverFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		slog.Error("failed to marshal server frame", "type", f.Type, "error", err)
		return
	}
	cc.pump.enqueue(b)
}

// Close is terminal: it unhooks listeners, closes the channel, and clears
// all client and election state. Subsequent operations return
// ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.cancelDetachTimerLocked()
	channel := h.channel
	h.channel = nil
	clients := h.clients
	h.clients = make(map[string]*clientConn)
	h.controllerClientID = ""
	h.activatorClientID = ""
	h.lastWriterClientID = ""
	h.mu.Unlock()

	for _, cc := range clients {
		cc.pump.close(int(CloseNormal), "session hub closing")
	}

	if channel != nil {
		if err := channel.Disconnect(); err != nil {
			slog.Debug("close disconnect error", "session_id", h.sessionID, "error", err)
		}
	}
}

// errorFrame builds the relay-emitted "error" frame (spec §6).
func errorFrame(code, message string) []byte {
	b, _ := marshalFrame(serverFrame{Type: "error", Code: code, Message: message})
	return b
}

func marshalFrame(f serverFrame) ([]byte, error) {
	return json.Marshal(f)
}

// serverFrame is the union of relay-emitted frames that do not originate
// from the agent (spec §6). Only the fields relevant to Type are set.
type serverFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	LastSeq   uint64 `json:"lastSeq,omitempty"`
	FromSeq   uint64 `json:"fromSeq,omitempty"`
	ToSeq     uint64 `json:"toSeq,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}
