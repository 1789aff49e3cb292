// Package wsgateway is the client-facing edge of the relay: it upgrades
// HTTP connections to coder/websocket, decodes each client frame's
// type/message JSON into a domain.ClientCommand, and drives a Session Hub
// through AddClient/
// HandleClientCommand/RemoveClient. Grounded in the teacher's
// internal/terminal.WebSocketHandler (upgrade/origin-check/input-output
// loop pairing), generalized from one fixed terminal session per user to
// many clients multiplexed per session hub.
package wsgateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/hub"
	"github.com/sessionrelay/hub/internal/hubmanager"
)

// Handler upgrades client HTTP connections to websockets and wires each
// one into the Hub for the session id it names.
type Handler struct {
	hubs          *hubmanager.Manager
	allowedOrigin string
	isDev         bool
}

// New constructs a Handler serving sessions out of hubs.
func New(hubs *hubmanager.Manager, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hubs: hubs, allowedOrigin: allowedOrigin, isDev: isDev}
}

// clientHello is the query-string derived identity a client presents on
// connect: its durable clientId, the session it wants to attach to, the
// last sequence it has seen for that session (drives replay, spec §4.3),
// and its capability bits.
type clientHello struct {
	ClientID    string
	SessionID   string
	LastSeq     uint64
	ExtensionUI bool
	IsActivator bool
}

func parseHello(r *http.Request) (clientHello, bool) {
	q := r.URL.Query()
	clientID := q.Get("clientId")
	sessionID := q.Get("sessionId")
	if clientID == "" || sessionID == "" {
		return clientHello{}, false
	}

	var lastSeq uint64
	if v := q.Get("lastSeq"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastSeq = n
		}
	}

	return clientHello{
		ClientID:    clientID,
		SessionID:   sessionID,
		LastSeq:     lastSeq,
		ExtensionUI: q.Get("extensionUI") == "true",
		IsActivator: q.Get("activator") == "true",
	}, true
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hello, ok := parseHello(r)
	if !ok {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err == nil {
			_ = ws.Close(websocket.StatusCode(hub.CloseMissingClientID), "missing clientId or sessionId")
		} else {
			http.Error(w, "missing clientId or sessionId", http.StatusBadRequest)
		}
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Error("wsgateway: accept failed", "error", err, "client_id", hello.ClientID)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.serve(ctx, ws, hello)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("wsgateway: origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) serve(ctx context.Context, ws *websocket.Conn, hello clientHello) {
	sink := &wsSink{conn: ws}
	client := domain.Client{
		ID:           hello.ClientID,
		Capabilities: domain.Capabilities{ExtensionUI: hello.ExtensionUI},
		ConnectedAt:  time.Now(),
	}

	hb := h.hubs.GetOrCreate(hello.SessionID)
	if hello.IsActivator {
		hb.SetActivatorClient(hello.ClientID)
	}

	if err := hb.AddClient(ctx, client, sink, hello.LastSeq); err != nil {
		code, msg := closeFor(err)
		slog.Warn("wsgateway: attach failed", "session_id", hello.SessionID, "client_id", hello.ClientID, "error", err)
		_ = ws.Close(code, msg)
		return
	}
	defer func() {
		hb.RemoveClient(hello.ClientID)
		h.hubs.ScheduleDisposeCheck(hello.SessionID)
	}()

	h.inputLoop(ctx, ws, hb, hello.ClientID)
}

func closeFor(err error) (websocket.StatusCode, string) {
	if ae, ok := err.(*hub.AttachError); ok {
		return websocket.StatusCode(ae.Code), ae.Message
	}
	return websocket.StatusInternalError, "attach failed"
}

// inputLoop reads one client frame at a time, decodes it as a
// domain.ClientCommand, and routes it to the hub. Output to the client
// flows entirely through the hub's per-client pump (hub.ClientSink), not
// through this loop.
func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, hb *hub.Hub, clientID string) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("wsgateway: closed by client", "client_id", clientID)
			} else {
				slog.Warn("wsgateway: read error", "client_id", clientID, "error", err)
			}
			return
		}

		cmd, err := decodeCommand(raw)
		if err != nil {
			slog.Debug("wsgateway: dropping malformed client frame", "client_id", clientID, "error", err)
			continue
		}

		if err := hb.HandleClientCommand(ctx, clientID, cmd); err != nil {
			slog.Debug("wsgateway: command routing error", "client_id", clientID, "error", err)
		}
	}
}

type wireCommand struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func decodeCommand(raw []byte) (domain.ClientCommand, error) {
	var wc wireCommand
	if err := json.Unmarshal(raw, &wc); err != nil {
		return domain.ClientCommand{}, err
	}
	return domain.ClientCommand{
		Type:    domain.ClientCommandType(wc.Type),
		Message: wc.Message,
		Raw:     raw,
	}, nil
}

// wsSink adapts a coder/websocket.Conn to hub.ClientSink.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(frame []byte) error {
	return s.conn.Write(context.Background(), websocket.MessageText, frame)
}

func (s *wsSink) Close(code int, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}
