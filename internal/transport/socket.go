package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sessionrelay/hub/internal/wire"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultBaseDelay            = 1 * time.Second
	defaultMaxDelay             = 30 * time.Second
)

type socketWaiter struct {
	resultCh chan json.RawMessage
	errCh    chan error
}

// helloRequest and helloResponse are the versioned handshake payload
// exchanged before a socket transport is considered connected (spec
// §4.1). They ride inside a normal request/response envelope pair with
// method "hello".
type helloRequest struct {
	ClientInfo map[string]string `json:"clientInfo"`
	ResumeInfo *resumeInfoWire   `json:"resumeInfo,omitempty"`
}

type resumeInfoWire struct {
	ConnectionID     string            `json:"connectionId"`
	LastSeqBySession map[string]uint64 `json:"lastSeqBySession"`
}

type helloResponse struct {
	ConnectionID       string `json:"connectionId"`
	SupportsResume     bool   `json:"supportsResume"`
	MaxReplayWindowSec int    `json:"maxReplayWindowSec"`
}

// SocketTransport connects to a remote agent over a websocket, framing
// every message as a single internal/wire.Envelope JSON object. Built on
// gorilla/websocket, kept distinct from the client-facing coder/websocket
// gateway (internal/wsgateway) since the two sides speak different
// framing and lifecycle rules.
type SocketTransport struct {
	url        string
	clientInfo map[string]string

	maxReconnectAttempts int
	baseDelay            time.Duration
	maxDelay             time.Duration

	mu             sync.Mutex
	conn           *websocket.Conn
	writeMu        sync.Mutex
	waiters        map[string]*socketWaiter
	connID         string
	connected      bool
	supportsResume bool

	resumeMu         sync.Mutex
	lastSeqBySession map[string]uint64

	events *eventBuffer
	done   chan struct{}
}

// NewSocketTransport constructs a transport that dials url with the given
// clientInfo on Connect.
func NewSocketTransport(url string, clientInfo map[string]string) *SocketTransport {
	return &SocketTransport{
		url:                   url,
		clientInfo:            clientInfo,
		maxReconnectAttempts:  defaultMaxReconnectAttempts,
		baseDelay:             defaultBaseDelay,
		maxDelay:              defaultMaxDelay,
		waiters:               make(map[string]*socketWaiter),
		lastSeqBySession:      make(map[string]uint64),
		events:                newEventBuffer(),
		done:                  make(chan struct{}),
	}
}

// Connect dials the socket and performs the hello handshake.
func (t *SocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, http.Header{})
	if err != nil {
		return &ErrConnectionFailed{Reason: err.Error()}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := t.hello(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	go t.readLoop()

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	slog.Info("socket transport connected", "connection_id", t.connID, "url", t.url)
	return nil
}

func (t *SocketTransport) hello(ctx context.Context) error {
	t.resumeMu.Lock()
	resume := &resumeInfoWire{ConnectionID: t.connID, LastSeqBySession: copySeqMap(t.lastSeqBySession)}
	t.resumeMu.Unlock()
	if resume.ConnectionID == "" {
		resume = nil
	}

	params, err := json.Marshal(helloRequest{ClientInfo: t.clientInfo, ResumeInfo: resume})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	id := uuid.NewString()
	env := wire.NewRequest(id, "hello", "", params)
	if err := t.writeEnvelope(env); err != nil {
		return &ErrConnectionFailed{Reason: err.Error()}
	}

	_, raw, err := t.conn.ReadMessage()
	if err != nil {
		return &ErrConnectionFailed{Reason: err.Error()}
	}
	respEnv, err := wire.Decode(raw)
	if err != nil {
		return &ErrConnectionFailed{Reason: "invalid hello response: " + err.Error()}
	}
	if respEnv.OK == nil || !*respEnv.OK {
		return &ErrConnectionFailed{Reason: "hello rejected"}
	}

	var hr helloResponse
	if err := json.Unmarshal(respEnv.Result, &hr); err != nil {
		return &ErrConnectionFailed{Reason: "invalid hello result: " + err.Error()}
	}

	t.connID = hr.ConnectionID
	t.supportsResume = hr.SupportsResume
	return nil
}

func copySeqMap(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *SocketTransport) readLoop() {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.handleDisconnect(err)
			return
		}

		env, err := wire.Decode(raw)
		if err != nil {
			msg, command, isResponse, ok := parseLegacyLine(raw)
			if !ok {
				slog.Debug("socket frame dropped, invalid JSON")
				continue
			}
			if isResponse {
				t.resolveWaiter(command, nil, &ErrInvalidResponseWrap{})
				continue
			}
			t.events.push(legacyEvent(msg, raw))
			continue
		}

		switch env.Kind {
		case wire.KindResponse:
			t.handleResponse(env)
		case wire.KindEvent:
			t.handleEvent(env, raw)
		default:
			slog.Debug("socket frame with unknown kind ignored", "kind", env.Kind)
		}
	}
}

// ErrInvalidResponseWrap is a placeholder error used when a legacy-style
// response frame arrives over the socket transport without a request-id
// correlated waiter to resolve; the socket variant only tracks waiters by
// envelope id, so such frames are logged and dropped.
type ErrInvalidResponseWrap struct{}

func (e *ErrInvalidResponseWrap) Error() string { return "transport: unresolvable legacy response over socket" }

func (t *SocketTransport) resolveWaiter(id string, result json.RawMessage, err error) {
	t.mu.Lock()
	w, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		slog.Debug("socket response matched no waiter", "id", id)
		return
	}
	if err != nil {
		w.errCh <- err
		return
	}
	w.resultCh <- result
}

func (t *SocketTransport) handleResponse(env wire.Envelope) {
	if env.OK != nil && !*env.OK {
		msg := "unknown error"
		code := ""
		details := ""
		if env.Error != nil {
			msg = env.Error.Message
			code = env.Error.Code
			details = env.Error.Details
		}
		t.resolveWaiter(env.ID, nil, &ErrServerError{Code: code, Message: msg, Details: details})
		return
	}
	t.resolveWaiter(env.ID, env.Result, nil)
}

func (t *SocketTransport) handleEvent(env wire.Envelope, raw []byte) {
	if env.SessionID != "" && env.Seq != nil {
		t.resumeMu.Lock()
		t.lastSeqBySession[env.SessionID] = *env.Seq
		t.resumeMu.Unlock()
	}
	t.events.push(Event{SessionID: env.SessionID, Seq: env.Seq, RawType: env.Type, RawBytes: raw})
}

func (t *SocketTransport) handleDisconnect(cause error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	waiters := t.waiters
	t.waiters = make(map[string]*socketWaiter)
	t.mu.Unlock()

	for _, w := range waiters {
		w.errCh <- &ErrConnectionLost{Reason: cause.Error()}
	}

	slog.Warn("socket transport disconnected", "connection_id", t.connID, "error", cause)
	close(t.done)
}

func (t *SocketTransport) writeEnvelope(env wire.Envelope) error {
	b, err := wire.Encode(env)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

// Send issues an id-correlated request and suspends for its response.
func (t *SocketTransport) Send(ctx context.Context, method, sessionID string, params json.RawMessage) (json.RawMessage, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	w := &socketWaiter{resultCh: make(chan json.RawMessage, 1), errCh: make(chan error, 1)}
	t.waiters[id] = w
	t.mu.Unlock()

	env := wire.NewRequest(id, method, sessionID, params)
	if err := t.writeEnvelope(env); err != nil {
		t.mu.Lock()
		delete(t.waiters, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	select {
	case res := <-w.resultCh:
		return res, nil
	case err := <-w.errCh:
		return nil, err
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiters, id)
		t.mu.Unlock()
		if ctx.Err() == context.Canceled {
			return nil, ErrCancelled
		}
		return nil, ErrTimeout
	case <-t.done:
		return nil, &ErrConnectionLost{Reason: "socket closed"}
	}
}

// SendVoid is Send but discards the result.
func (t *SocketTransport) SendVoid(ctx context.Context, method, sessionID string, params json.RawMessage) error {
	_, err := t.Send(ctx, method, sessionID, params)
	return err
}

// Forward writes raw, pre-encoded bytes directly onto the socket as a
// text frame, bypassing envelope wrapping and waiter registration.
func (t *SocketTransport) Forward(ctx context.Context, raw []byte) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, raw)
}

func (t *SocketTransport) Events() <-chan Event {
	return t.events.channel()
}

func (t *SocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *SocketTransport) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connID
}

// Disconnect cancels pending waiters and closes the socket.
func (t *SocketTransport) Disconnect() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	waiters := t.waiters
	t.waiters = make(map[string]*socketWaiter)
	conn := t.conn
	t.mu.Unlock()

	for _, w := range waiters {
		w.errCh <- &ErrConnectionLost{Reason: "shutdown"}
	}

	if conn != nil {
		_ = conn.Close()
	}
	t.events.close()
	return nil
}

// ReconnectDelay computes the exponential-backoff-with-jitter delay for
// the given 1-indexed attempt number, per spec §4.6.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := base * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(float64(base) * 0.3) + 1))
	delay := backoff + jitter
	if delay > max {
		return max
	}
	return delay
}
