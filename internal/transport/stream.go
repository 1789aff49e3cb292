package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionrelay/hub/internal/wire"
)

// StreamTransport wraps an already-open duplex byte stream (typically the
// result of sandbox.Provider.AttachSession) in the same line-delimited
// legacy framing as SubprocessTransport. The hub's attach path constructs
// one of these around whatever the sandbox provider hands back, so the
// provider never needs to know about wire framing and the hub never needs
// to know whether the stream came from a container exec or a local
// process (spec §4.3: "this yields a channel").
type StreamTransport struct {
	stream io.ReadWriteCloser

	mu        sync.Mutex
	waiters   map[string]*legacyWaiter
	connID    string
	connected bool

	events *eventBuffer
	done   chan struct{}
}

// NewStreamTransport wraps stream without reading from it. Connect marks
// the transport live and starts the read loop; it dials nothing, since the
// stream is already open by the time the provider returns it.
func NewStreamTransport(stream io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{
		stream:  stream,
		waiters: make(map[string]*legacyWaiter),
		connID:  uuid.NewString(),
		events:  newEventBuffer(),
		done:    make(chan struct{}),
	}
}

func (t *StreamTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *StreamTransport) readLoop() {
	scanner := bufio.NewScanner(t.stream)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		raw := scanner.Bytes()
		cleaned := wire.StripANSI(raw)
		jsonBytes, ok := wire.FindJSONStart(cleaned)
		if !ok {
			slog.Debug("stream line dropped, no JSON start found")
			continue
		}

		msg, command, isResponse, ok := parseLegacyLine(jsonBytes)
		if !ok {
			slog.Debug("stream line dropped, invalid JSON")
			continue
		}

		if isResponse {
			t.dispatchResponse(command, msg, jsonBytes)
			continue
		}

		t.events.push(legacyEvent(msg, jsonBytes))
	}

	t.handleDisconnect(scanner.Err())
}

func (t *StreamTransport) dispatchResponse(command string, msg map[string]json.RawMessage, raw []byte) {
	var matched *legacyWaiter
	for attempt := 0; attempt < legacyMatchRetries; attempt++ {
		t.mu.Lock()
		w, ok := t.waiters[command]
		if ok {
			delete(t.waiters, command)
		}
		t.mu.Unlock()
		if ok {
			matched = w
			break
		}
		time.Sleep(legacyMatchInterval)
	}

	if matched == nil {
		slog.Warn("stream response matched no waiter after retries", "command", command)
		return
	}

	if errRaw, hasErr := msg["error"]; hasErr {
		var errMsg string
		_ = json.Unmarshal(errRaw, &errMsg)
		matched.errCh <- &ErrServerError{Message: errMsg}
		return
	}

	result := json.RawMessage(raw)
	if r, ok := msg["result"]; ok {
		result = r
	}
	matched.resultCh <- result
}

func (t *StreamTransport) Send(ctx context.Context, method, sessionID string, params json.RawMessage) (json.RawMessage, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	w := &legacyWaiter{resultCh: make(chan json.RawMessage, 1), errCh: make(chan error, 1)}
	t.waiters[method] = w
	t.mu.Unlock()

	payload := map[string]interface{}{"type": method}
	if sessionID != "" {
		payload["sessionId"] = sessionID
	}
	if len(params) > 0 {
		var extra map[string]interface{}
		if err := json.Unmarshal(params, &extra); err == nil {
			for k, v := range extra {
				payload[k] = v
			}
		}
	}
	line, err := json.Marshal(payload)
	if err != nil {
		t.mu.Lock()
		delete(t.waiters, method)
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	line = append(line, '\n')

	if _, err := t.stream.Write(line); err != nil {
		t.mu.Lock()
		delete(t.waiters, method)
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
		delete(t.waiters, method)
		t.mu.Unlock()
		if ctx.Err() == context.Canceled {
			return nil, ErrCancelled
		}
		return nil, ErrTimeout
	case <-t.done:
		return nil, &ErrConnectionLost{Reason: "stream closed"}
	}
}

func (t *StreamTransport) SendVoid(ctx context.Context, method, sessionID string, params json.RawMessage) error {
	_, err := t.Send(ctx, method, sessionID, params)
	return err
}

// Forward writes raw, pre-encoded bytes directly to the stream.
func (t *StreamTransport) Forward(ctx context.Context, raw []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		raw = append(raw, '\n')
	}
	_, err := t.stream.Write(raw)
	return err
}

func (t *StreamTransport) Events() <-chan Event {
	return t.events.channel()
}

func (t *StreamTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *StreamTransport) ConnectionID() string {
	return t.connID
}

func (t *StreamTransport) handleDisconnect(cause error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	waiters := t.waiters
	t.waiters = make(map[string]*legacyWaiter)
	t.mu.Unlock()

	reason := "stream closed"
	if cause != nil {
		reason = cause.Error()
	}
	for _, w := range waiters {
		w.errCh <- &ErrConnectionLost{Reason: reason}
	}
	t.events.close()
	close(t.done)
}

// Disconnect closes the underlying stream, which unwinds the read loop
// and triggers handleDisconnect.
func (t *StreamTransport) Disconnect() error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return nil
	}
	return t.stream.Close()
}
