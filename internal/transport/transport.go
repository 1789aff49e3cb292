// Package transport implements the Transport layer (spec §4.1, C1/C7): a
// uniform request/response + event-stream contract over either a local
// subprocess (subprocess.go) or a remote socket (socket.go), sharing the
// envelope codec in internal/wire.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event is what the transport hands to its single subscriber, the hub.
type Event struct {
	SessionID string
	Seq       *uint64
	RawType   string
	RawBytes  []byte
}

// ErrConnectionFailed wraps a reason the agent could not be launched or
// reached during Connect.
type ErrConnectionFailed struct{ Reason string }

func (e *ErrConnectionFailed) Error() string { return "transport: connection failed: " + e.Reason }

// ErrConnectionLost wraps a reason the channel was severed.
type ErrConnectionLost struct{ Reason string }

func (e *ErrConnectionLost) Error() string { return "transport: connection lost: " + e.Reason }

// ErrServerError wraps an error the agent sent back in a response envelope.
type ErrServerError struct {
	Code    string
	Message string
	Details string
}

func (e *ErrServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transport: server error [%s]: %s", e.Code, e.Message)
	}
	return "transport: server error: " + e.Message
}

var (
	ErrTimeout         = errors.New("transport: request timed out")
	ErrCancelled       = errors.New("transport: request cancelled")
	ErrEncodingFailed  = errors.New("transport: encoding failed")
	ErrInvalidResponse = errors.New("transport: invalid response shape")
	ErrNotConnected    = errors.New("transport: not connected")
)

// NoModelsAvailableReason is the reason string ErrConnectionFailed carries
// when a subprocess agent's stderr reports no models are configured during
// its startup settle window (spec §4.1, §6).
const NoModelsAvailableReason = "No models available"

// Transport is the uniform duplex channel the hub holds at most one of
// per session. Implementations: subprocess.go (local agent process),
// socket.go (remote agent behind a websocket).
type Transport interface {
	// Connect is idempotent; returns ErrConnectionFailed on failure.
	Connect(ctx context.Context) error

	// Disconnect cancels in-flight waiters with ErrConnectionLost,
	// terminates the underlying channel, and finalizes the event stream.
	Disconnect() error

	// Send issues a request and suspends until a matching response
	// arrives, the context is cancelled, or the connection is lost.
	Send(ctx context.Context, method, sessionID string, params json.RawMessage) (json.RawMessage, error)

	// SendVoid is Send but discards the result payload.
	SendVoid(ctx context.Context, method, sessionID string, params json.RawMessage) error

	// Forward writes raw, already-encoded bytes to the agent without
	// registering a response waiter. Used for client commands (spec
	// §4.3: "Forward the raw encoded command to the transport"), whose
	// eventual response (if any) arrives through the normal event
	// stream rather than a correlated reply.
	Forward(ctx context.Context, raw []byte) error

	// Events returns the channel of decoded events. There is exactly one
	// consumer per transport instance (the hub); the channel is buffered
	// with a bounded newest-wins policy (eventbuf.go) so a slow consumer
	// cannot block ingestion.
	Events() <-chan Event

	IsConnected() bool
	ConnectionID() string
}
