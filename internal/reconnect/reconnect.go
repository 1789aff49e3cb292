// Package reconnect implements the client-side reconnect/resume policy
// (spec §4.6, C6): a small state machine over Disconnected, Connecting,
// Connected, and Reconnecting(attempt), driving the exponential backoff
// schedule in internal/transport.ReconnectDelay and tracking the
// last-seen sequence per session a client presents on resume.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/sessionrelay/hub/internal/transport"
)

// State is one node of the reconnect state diagram in spec §4.6.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Dialer opens one connection attempt. Implemented by the transport in
// use (subprocess, socket, or the client-facing websocket dial); returns
// an error to trigger the next backoff attempt.
type Dialer func(ctx context.Context) error

// Controller drives reconnect attempts with exponential backoff and
// jitter, tracking the last sequence number seen per session so a
// reconnecting client can resume (spec §4.3, §4.6).
type Controller struct {
	dial        Dialer
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu               sync.Mutex
	state            State
	attempt          int
	lastSeqBySession map[string]uint64
	cancel           context.CancelFunc
}

// New constructs a Controller. maxAttempts <= 0 defaults to 5, matching
// spec §4.3's "default 5" budget.
func New(dial Dialer, maxAttempts int, baseDelay, maxDelay time.Duration) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Controller{
		dial:             dial,
		maxAttempts:      maxAttempts,
		baseDelay:        baseDelay,
		maxDelay:         maxDelay,
		state:            Disconnected,
		lastSeqBySession: make(map[string]uint64),
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordSeq updates the last sequence seen for a session, to be
// presented as lastSeqBySession on the next (re)connect.
func (c *Controller) RecordSeq(sessionID string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.lastSeqBySession[sessionID] {
		c.lastSeqBySession[sessionID] = seq
	}
}

// LastSeqBySession returns a copy of the tracked resume positions.
func (c *Controller) LastSeqBySession() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.lastSeqBySession))
	for k, v := range c.lastSeqBySession {
		out[k] = v
	}
	return out
}

// Connect performs the initial connection attempt (Disconnected →
// Connecting → Connected/Disconnected).
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = Connecting
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Disconnected
		return err
	}
	c.state = Connected
	c.attempt = 0
	return nil
}

// Disconnect cancels any pending delay or in-flight reconnect attempt
// (spec §4.6: "calling disconnect() cancels the pending delay and any
// in-flight reconnect attempt") and transitions to Disconnected.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = Disconnected
	c.attempt = 0
	c.mu.Unlock()
}

// ErrReconnectBudgetExhausted is returned when Reconnect has been called
// maxAttempts times without a successful dial.
var ErrReconnectBudgetExhausted = reconnectBudgetExhausted{}

type reconnectBudgetExhausted struct{}

func (reconnectBudgetExhausted) Error() string { return "reconnect: attempt budget exhausted" }

// Reconnect runs the Connected → Reconnecting(1..maxAttempts) →
// Connected/Disconnected loop, sleeping transport.ReconnectDelay between
// attempts. It returns nil on the first successful dial, or
// ErrReconnectBudgetExhausted once maxAttempts have failed. ctx
// cancellation (including via Disconnect) aborts the loop early.
func (c *Controller) Reconnect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.mu.Lock()
		c.state = Reconnecting
		c.attempt = attempt
		c.mu.Unlock()

		delay := transport.ReconnectDelay(attempt, c.baseDelay, c.maxDelay)
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.state = Disconnected
			c.mu.Unlock()
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := c.dial(ctx); err == nil {
			c.mu.Lock()
			c.state = Connected
			c.attempt = 0
			c.mu.Unlock()
			return nil
		}
	}

	c.mu.Lock()
	c.state = Disconnected
	c.attempt = 0
	c.mu.Unlock()
	return ErrReconnectBudgetExhausted
}
