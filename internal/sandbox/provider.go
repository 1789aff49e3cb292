// Package sandbox is the out-of-scope collaborator spec §2 names as
// "sandbox provisioning (Docker/microVM/remote worker creation)": the hub
// and reaper address it only through Provider, never through a concrete
// runtime. The Docker-backed implementation in docker.go is the one this
// repo ships, grounded in the teacher's container.Manager.
package sandbox

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the underlying sandbox instance no longer
// exists. Callers that tolerate a vanished sandbox (the reaper's pause
// path, spec §5 step 3) check for this with errors.Is.
var ErrNotFound = errors.New("sandbox: instance not found")

// EnvConfig carries the environment reference the session was attached
// with. An empty ID means no environment (chat-mode sessions, spec §3).
type EnvConfig struct {
	ID        string
	Variables map[string]string
}

// Provider is the interface the hub and the idle reaper use to reach
// sandbox instances. The hub's attach path calls AttachSession and wraps
// the raw stream in internal/transport's StreamTransport, which applies
// the line-delimited framing the agent protocol expects.
type Provider interface {
	// AttachSession ensures a sandbox instance identified by
	// (providerType, providerID) is running and returns a duplex byte
	// stream to the agent process inside it. Called at most once
	// in-flight per session; the hub deduplicates concurrent attach
	// attempts itself (spec §4.3.b).
	AttachSession(ctx context.Context, providerType, providerID string, env EnvConfig) (io.ReadWriteCloser, error)

	// Pause suspends the sandbox instance to release resources,
	// reversible by a later AttachSession. Returns ErrNotFound if the
	// instance is already gone rather than treating that as failure —
	// the reaper tolerates it (spec §5 step 3).
	Pause(ctx context.Context, providerType, providerID string) error

	// IsRunning reports whether the instance is currently running.
	IsRunning(ctx context.Context, providerType, providerID string) (bool, error)
}
