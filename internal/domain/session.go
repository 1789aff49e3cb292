// Package domain contains the core types shared across the relay: the
// session record, the journal event, and the small set of connected-client
// and tagged-union types the hub and transport pass between each other.
package domain

import "time"

// SessionMode distinguishes a plain chat session from one backed by a
// code sandbox.
type SessionMode string

const (
	ModeChat SessionMode = "chat"
	ModeCode SessionMode = "code"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	StatusCreating SessionStatus = "creating"
	StatusActive   SessionStatus = "active"
	StatusIdle     SessionStatus = "idle"
	StatusArchived SessionStatus = "archived"
	StatusError    SessionStatus = "error"
)

// Session is the persisted record the hub looks up but never creates.
type Session struct {
	ID                string
	Mode              SessionMode
	Status            SessionStatus
	EnvironmentID     string // empty for chat sessions with no sandbox
	SandboxProvider   string
	SandboxProviderID string
	CreatedAt         time.Time
	LastActivityAt    time.Time
	Name              string
	FirstUserMessage  string
}

// HasSandbox reports whether the session has a sandbox binding recorded.
func (s *Session) HasSandbox() bool {
	return s.SandboxProvider != "" && s.SandboxProviderID != ""
}
