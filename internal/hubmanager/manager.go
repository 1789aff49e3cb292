// Package hubmanager is the Hub Manager (spec §4.4, C4): a thread-safe
// registry of Session Hubs keyed by session id, lazily created on first
// client and disposed some time after the hub has no clients left.
package hubmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sessionrelay/hub/internal/domain"
	"github.com/sessionrelay/hub/internal/hub"
	"github.com/sessionrelay/hub/internal/journal"
	"github.com/sessionrelay/hub/internal/metrics"
	"github.com/sessionrelay/hub/internal/sandbox"
	"github.com/sessionrelay/hub/internal/sessionstore"
)

// disposeDelay is how long after a hub reports zero clients the manager
// waits before checking it for disposal. It must exceed hub.DetachGrace so
// the detach timer has already fired and released the channel (spec §4.4).
const disposeDelay = hub.DetachGrace + 1*time.Second

// Manager owns every live Hub in the process.
type Manager struct {
	sessions sessionstore.Repository
	journal  journal.Store
	provider sandbox.Provider

	mu   sync.Mutex
	hubs map[string]*hub.Hub
}

// New constructs an empty Manager.
func New(sessions sessionstore.Repository, jrnl journal.Store, provider sandbox.Provider) *Manager {
	return &Manager{sessions: sessions, journal: jrnl, provider: provider, hubs: make(map[string]*hub.Hub)}
}

// GetOrCreate returns the existing hub for sessionID, constructing one if
// this is the first time it has been seen.
func (m *Manager) GetOrCreate(sessionID string) *hub.Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.hubs[sessionID]; ok {
		return h
	}
	h := hub.New(sessionID, m.sessions, m.journal, m.provider)
	m.hubs[sessionID] = h
	metrics.ActiveHubs.Set(float64(len(m.hubs)))
	return h
}

// Get returns the existing hub for sessionID, or nil if none exists.
func (m *Manager) Get(sessionID string) *hub.Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hubs[sessionID]
}

// ScheduleDisposeCheck arranges for the hub to be closed and evicted from
// the registry if it still has zero clients once disposeDelay has passed.
// Called by the client-facing gateway after the last client for a session
// disconnects.
func (m *Manager) ScheduleDisposeCheck(sessionID string) {
	time.AfterFunc(disposeDelay, func() { m.disposeIfEmpty(sessionID) })
}

func (m *Manager) disposeIfEmpty(sessionID string) {
	m.mu.Lock()
	h, ok := m.hubs[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if h.ConnectionCount() != 0 {
		m.mu.Unlock()
		return
	}
	delete(m.hubs, sessionID)
	metrics.ActiveHubs.Set(float64(len(m.hubs)))
	m.mu.Unlock()

	h.Close()
	slog.Debug("hub disposed", "session_id", sessionID)
}

// SetClientCapabilities forwards a capability update to the named
// session's hub, if it exists.
func (m *Manager) SetClientCapabilities(sessionID, clientID string, caps domain.Capabilities) {
	if h := m.Get(sessionID); h != nil {
		h.SetClientCapabilities(clientID, caps)
	}
}

// SetActivatorClient forwards an activator assignment to the named
// session's hub, if it exists.
func (m *Manager) SetActivatorClient(sessionID, clientID string) {
	if h := m.Get(sessionID); h != nil {
		h.SetActivatorClient(clientID)
	}
}

// ClearSessionClientState forwards a controller/activator/writer reset to
// the named session's hub, if it exists (used by the idle reaper after it
// idles a session, spec §4.5 step 3).
func (m *Manager) ClearSessionClientState(sessionID string) {
	if h := m.Get(sessionID); h != nil {
		h.ClearClientState()
	}
}

// Broadcast sends a sandbox_status frame to every client of sessionID.
// Restricted to that frame type at the call sites per spec §4.4.
func (m *Manager) Broadcast(sessionID string, frame []byte) {
	if h := m.Get(sessionID); h != nil {
		h.Broadcast(frame)
	}
}

// GetConnectionCount reports how many clients are attached to sessionID's
// hub, or 0 if the hub does not exist.
func (m *Manager) GetConnectionCount(sessionID string) int {
	if h := m.Get(sessionID); h != nil {
		return h.ConnectionCount()
	}
	return 0
}

// Evict closes and removes the hub for sessionID, if one exists. Used by
// the session lifecycle API when a session is archived, so no new client
// can attach to a hub for a session that no longer exists.
func (m *Manager) Evict(sessionID string) {
	m.mu.Lock()
	h, ok := m.hubs[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.hubs, sessionID)
	metrics.ActiveHubs.Set(float64(len(m.hubs)))
	m.mu.Unlock()

	h.Close()
}

// CloseAll closes and evicts every hub, for graceful shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	hubs := make([]*hub.Hub, 0, len(m.hubs))
	for id, h := range m.hubs {
		hubs = append(hubs, h)
		delete(m.hubs, id)
	}
	metrics.ActiveHubs.Set(0)
	m.mu.Unlock()

	for _, h := range hubs {
		h.Close()
	}
}
