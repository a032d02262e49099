package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/crest/internal/feedback"
	"github.com/oszuidwest/crest/internal/types"
)

// ErrSessionNotFound is returned when no session is registered under an ID.
var ErrSessionNotFound = errors.New("session not found")

// handle is a registered session together with the loop that owns it.
type handle struct {
	session *Session
	post    func(fn func()) error
}

// Manager tracks the active player sessions for the dashboard.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]handle
	retired  types.Stats // counters of sessions that already ended
	started  time.Time
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]handle),
		started:  time.Now(),
	}
}

// Register adds a session. post must run functions on the session's loop.
func (m *Manager) Register(s *Session, post func(fn func()) error) {
	m.mu.Lock()
	m.sessions[s.ID()] = handle{session: s, post: post}
	n := len(m.sessions)
	m.mu.Unlock()
	slog.Info("Player session registered", "session", s.ID(), "sessions", n)
}

// Unregister removes a session. Its counters stay in the aggregate stats.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	if h, ok := m.sessions[id]; ok {
		m.retired = feedback.Merge(m.retired, h.session.Stats())
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	slog.Info("Player session unregistered", "session", id, "sessions", n)
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) handles() []handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(m.sessions))
	out := make([]handle, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.sessions[id])
	}
	return out
}

// Statuses returns the status of every session ordered by ID.
func (m *Manager) Statuses() []types.SessionStatus {
	hs := m.handles()
	out := make([]types.SessionStatus, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.session.Status())
	}
	return out
}

// Levels returns the live loudness view of every session keyed by ID.
func (m *Manager) Levels() map[string]types.Levels {
	hs := m.handles()
	out := make(map[string]types.Levels, len(hs))
	for _, h := range hs {
		out[h.session.ID()] = h.session.Status().Levels
	}
	return out
}

// Stats aggregates the accuracy counters of all sessions.
func (m *Manager) Stats() types.Stats {
	hs := m.handles()
	m.mu.RLock()
	all := []types.Stats{m.retired}
	m.mu.RUnlock()
	for _, h := range hs {
		all = append(all, h.session.Stats())
	}
	st := feedback.Merge(all...)
	if st.SessionStart.IsZero() {
		st.SessionStart = m.started
	}
	return st
}

// UpdateSettings hands new settings to every session.
func (m *Manager) UpdateSettings(settings Settings) {
	for _, h := range m.handles() {
		s := h.session
		if err := h.post(func() { s.UpdateSettings(settings) }); err != nil {
			slog.Debug("Settings not delivered", "session", s.ID(), "error", err)
		}
	}
}

// TestDuck runs a manual duck on one session and waits for the outcome.
func (m *Manager) TestDuck(ctx context.Context, id string, level float64, duration time.Duration) error {
	m.mu.RLock()
	h, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	result := make(chan error, 1)
	if err := h.post(func() { result <- h.session.TestDuck(level, duration) }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
