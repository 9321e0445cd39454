package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkmjld2/mahajan-remote2/internal/config"
)

// Manager tracks live sessions by ID.
type Manager struct {
	pipeline Pipeline
	timeout  time.Duration
	idleTTL  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a Manager whose sessions run interactions through pipeline.
func NewManager(pipeline Pipeline, cfg config.SessionConfig) *Manager {
	timeout := cfg.InteractionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Manager{
		pipeline: pipeline,
		timeout:  timeout,
		idleTTL:  cfg.IdleTTL,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session that is removed after the idle TTL.
func (m *Manager) Create() *Session {
	return m.add(false)
}

// CreateOwned registers a session tied to a connection. It is never swept;
// the owner must Remove it when the connection ends.
func (m *Manager) CreateOwned() *Session {
	return m.add(true)
}

func (m *Manager) add(owned bool) *Session {
	s := newSession(uuid.NewString(), m.pipeline, m.timeout, owned)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		s.Close()
		return s
	}
	m.sessions[s.id] = s
	slog.Debug("session created", "session_id", s.id, "owned", owned)
	return s
}

// Get returns the session with id and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.touch()
	}
	return s, ok
}

// GetOrCreate returns the session with id, or a new one when id is empty
// or unknown. created reports which happened.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool) {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s, false
		}
	}
	return m.Create(), true
}

// Remove tears down and forgets the session with id.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
		slog.Debug("session removed", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes unowned sessions idle for longer than the TTL and returns
// how many were removed. Sessions with an interaction in flight are kept.
func (m *Manager) Sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.owned {
			continue
		}
		lastUsed, idle := s.idleSince()
		if idle && now.Sub(lastUsed) > m.idleTTL {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		slog.Info("expired idle sessions", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is cancelled, then closes every session.
func (m *Manager) Run(ctx context.Context) {
	interval := m.idleTTL / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Close tears down every session. Sessions created afterwards start closed.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.closed = true
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
