package decode

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/1broseidon/vidwall/internal/logging"
)

// Manager is the reference-counted session arena. Acquiring a key that is
// already open shares the existing session.
type Manager struct {
	cfg    SessionConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty arena. cfg applies to every session.
func NewManager(cfg SessionConfig) *Manager {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the session for key, opening it with opener on first use.
// Every successful Acquire must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, key Key, opener Opener) (*Session, error) {
	id := key.String()

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.mu.Lock()
		s.refs++
		s.mu.Unlock()
		m.mu.Unlock()
		return s, nil
	}
	s := newSession(key, opener, m.cfg)
	s.refs = 1
	s.starting = true
	m.sessions[id] = s
	m.mu.Unlock()

	// The session is visible before its engine is open; concurrent
	// acquirers share it and see the open error through Pull.
	if err := s.start(ctx); err != nil {
		m.mu.Lock()
		s.mu.Lock()
		s.refs--
		refs := s.refs
		if refs == 0 {
			delete(m.sessions, id)
		} else {
			s.err = err
		}
		s.mu.Unlock()
		m.mu.Unlock()
		if refs == 0 {
			s.close()
		}
		return nil, err
	}
	m.logger.Debug("decode session opened", "source", id)
	return s, nil
}

// Release drops one reference; the last one closes the session.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	id := s.key.String()

	m.mu.Lock()
	s.mu.Lock()
	s.refs--
	refs := s.refs
	s.mu.Unlock()
	if refs > 0 {
		m.mu.Unlock()
		return
	}
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	s.close()
	m.logger.Debug("decode session closed", "source", id)
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats returns a snapshot of every open session, sorted by key.
func (m *Manager) Stats() []SessionStats {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close closes every session regardless of references.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
