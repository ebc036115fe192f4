package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
)

// Manager owns the live sessions. Sessions whose event stream has gone away
// and that stay idle past the timeout are reaped so their subscriptions do
// not leak.
type Manager struct {
	deps        SessionDeps
	idleTimeout time.Duration
	log         *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(deps SessionDeps, idleTimeout time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		deps:        deps,
		idleTimeout: idleTimeout,
		log:         log,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a session for a principal.
func (m *Manager) Create(principal model.Principal) (*Session, error) {
	s, err := NewSession(principal, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("chat session created",
		zap.String("session_id", s.ID),
		zap.String("principal_id", principal.ID),
		zap.String("role", string(principal.Role)),
	)

	return s, nil
}

// Get returns a session if it exists and belongs to the principal.
func (m *Manager) Get(sessionID string, principal model.Principal) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok || s.Principal.ID != principal.ID {
		return nil, false
	}
	return s, true
}

// Remove closes and forgets a session.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Run reaps detached idle sessions until the context ends, then closes
// everything.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if !s.Attached() && s.IdleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.log.Info("reaping idle chat session", zap.String("session_id", s.ID))
		s.Close()
	}
}

// CloseAll shuts down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
