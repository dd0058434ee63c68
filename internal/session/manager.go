package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Manager struct {
	extractor Extractor
	idle      time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(extractor Extractor, idle time.Duration) *Manager {
	return &Manager{
		extractor: extractor,
		idle:      idle,
		sessions:  make(map[string]*Session),
	}
}

func (m *Manager) Create() *Session {
	s := New(m.extractor)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	slog.Info("session created", "session", s.ID())
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	slog.Info("session closed", "session", id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle closes sessions with no activity since before now minus the idle
// timeout and returns how many were closed.
func (m *Manager) EvictIdle(now time.Time) int {
	if m.idle <= 0 {
		return 0
	}
	var stale []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.idle {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		slog.Info("evicted idle sessions", "count", len(stale))
	}
	return len(stale)
}

// Run evicts idle sessions until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) {
	interval := m.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case now := <-ticker.C:
			m.EvictIdle(now)
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
