package editor

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/id"
)

// MemoryStore keeps sessions in process memory and drops them after an idle
// period. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	editor   *Editor
	idleTTL  time.Duration
	now      func() time.Time
}

func NewMemoryStore(editor *Editor, idleTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		editor:   editor,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(preset domain.Preset, src Source) *Session {
	s := NewSession(id.New(), preset, src)
	s.now = m.now
	s.touch()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
	return s
}

func (m *MemoryStore) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete resets a session and revokes its references.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	m.editor.Release(s)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were dropped.
func (m *MemoryStore) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.lastUpdate().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.editor.Release(s)
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.editor.logger.Debug().Int("sessions", n).Msg("expired idle sessions")
			}
		}
	}
}
