package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"line-relay/internal/domain"
)

// MemoryStore keeps transcripts in process memory keyed by sender ID.
// Sessions idle for longer than the TTL are treated as absent and dropped.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]domain.Session),
	}
}

func (m *MemoryStore) expired(s domain.Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.UpdatedAt) > m.ttl
}

// Load returns a copy of the sender's transcript.
func (m *MemoryStore) Load(_ context.Context, senderID string) (domain.Transcript, bool, error) {
	m.mu.RLock()
	s, ok := m.sessions[senderID]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.expired(s, m.now()) {
		m.mu.Lock()
		if cur, still := m.sessions[senderID]; still && m.expired(cur, m.now()) {
			delete(m.sessions, senderID)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return s.Transcript.Clone(), true, nil
}

// Save replaces the sender's transcript.
func (m *MemoryStore) Save(_ context.Context, senderID string, t domain.Transcript) error {
	if strings.TrimSpace(senderID) == "" {
		return errors.New("repository: sender id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[senderID] = domain.Session{
		SenderID:   senderID,
		Transcript: t.Clone(),
		UpdatedAt:  m.now(),
	}
	return nil
}

// Sweep drops every expired session and reports how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of held sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
