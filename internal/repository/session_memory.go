package repository

import (
	"context"
	"sort"
	"sync"
)

// MemorySessionStore process-local SessionStore for tests and single-node development
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]string)}
}

func (m *MemorySessionStore) Get(ctx context.Context, user string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessions[user]
	if !ok {
		return "", ErrSessionNotFound
	}
	return id, nil
}

func (m *MemorySessionStore) Set(ctx context.Context, user, withdrawalID string) error {
	m.mu.Lock()
	m.sessions[user] = withdrawalID
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) Clear(ctx context.Context, user string) error {
	m.mu.Lock()
	delete(m.sessions, user)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) Users(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.sessions))
	for user := range m.sessions {
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}
