package presence

import (
	"context"
	"sync"
)

// MemoryStore is the single-instance fallback used when no Redis address is
// configured. Same semantics as RedisStore, guarded by one mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]Entry              // userID -> entry
	servers  map[string]map[string]bool    // serverID -> userIDs
	channels map[string]map[string]bool    // channelID -> userIDs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]Entry),
		servers:  make(map[string]map[string]bool),
		channels: make(map[string]map[string]bool),
	}
}

func (m *MemoryStore) JoinServer(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ChannelID = ""
	m.users[e.UserID] = e
	if m.servers[e.ServerID] == nil {
		m.servers[e.ServerID] = make(map[string]bool)
	}
	m.servers[e.ServerID][e.UserID] = true
	return nil
}

func (m *MemoryStore) LeaveServer(_ context.Context, serverID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.users[userID]; ok && e.ChannelID != "" {
		delete(m.channels[e.ChannelID], userID)
	}
	delete(m.users, userID)
	delete(m.servers[serverID], userID)
	return nil
}

func (m *MemoryStore) JoinChannel(_ context.Context, serverID, userID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[userID]
	if !ok {
		return ErrNotPresent
	}
	if e.ChannelID != "" && e.ChannelID != channelID {
		delete(m.channels[e.ChannelID], userID)
	}
	if m.channels[channelID] == nil {
		m.channels[channelID] = make(map[string]bool)
	}
	m.channels[channelID][userID] = true
	e.ChannelID = channelID
	m.users[userID] = e
	return nil
}

func (m *MemoryStore) LeaveChannel(_ context.Context, serverID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[userID]
	if !ok {
		return ErrNotPresent
	}
	if e.ChannelID != "" {
		delete(m.channels[e.ChannelID], userID)
		e.ChannelID = ""
		m.users[userID] = e
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.users[userID]
	if !ok {
		return nil, ErrNotPresent
	}
	return &e, nil
}

func (m *MemoryStore) ListServer(_ context.Context, serverID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.servers[serverID]))
	for id := range m.servers[serverID] {
		if e, ok := m.users[id]; ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *MemoryStore) ListChannel(_ context.Context, channelID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.channels[channelID]))
	for id := range m.channels[channelID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) CountServer(_ context.Context, serverID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.servers[serverID]), nil
}

func (m *MemoryStore) CountChannel(_ context.Context, channelID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels[channelID]), nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }
