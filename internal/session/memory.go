package session

import (
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for tests and development.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte // id -> JSON-encoded session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Create implements Store.
func (m *MemoryStore) Create(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[s.ID]; exists {
		return ErrExists
	}
	return m.put(s)
}

// Get implements Store.
func (m *MemoryStore) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Update implements Store.
func (m *MemoryStore) Update(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[s.ID]
	if !ok {
		return ErrNotFound
	}
	var stored Session
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Status.Terminal() {
		return ErrTerminal
	}
	return m.put(s)
}

// ListByUser implements Store.
func (m *MemoryStore) ListByUser(userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*Session
	for _, data := range m.data {
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		if s.UserID == userID {
			sessions = append(sessions, &s)
		}
	}
	return sessions, nil
}

// ExpireStale implements Store.
func (m *MemoryStore) ExpireStale(now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, data := range m.data {
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		if s.Status.Terminal() || !s.Expired(now) {
			continue
		}
		s.Status = StatusExpired
		if err := m.put(&s); err != nil {
			return nil, err
		}
		expired = append(expired, id)
	}
	return expired, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) put(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.data[s.ID] = data
	return nil
}
