package feedback

import (
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-memory feedback store for tests and development.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte // id -> JSON-encoded request
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Create implements Store.
func (m *MemoryStore) Create(r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(r)
}

// Get implements Store.
func (m *MemoryStore) Get(id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.decode(id)
}

// Update implements Store.
func (m *MemoryStore) Update(r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[r.ID]; !ok {
		return ErrNotFound
	}
	return m.put(r)
}

// PendingBySession implements Store.
func (m *MemoryStore) PendingBySession(sessionID string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id := range m.data {
		r, err := m.decode(id)
		if err != nil {
			return nil, err
		}
		if r.SessionID == sessionID && r.Status == StatusPending {
			return r, nil
		}
	}
	return nil, ErrNoPending
}

// ListPendingExpired implements Store.
func (m *MemoryStore) ListPendingExpired(now time.Time) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*Request
	for id := range m.data {
		r, err := m.decode(id)
		if err != nil {
			return nil, err
		}
		if r.Status == StatusPending && r.Expired(now) {
			expired = append(expired, r)
		}
	}
	return expired, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) put(r *Request) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.data[r.ID] = data
	return nil
}

func (m *MemoryStore) decode(id string) (*Request, error) {
	data, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
