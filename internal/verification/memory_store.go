package verification

import (
	"context"
	"sync"
)

type codeKey struct {
	channel     Channel
	destination string
}

// MemoryStore is an in-memory code store for demo/development.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[codeKey]*Code
}

// NewMemoryStore creates a new in-memory code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[codeKey]*Code)}
}

func (m *MemoryStore) Put(_ context.Context, c *Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.codes[codeKey{c.Channel, c.Destination}] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, channel Channel, destination string) (*Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[codeKey{channel, destination}]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) IncrementAttempts(_ context.Context, channel Channel, destination string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[codeKey{channel, destination}]
	if !ok {
		return 0, ErrCodeNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (m *MemoryStore) Delete(_ context.Context, channel Channel, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, codeKey{channel, destination})
	return nil
}

var _ Store = (*MemoryStore)(nil)
