// Package persist provides durable local key-value storage backends.
package persist

import (
	"context"
	"sync"

	ats "github.com/muasya/ats-go"
)

// Memory keeps values in process memory. Useful for tests and short-lived
// processes.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ ats.Storage = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
