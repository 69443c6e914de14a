package kv

import (
	"context"
	"slices"
	"sync"
)

type memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memory{docs: make(map[string][]byte)}
}

func (m *memory) Get(_ context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *memory) Put(_ context.Context, name string, value []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	m.mu.Lock()
	m.docs[name] = slices.Clone(value)
	m.mu.Unlock()
	return nil
}

func (m *memory) Close() error { return nil }
