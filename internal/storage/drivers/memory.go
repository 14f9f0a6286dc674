package drivers

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorage keeps artifacts in RAM. Intended for tests and local pipelines.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (m *MemoryStorage) Store(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.blobs[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	observe("memory", "store", nil)
	return nil
}

func (m *MemoryStorage) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("memory key %q: %w", key, ErrNotFound)
		observe("memory", "load", err)
		return nil, err
	}
	observe("memory", "load", nil)
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[key]; !ok {
		err := fmt.Errorf("memory key %q: %w", key, ErrNotFound)
		observe("memory", "delete", err)
		return err
	}
	delete(m.blobs, key)
	observe("memory", "delete", nil)
	return nil
}

func (m *MemoryStorage) Exists(ctx context.Context, key string) bool {
	m.mu.RLock()
	_, ok := m.blobs[key]
	m.mu.RUnlock()
	return ok
}

// Len reports the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
