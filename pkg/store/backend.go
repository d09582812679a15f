package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Backend.Load when a key has never been written.
var ErrNotFound = errors.New("key not found")

// Write is one key update inside a Commit. A nil Value deletes the key.
type Write struct {
	Key   string
	Value []byte
}

// Backend is the durable key/value medium behind a Store.
// Commit must apply all writes atomically.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Commit(ctx context.Context, writes ...Write) error
	Close() error
}

type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Commit(_ context.Context, writes ...Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if w.Value == nil {
			delete(m.data, w.Key)
			continue
		}
		m.data[w.Key] = append([]byte(nil), w.Value...)
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
