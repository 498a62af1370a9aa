package editstore

import (
	"context"
	"sync"
)

type memoryBackend struct {
	mu     sync.Mutex
	record []byte
}

// NewMemoryStore returns a process-local store.
func NewMemoryStore() Store {
	return newRecordStore(&memoryBackend{})
}

func (m *memoryBackend) name() string { return "memory" }

func (m *memoryBackend) get(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return nil, nil
	}
	return append([]byte(nil), m.record...), nil
}

func (m *memoryBackend) put(ctx context.Context, record []byte) error {
	m.mu.Lock()
	m.record = append([]byte(nil), record...)
	m.mu.Unlock()
	return nil
}

func (m *memoryBackend) delete(ctx context.Context) error {
	m.mu.Lock()
	m.record = nil
	m.mu.Unlock()
	return nil
}

func (m *memoryBackend) close() error { return nil }
