package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by MemoryKV when failure injection is on.
var ErrInjected = errors.New("injected persistence failure")

// MemoryKV is an in-memory key-value persister for tests.
//
// It satisfies formstate.Persister. SetFailing makes every subsequent call
// fail, to exercise best-effort persistence paths.
type MemoryKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	writes  int
	failing bool
}

// NewMemoryKV creates an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get returns a copy of the stored bytes.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, false, ErrInjected
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrInjected
	}
	m.data[key] = append([]byte(nil), value...)
	m.writes++
	return nil
}

// SetFailing toggles failure injection.
func (m *MemoryKV) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Writes returns the number of successful Set calls.
func (m *MemoryKV) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Raw returns the stored value as a string, or "" if absent.
func (m *MemoryKV) Raw(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.data[key])
}
