package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryVault keeps objects in a map. Safe for concurrent use.
type MemoryVault struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{objects: make(map[string][]byte)}
}

func (m *MemoryVault) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryVault) Put(_ context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	if err := checkSize(size, int64(len(data))); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		m.objects[key] = data
	}
	return nil
}

func (m *MemoryVault) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

// Len returns the number of stored objects.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
