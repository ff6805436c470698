package publish

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryTarget keeps published objects in memory. Safe for concurrent use.
type MemoryTarget struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
}

func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{objects: make(map[string][]byte)}
}

func (m *MemoryTarget) Name() string { return "memory" }

func (m *MemoryTarget) Put(_ context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts++
	return nil
}

// Get returns the stored object for key.
func (m *MemoryTarget) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

// Keys returns every stored key, sorted.
func (m *MemoryTarget) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns how many Put calls succeeded.
func (m *MemoryTarget) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

var _ Target = (*MemoryTarget)(nil)
