package testutil

import (
	"sync"

	"caschost-go/internal/host"
)

// MemoryStateStore keeps RebuildState in memory.
type MemoryStateStore struct {
	mu    sync.Mutex
	state host.RebuildState
	saves int
}

func NewMemoryStateStore(initial host.RebuildState) *MemoryStateStore {
	return &MemoryStateStore{state: initial}
}

func (s *MemoryStateStore) LoadState() (host.RebuildState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *MemoryStateStore) SaveState(st host.RebuildState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.saves++
	return nil
}

// State returns the last saved state.
func (s *MemoryStateStore) State() host.RebuildState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Saves returns how many times SaveState was called.
func (s *MemoryStateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// StaticVersion is a VersionReader that always returns the same tag.
type StaticVersion string

func (v StaticVersion) Version() (string, error) { return string(v), nil }

var (
	_ host.StateStore    = (*MemoryStateStore)(nil)
	_ host.VersionReader = StaticVersion("")
)
