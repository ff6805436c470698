package testutil

import (
	"context"
	"sort"
	"sync"
	"testing"

	"caschost-go/internal/database"
	"caschost-go/internal/database/migrations"
	"caschost-go/internal/host"
)

// NewTestStore creates an in-memory SQLite cache store with migrations applied.
// The store is closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	store := database.NewSQLiteStoreFromDB(db)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecordingStore is a CacheStore held in a map. It records every Apply call.
type RecordingStore struct {
	mu      sync.Mutex
	rows    map[string]host.StoredEntry
	batches [][]host.StoreOp

	// ApplyErr, when set, is returned by Apply without changing any row.
	ApplyErr error
	// LoadErr, when set, is returned by LoadEntries.
	LoadErr error
}

func NewRecordingStore(rows ...host.StoredEntry) *RecordingStore {
	s := &RecordingStore{rows: make(map[string]host.StoredEntry)}
	for _, r := range rows {
		s.rows[r.Path] = r
	}
	return s
}

func (s *RecordingStore) LoadEntries(context.Context) ([]host.StoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return s.sortedLocked(), nil
}

func (s *RecordingStore) Apply(_ context.Context, ops []host.StoreOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ApplyErr != nil {
		return s.ApplyErr
	}

	s.batches = append(s.batches, append([]host.StoreOp(nil), ops...))
	for _, op := range ops {
		switch op.Kind {
		case host.OpUpsert:
			s.rows[op.Entry.Path] = host.StoredEntry{CacheEntry: op.Entry}
		case host.OpSoftDelete:
			if row, ok := s.rows[op.Path]; ok {
				row.PurgeAt = op.At
				s.rows[op.Path] = row
			}
		case host.OpHardDelete:
			if row, ok := s.rows[op.Path]; ok && !row.Active() && !row.PurgeAt.After(op.At) {
				delete(s.rows, op.Path)
			}
		}
	}
	return nil
}

func (s *RecordingStore) Wipe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]host.StoredEntry)
	return nil
}

func (s *RecordingStore) Close() error { return nil }

// Rows returns every stored row sorted by path.
func (s *RecordingStore) Rows() []host.StoredEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Row returns the stored row for path.
func (s *RecordingStore) Row(path string) (host.StoredEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[path]
	return r, ok
}

// Batches returns the op slices passed to each successful Apply call.
func (s *RecordingStore) Batches() [][]host.StoreOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]host.StoreOp(nil), s.batches...)
}

// Ops returns every applied op, in order.
func (s *RecordingStore) Ops() []host.StoreOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []host.StoreOp
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *RecordingStore) sortedLocked() []host.StoredEntry {
	out := make([]host.StoredEntry, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

var _ host.CacheStore = (*RecordingStore)(nil)
