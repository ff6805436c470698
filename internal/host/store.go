package host

import (
	"context"
	"fmt"
	"time"
)

// StoreOpKind identifies a queued persistence statement.
type StoreOpKind int

const (
	// OpUpsert inserts or replaces the row for Entry.Path and clears purge_at.
	OpUpsert StoreOpKind = iota + 1
	// OpSoftDelete sets purge_at = At on the row for Path.
	OpSoftDelete
	// OpHardDelete removes the row for Path if its purge_at is at or before At.
	OpHardDelete
)

func (k StoreOpKind) String() string {
	switch k {
	case OpUpsert:
		return "upsert"
	case OpSoftDelete:
		return "soft-delete"
	case OpHardDelete:
		return "hard-delete"
	default:
		return fmt.Sprintf("StoreOpKind(%d)", int(k))
	}
}

// StoreOp is one queued write against the CacheStore.
type StoreOp struct {
	Kind  StoreOpKind
	Entry CacheEntry
	Path  string
	At    time.Time
}

// CacheStore is the durable mirror of the ContentCache: one row per logical path.
// Only ContentCache writes to it.
type CacheStore interface {
	// LoadEntries returns every row, active and soft-deleted.
	LoadEntries(ctx context.Context) ([]StoredEntry, error)

	// Apply executes ops in order inside a single transaction.
	Apply(ctx context.Context, ops []StoreOp) error

	// Wipe deletes every row.
	Wipe(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
