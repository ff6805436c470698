package host

import "context"

// Archive is an open archive session. The orchestrator is its only caller and
// never uses it from more than one goroutine.
type Archive interface {
	// AddFile ingests the bytes at sourcePath under archivePath and returns
	// the resulting entry. An existing entry for archivePath keeps its FileDataID.
	AddFile(sourcePath, archivePath string) (CacheEntry, error)

	// RemoveFile drops archivePath from the archive. Unknown paths are ignored.
	RemoveFile(archivePath string) error

	// RenameFile moves an entry to a new path, keeping its FileDataID.
	RenameFile(oldPath, newPath string) (CacheEntry, error)

	// GetEntry returns the entry for archivePath, or false if there is none.
	GetEntry(archivePath string) (CacheEntry, bool)

	// Save writes the archive metadata and returns the synthetic metadata
	// entries (root, encoding) to be recorded in the cache.
	Save() ([]CacheEntry, error)

	// Written returns output-relative paths of every blob written by this session.
	Written() []string
}

// ArchiveBuilder opens archive sessions seeded with the currently cached entries.
type ArchiveBuilder interface {
	Open(ctx context.Context, seed []CacheEntry) (Archive, error)
}
