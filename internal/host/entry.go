package host

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// Synthetic archive metadata entries. They carry FileDataID 0 and have no
// source file, so load-time reconciliation never treats them as missing.
const (
	RootEntryPath     = "__ROOT__"
	EncodingEntryPath = "__ENCODING__"
)

// Hash is a 128-bit content hash (content key or encoded key).
type Hash [16]byte

// ParseHash decodes a 32 character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decoding hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("decoding hash %q: got %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the lowercase hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// CacheEntry records how a logical path was last ingested into the archive.
type CacheEntry struct {
	Path       string // relative to the watched root, slash separated
	FileDataID uint32 // 0 for archive metadata entries
	NameHash   uint64
	ContentKey Hash
	EncodedKey Hash
}

// Equal reports whether two entries are field-for-field identical.
func (e CacheEntry) Equal(o CacheEntry) bool {
	return e.Path == o.Path &&
		e.FileDataID == o.FileDataID &&
		e.NameHash == o.NameHash &&
		e.ContentKey == o.ContentKey &&
		e.EncodedKey == o.EncodedKey
}

// StoredEntry is a CacheEntry as persisted, including its soft-delete marker.
type StoredEntry struct {
	CacheEntry
	PurgeAt time.Time // zero for active entries
}

// Active reports whether the row has not been soft-deleted.
func (e StoredEntry) Active() bool {
	return e.PurgeAt.IsZero()
}

// CDNPath returns the output-relative location of the blob with the given
// encoded key: data/ab/cd/abcd....
func CDNPath(key Hash) string {
	s := key.String()
	return filepath.Join("data", s[0:2], s[2:4], s)
}
