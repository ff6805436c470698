package testutil

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"caschost-go/internal/host"
)

// MemoryArchiveBuilder opens archives that keep entries in memory and log
// every operation. Blob contents are never written.
type MemoryArchiveBuilder struct {
	// MinimumFileDataID is the lowest id assigned to a new path.
	MinimumFileDataID uint32
	// Opened, when set, receives a value each time Open is entered.
	Opened chan struct{}
	// Gate, when set, blocks Open until a value is received from it.
	Gate chan struct{}

	mu    sync.Mutex
	opens int
	ops   []string
	seeds [][]host.CacheEntry
}

func NewMemoryArchiveBuilder() *MemoryArchiveBuilder {
	return &MemoryArchiveBuilder{MinimumFileDataID: 1000}
}

func (b *MemoryArchiveBuilder) Open(ctx context.Context, seed []host.CacheEntry) (host.Archive, error) {
	if b.Opened != nil {
		b.Opened <- struct{}{}
	}
	if b.Gate != nil {
		select {
		case <-b.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	b.opens++
	b.seeds = append(b.seeds, append([]host.CacheEntry(nil), seed...))
	b.mu.Unlock()

	a := &memoryArchive{builder: b, entries: make(map[string]host.CacheEntry)}
	for _, e := range seed {
		if e.FileDataID == 0 {
			continue
		}
		a.entries[e.Path] = e
		a.maxID = max(a.maxID, e.FileDataID)
	}
	return a, nil
}

// Opens returns how many archives were opened.
func (b *MemoryArchiveBuilder) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Ops returns the operations of every session, e.g. "add a.m2",
// "rename a.m2 b.m2", "remove c.m2", "save".
func (b *MemoryArchiveBuilder) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

// Seeds returns the seed passed to each Open call.
func (b *MemoryArchiveBuilder) Seeds() [][]host.CacheEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]host.CacheEntry(nil), b.seeds...)
}

func (b *MemoryArchiveBuilder) record(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, fmt.Sprintf(format, args...))
}

type memoryArchive struct {
	builder *MemoryArchiveBuilder
	entries map[string]host.CacheEntry
	maxID   uint32
	written []string
}

func (a *memoryArchive) AddFile(sourcePath, archivePath string) (host.CacheEntry, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return host.CacheEntry{}, err
	}
	a.builder.record("add %s", archivePath)

	id := a.nextID()
	if cur, ok := a.entries[archivePath]; ok {
		id = cur.FileDataID
	}
	e := Entry(archivePath, id, data)
	a.entries[archivePath] = e
	a.written = append(a.written, filepath.ToSlash(host.CDNPath(e.EncodedKey)))
	return e, nil
}

func (a *memoryArchive) RemoveFile(archivePath string) error {
	a.builder.record("remove %s", archivePath)
	delete(a.entries, archivePath)
	return nil
}

func (a *memoryArchive) RenameFile(oldPath, newPath string) (host.CacheEntry, error) {
	cur, ok := a.entries[oldPath]
	if !ok {
		return host.CacheEntry{}, fmt.Errorf("rename %s: %w", oldPath, os.ErrNotExist)
	}
	a.builder.record("rename %s %s", oldPath, newPath)
	delete(a.entries, oldPath)
	cur.Path = newPath
	cur.NameHash = nameHash(newPath)
	a.entries[newPath] = cur
	return cur, nil
}

func (a *memoryArchive) GetEntry(archivePath string) (host.CacheEntry, bool) {
	e, ok := a.entries[archivePath]
	return e, ok
}

func (a *memoryArchive) Save() ([]host.CacheEntry, error) {
	a.builder.record("save")
	paths := make([]string, 0, len(a.entries))
	for p := range a.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	listing := []byte(strings.Join(paths, "\n"))

	return []host.CacheEntry{
		Entry(host.RootEntryPath, 0, append([]byte("root\n"), listing...)),
		Entry(host.EncodingEntryPath, 0, append([]byte("encoding\n"), listing...)),
	}, nil
}

func (a *memoryArchive) Written() []string {
	out := append([]string(nil), a.written...)
	sort.Strings(out)
	return out
}

func (a *memoryArchive) nextID() uint32 {
	a.maxID = max(a.maxID+1, a.builder.MinimumFileDataID)
	return a.maxID
}

// Entry builds a deterministic CacheEntry for content: the content key is the
// MD5 of data and the encoded key is the MD5 of the content key.
func Entry(path string, id uint32, data []byte) host.CacheEntry {
	ckey := host.Hash(md5.Sum(data))
	return host.CacheEntry{
		Path:       path,
		FileDataID: id,
		NameHash:   nameHash(path),
		ContentKey: ckey,
		EncodedKey: host.Hash(md5.Sum(ckey[:])),
	}
}

func nameHash(path string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(path); i++ {
		h ^= uint64(path[i])
		h *= 1099511628211
	}
	return h
}

var _ host.ArchiveBuilder = (*MemoryArchiveBuilder)(nil)
