package host

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// MaxBatchStatements caps the number of statements flushed in one store transaction.
const MaxBatchStatements = 2500

// CacheOptions configures a ContentCache.
type CacheOptions struct {
	SourceDir string        // watched source root; entry paths are relative to it
	OutputDir string        // archive output root; blobs live at CDNPath under it
	PurgeTTL  time.Duration // delay between soft-delete and eligibility for hard purge
	Clock     Clock
	Logger    Logger
	Recorder  Recorder
}

// ContentCache is the in-memory authoritative view of the CacheStore.
//
// Mutations are queued and reach the store only through Save. The rebuild
// pass is the only writer; the lock exists so diagnostics can read while a
// pass runs, and it is never held across a store call.
type ContentCache struct {
	store CacheStore
	opts  CacheOptions

	mu      sync.RWMutex
	loaded  bool
	cleaned bool
	entries map[string]CacheEntry
	toPurge map[string]struct{}
	queue   []StoreOp
}

// NewContentCache creates a ContentCache backed by store. Nothing is read
// until Load or the first AddOrUpdate.
func NewContentCache(store CacheStore, opts CacheOptions) *ContentCache {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}
	return &ContentCache{
		store:   store,
		opts:    opts,
		entries: make(map[string]CacheEntry),
		toPurge: make(map[string]struct{}),
	}
}

// Load populates the cache from the store once per process and reconciles
// every row against the filesystem:
//   - active rows whose source file is gone are soft-deleted and reported via ToPurge
//   - soft-deleted rows past their purge time have their blob and source file
//     removed, are reported via ToPurge, and are hard-deleted from the store
//
// Calling Load again is a no-op.
func (c *ContentCache) Load(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	c.opts.Logger.Info("loading cache")
	rows, err := c.store.LoadEntries(ctx)
	if err != nil {
		return c.fail("loading cache entries", err)
	}

	now := c.opts.Clock.Now()
	entries := make(map[string]CacheEntry, len(rows))
	toPurge := make(map[string]struct{})
	var queue []StoreOp
	var expired []StoredEntry

	for _, row := range rows {
		switch {
		case row.Active() && (row.FileDataID == 0 || c.sourceExists(row.Path)):
			entries[row.Path] = row.CacheEntry
		case row.Active():
			queue = append(queue, StoreOp{Kind: OpSoftDelete, Path: row.Path, At: now.Add(c.opts.PurgeTTL)})
			toPurge[row.Path] = struct{}{}
			c.opts.Logger.Info("source file missing, marked for removal", "path", row.Path)
		case !row.PurgeAt.After(now):
			expired = append(expired, row)
		}
	}

	// A blob shared with a live entry must survive the purge of its twin.
	live := make(map[Hash]bool, len(entries))
	for _, e := range entries {
		live[e.EncodedKey] = true
	}
	for _, row := range expired {
		toPurge[row.Path] = struct{}{}
		if !live[row.EncodedKey] {
			c.removeFile(filepath.Join(c.opts.OutputDir, CDNPath(row.EncodedKey)))
		}
		c.removeFile(c.sourcePath(row.Path))
		queue = append(queue, StoreOp{Kind: OpHardDelete, Path: row.Path, At: now})
		c.opts.Logger.Info("purged expired entry", "path", row.Path)
	}

	c.mu.Lock()
	c.entries = entries
	c.toPurge = toPurge
	c.queue = append(queue, c.queue...)
	c.loaded = true
	c.mu.Unlock()

	c.opts.Logger.Info("cache loaded", "entries", len(entries), "to_purge", len(toPurge))
	return c.Save(ctx)
}

// AddOrUpdate upserts entry by path. An identical entry queues nothing.
// Any other active entry holding the same non-zero FileDataID is removed first.
// The first call per process deletes the previous root and encoding blobs.
func (c *ContentCache) AddOrUpdate(ctx context.Context, entry CacheEntry) error {
	if err := c.Load(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cleaned {
		c.cleanLocked()
	}

	if cur, ok := c.entries[entry.Path]; ok && cur.Equal(entry) {
		return nil
	}

	if entry.FileDataID != 0 {
		for path, other := range c.entries {
			if path == entry.Path || other.FileDataID != entry.FileDataID {
				continue
			}
			c.queue = append(c.queue, c.softDelete(path))
			delete(c.entries, path)
			c.opts.Logger.Info("file data id reassigned, removing previous owner",
				"id", entry.FileDataID, "previous", path, "path", entry.Path)
		}
	}

	c.entries[entry.Path] = entry
	c.queue = append(c.queue, StoreOp{Kind: OpUpsert, Entry: entry, Path: entry.Path})
	return nil
}

// Remove soft-deletes path. Unknown paths are ignored.
func (c *ContentCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[path]; !ok {
		return
	}
	c.queue = append(c.queue, c.softDelete(path))
	delete(c.entries, path)
}

// Save flushes queued statements in FIFO order, at most MaxBatchStatements per transaction.
func (c *ContentCache) Save(ctx context.Context) error {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	count := len(c.entries)
	c.mu.Unlock()

	if len(queue) == 0 {
		return nil
	}

	c.opts.Logger.Info("bulk updating cache store", "statements", len(queue))
	for len(queue) > 0 {
		n := min(len(queue), MaxBatchStatements)
		if err := c.store.Apply(ctx, queue[:n]); err != nil {
			return c.fail("flushing cache batch", err)
		}
		c.opts.Recorder.StoreBatch(n)
		queue = queue[n:]
	}
	c.opts.Recorder.CacheEntries(count)
	return nil
}

// Wipe deletes every stored row and resets the in-memory view.
func (c *ContentCache) Wipe(ctx context.Context) error {
	c.opts.Logger.Info("wiping cache store")
	if err := c.store.Wipe(ctx); err != nil {
		return c.fail("wiping cache store", err)
	}

	c.mu.Lock()
	c.entries = make(map[string]CacheEntry)
	c.toPurge = make(map[string]struct{})
	c.queue = nil
	c.loaded = true
	c.mu.Unlock()

	c.opts.Recorder.CacheEntries(0)
	return nil
}

// Clean deletes the blobs referenced by the current root and encoding entries.
// It must run before the archive writes its replacements.
func (c *ContentCache) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanLocked()
}

func (c *ContentCache) cleanLocked() {
	c.cleaned = true
	for _, path := range []string{RootEntryPath, EncodingEntryPath} {
		if e, ok := c.entries[path]; ok {
			c.removeFile(filepath.Join(c.opts.OutputDir, CDNPath(e.EncodedKey)))
		}
	}
}

// Entries returns a snapshot of all active entries sorted by path.
func (c *ContentCache) Entries() []CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Get returns the active entry for path.
func (c *ContentCache) Get(path string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	return e, ok
}

// HasID reports whether any active entry carries id.
func (c *ContentCache) HasID(id uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.FileDataID == id {
			return true
		}
	}
	return false
}

// MaxID returns the largest FileDataID in use, or 0 when empty.
func (c *ContentCache) MaxID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var max uint32
	for _, e := range c.entries {
		if e.FileDataID > max {
			max = e.FileDataID
		}
	}
	return max
}

// HasFiles reports whether the cache holds any active entry.
func (c *ContentCache) HasFiles() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) > 0
}

// ToPurge returns the paths found missing or expired during Load, sorted.
func (c *ContentCache) ToPurge() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.toPurge))
	for p := range c.toPurge {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ClearPurged forgets the ToPurge set once the archive removals have been applied.
func (c *ContentCache) ClearPurged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toPurge = make(map[string]struct{})
}

// Pending returns the number of queued, unflushed statements.
func (c *ContentCache) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.queue)
}

func (c *ContentCache) softDelete(path string) StoreOp {
	return StoreOp{Kind: OpSoftDelete, Path: path, At: c.opts.Clock.Now().Add(c.opts.PurgeTTL)}
}

func (c *ContentCache) sourcePath(rel string) string {
	return filepath.Join(c.opts.SourceDir, filepath.FromSlash(rel))
}

func (c *ContentCache) sourceExists(rel string) bool {
	info, err := os.Stat(c.sourcePath(rel))
	return err == nil && !info.IsDir()
}

func (c *ContentCache) removeFile(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.opts.Logger.Warn("removing file", "path", path, "error", err)
	}
}

func (c *ContentCache) fail(op string, err error) error {
	c.opts.Logger.Error("cache store failure", "op", op, "error", err)
	return fatal(op, err)
}
