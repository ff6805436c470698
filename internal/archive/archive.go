// Package archive builds a loose-file content-addressed archive: every file is
// stored once under its encoded key, and Save emits a root manifest and an
// encoding table that map paths to keys.
package archive

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"caschost-go/internal/host"
)

// Config configures a Builder.
type Config struct {
	OutputDir         string
	MinimumFileDataID uint32
	Locale            string
	ContentFlags      string
}

// Builder opens archives rooted at Config.OutputDir.
type Builder struct {
	cfg    Config
	logger host.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config, logger host.Logger) *Builder {
	if logger == nil {
		logger = host.NewNopLogger()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Open returns an archive seeded with the given entries. Synthetic root and
// encoding entries are skipped; Save regenerates them.
func (b *Builder) Open(ctx context.Context, seed []host.CacheEntry) (host.Archive, error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	a := &Archive{
		cfg:     b.cfg,
		logger:  b.logger,
		entries: make(map[string]host.CacheEntry, len(seed)),
		written: make(map[string]struct{}),
	}
	for _, e := range seed {
		if isSynthetic(e.Path) {
			continue
		}
		a.entries[e.Path] = e
		a.maxID = max(a.maxID, e.FileDataID)
	}
	return a, nil
}

// Archive is one open archive session. It is not safe for concurrent use.
type Archive struct {
	cfg     Config
	logger  host.Logger
	entries map[string]host.CacheEntry
	maxID   uint32
	written map[string]struct{}
}

// AddFile ingests the file at sourcePath under archivePath. A known path keeps
// its FileDataID. Errors from reading the source wrap the os error, so a
// vanished file satisfies errors.Is(err, fs.ErrNotExist).
func (a *Archive) AddFile(sourcePath, archivePath string) (host.CacheEntry, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return host.CacheEntry{}, fmt.Errorf("reading %s: %w", archivePath, err)
	}
	ckey, ekey, err := a.store(data)
	if err != nil {
		return host.CacheEntry{}, err
	}

	id := uint32(0)
	if cur, ok := a.entries[archivePath]; ok && cur.FileDataID != 0 {
		id = cur.FileDataID
	} else {
		id = a.nextID()
	}

	e := host.CacheEntry{
		Path:       archivePath,
		FileDataID: id,
		NameHash:   NameHash(archivePath),
		ContentKey: ckey,
		EncodedKey: ekey,
	}
	a.entries[archivePath] = e
	a.logger.Debug("added file", "path", archivePath, "id", id, "ekey", ekey.String())
	return e, nil
}

// RemoveFile drops archivePath. Unknown paths are ignored; blobs are left for
// the cache's purge sweep since another path may share them.
func (a *Archive) RemoveFile(archivePath string) error {
	delete(a.entries, archivePath)
	return nil
}

// RenameFile moves an entry to a new path, keeping its id and keys.
func (a *Archive) RenameFile(oldPath, newPath string) (host.CacheEntry, error) {
	e, ok := a.entries[oldPath]
	if !ok {
		return host.CacheEntry{}, fmt.Errorf("renaming %s: no such entry", oldPath)
	}
	delete(a.entries, oldPath)
	e.Path = newPath
	e.NameHash = NameHash(newPath)
	a.entries[newPath] = e
	return e, nil
}

// GetEntry returns the entry for archivePath.
func (a *Archive) GetEntry(archivePath string) (host.CacheEntry, bool) {
	e, ok := a.entries[archivePath]
	return e, ok
}

type rootRecord struct {
	Path       string `json:"path"`
	FileDataID uint32 `json:"file_data_id"`
	NameHash   string `json:"name_hash"`
	ContentKey string `json:"content_key"`
}

type rootManifest struct {
	Locale       string       `json:"locale"`
	ContentFlags string       `json:"content_flags"`
	Entries      []rootRecord `json:"entries"`
}

type encodingRecord struct {
	ContentKey  string `json:"content_key"`
	EncodedKey  string `json:"encoded_key"`
	EncodedSize int64  `json:"encoded_size"`
}

// Save writes the root manifest and the encoding table and returns their
// synthetic entries.
func (a *Archive) Save() ([]host.CacheEntry, error) {
	paths := make([]string, 0, len(a.entries))
	for p := range a.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	root := rootManifest{Locale: a.cfg.Locale, ContentFlags: a.cfg.ContentFlags, Entries: make([]rootRecord, 0, len(paths))}
	seen := make(map[host.Hash]bool, len(paths))
	encoding := make([]encodingRecord, 0, len(paths))
	for _, p := range paths {
		e := a.entries[p]
		root.Entries = append(root.Entries, rootRecord{
			Path:       e.Path,
			FileDataID: e.FileDataID,
			NameHash:   strconv.FormatUint(e.NameHash, 16),
			ContentKey: e.ContentKey.String(),
		})
		if seen[e.ContentKey] {
			continue
		}
		seen[e.ContentKey] = true
		encoding = append(encoding, encodingRecord{
			ContentKey:  e.ContentKey.String(),
			EncodedKey:  e.EncodedKey.String(),
			EncodedSize: a.blobSize(e.EncodedKey),
		})
	}

	rootEntry, err := a.saveMeta(host.RootEntryPath, root)
	if err != nil {
		return nil, fmt.Errorf("writing root manifest: %w", err)
	}
	encodingEntry, err := a.saveMeta(host.EncodingEntryPath, encoding)
	if err != nil {
		return nil, fmt.Errorf("writing encoding table: %w", err)
	}
	a.logger.Info("archive saved", "entries", len(paths), "root", rootEntry.EncodedKey.String())
	return []host.CacheEntry{rootEntry, encodingEntry}, nil
}

// Written returns the output-relative, slash-separated paths of the blobs
// written during this session, sorted.
func (a *Archive) Written() []string {
	out := make([]string, 0, len(a.written))
	for p := range a.written {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (a *Archive) saveMeta(path string, v any) (host.CacheEntry, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return host.CacheEntry{}, err
	}
	ckey, ekey, err := a.store(data)
	if err != nil {
		return host.CacheEntry{}, err
	}
	return host.CacheEntry{Path: path, NameHash: NameHash(path), ContentKey: ckey, EncodedKey: ekey}, nil
}

// store encodes data and writes the blob unless it already exists.
func (a *Archive) store(data []byte) (ckey, ekey host.Hash, err error) {
	ckey = md5.Sum(data)
	encoded, err := Encode(data)
	if err != nil {
		return ckey, ekey, err
	}
	ekey = md5.Sum(encoded)

	rel := host.CDNPath(ekey)
	dst := filepath.Join(a.cfg.OutputDir, rel)
	if _, err := os.Stat(dst); err == nil {
		return ckey, ekey, nil
	}
	if err := writeAtomic(dst, encoded); err != nil {
		return ckey, ekey, fmt.Errorf("writing blob %s: %w", ekey, err)
	}
	a.written[filepath.ToSlash(rel)] = struct{}{}
	return ckey, ekey, nil
}

func (a *Archive) blobSize(ekey host.Hash) int64 {
	info, err := os.Stat(filepath.Join(a.cfg.OutputDir, host.CDNPath(ekey)))
	if err != nil {
		return 0
	}
	return info.Size()
}

func (a *Archive) nextID() uint32 {
	id := max(a.maxID+1, a.cfg.MinimumFileDataID)
	a.maxID = id
	return id
}

func writeAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".blob-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// NameHash hashes a path the way archive lookups do: upper-cased with
// backslash separators.
func NameHash(path string) uint64 {
	return xxhash.Sum64String(strings.ToUpper(strings.ReplaceAll(path, "/", `\`)))
}

func isSynthetic(path string) bool {
	return path == host.RootEntryPath || path == host.EncodingEntryPath
}

var (
	_ host.ArchiveBuilder = (*Builder)(nil)
	_ host.Archive        = (*Archive)(nil)
)
