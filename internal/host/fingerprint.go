package host

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"
)

// EmptyFingerprint is the fingerprint of a directory that holds no files.
const EmptyFingerprint = "00000000000000000000000000000000"

// ticksToUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01 UTC.
const ticksToUnixEpoch = 621355968000000000

type fileIdentity struct {
	path    string
	size    int64
	modTime time.Time
}

// Fingerprint digests the (path, size, modification time) triple of every file
// under dir, in lexicographic path order. An empty or absent directory yields
// EmptyFingerprint.
func Fingerprint(dir string) (string, error) {
	var files []fileIdentity
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		files = append(files, fileIdentity{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", dir, err)
	}
	if len(files) == 0 {
		return EmptyFingerprint, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	h := md5.New()
	var buf [8]byte
	for _, f := range files {
		h.Write([]byte(f.path))
		binary.LittleEndian.PutUint64(buf[:], uint64(f.size))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(ticks(f.modTime)))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func ticks(t time.Time) int64 {
	return t.UTC().UnixNano()/100 + ticksToUnixEpoch
}

// IsStale reports whether the archive must be rebuilt. A version change
// decides on its own; otherwise either fingerprint differing does.
func IsStale(lastVersion, currentVersion string, last, current Fingerprints) bool {
	if lastVersion != currentVersion {
		return true
	}
	return last.Source != current.Source || last.Output != current.Output
}
