package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilesystemTarget mirrors blobs into a directory tree, e.g. a mounted web root.
type FilesystemTarget struct {
	root string
}

// NewFilesystemTarget creates the root directory if needed.
func NewFilesystemTarget(root string) (*FilesystemTarget, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating mirror root: %w", err)
	}
	return &FilesystemTarget{root: root}, nil
}

func (t *FilesystemTarget) Name() string { return "filesystem:" + t.root }

// Put writes r to root/key through a temp file and rename. Existing keys are
// skipped: the key is a content hash, so the bytes are already there.
func (t *FilesystemTarget) Put(_ context.Context, key string, r io.Reader, size int64) error {
	dst := filepath.Join(t.root, filepath.FromSlash(key))
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmp.Name())
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	ok = true
	return nil
}

var _ Target = (*FilesystemTarget)(nil)
