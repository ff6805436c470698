package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates root/rel with data, making parent directories, and
// returns the absolute path.
func WriteFile(t *testing.T, root, rel, data string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("creating directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
	return p
}
