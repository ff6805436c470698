package host_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"caschost-go/internal/host"
	"caschost-go/internal/testutil"
)

func mustFingerprint(t *testing.T, dir string) string {
	t.Helper()
	fp, err := host.Fingerprint(dir)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	return fp
}

func TestFingerprint_Empty(t *testing.T) {
	dir := t.TempDir()
	if got := mustFingerprint(t, dir); got != host.EmptyFingerprint {
		t.Errorf("empty dir = %q, want %q", got, host.EmptyFingerprint)
	}
	if got := mustFingerprint(t, filepath.Join(dir, "absent")); got != host.EmptyFingerprint {
		t.Errorf("absent dir = %q, want %q", got, host.EmptyFingerprint)
	}
	if err := os.Mkdir(filepath.Join(dir, "only-dirs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := mustFingerprint(t, dir); got != host.EmptyFingerprint {
		t.Errorf("dir of dirs = %q, want %q", got, host.EmptyFingerprint)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "x.m1", "one")
	testutil.WriteFile(t, dir, "z/y.m2", "two")

	a, b := mustFingerprint(t, dir), mustFingerprint(t, dir)
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if len(a) != 32 || a == host.EmptyFingerprint {
		t.Errorf("fingerprint = %q", a)
	}
}

func TestFingerprint_DetectsChanges(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	setup := func(t *testing.T) string {
		dir := t.TempDir()
		for _, rel := range []string{"x.m1", "y.m2"} {
			p := testutil.WriteFile(t, dir, rel, "data")
			if err := os.Chtimes(p, base, base); err != nil {
				t.Fatal(err)
			}
		}
		return dir
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
		same   bool
	}{
		{
			name:   "file deleted",
			mutate: func(t *testing.T, dir string) { os.Remove(filepath.Join(dir, "y.m2")) },
		},
		{
			name: "mtime changed",
			mutate: func(t *testing.T, dir string) {
				later := base.Add(time.Second)
				os.Chtimes(filepath.Join(dir, "x.m1"), later, later)
			},
		},
		{
			name: "size changed",
			mutate: func(t *testing.T, dir string) {
				p := testutil.WriteFile(t, dir, "x.m1", "longer data")
				os.Chtimes(p, base, base)
			},
		},
		{
			name: "same size and mtime, different bytes",
			mutate: func(t *testing.T, dir string) {
				p := testutil.WriteFile(t, dir, "x.m1", "DATA")
				os.Chtimes(p, base, base)
			},
			same: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setup(t)
			before := mustFingerprint(t, dir)
			tt.mutate(t, dir)
			after := mustFingerprint(t, dir)
			if (before == after) != tt.same {
				t.Errorf("before = %q, after = %q, want same = %v", before, after, tt.same)
			}
		})
	}
}

func TestIsStale(t *testing.T) {
	fp := host.Fingerprints{Source: "aaaa", Output: "bbbb"}
	tests := []struct {
		name        string
		lastVersion string
		curVersion  string
		last, cur   host.Fingerprints
		want        bool
	}{
		{name: "nothing changed", lastVersion: "1.0", curVersion: "1.0", last: fp, cur: fp, want: false},
		{name: "version changed", lastVersion: "1.0", curVersion: "1.1", last: fp, cur: fp, want: true},
		{name: "source changed", lastVersion: "1.0", curVersion: "1.0", last: fp, cur: host.Fingerprints{Source: "cccc", Output: "bbbb"}, want: true},
		{name: "output changed", lastVersion: "1.0", curVersion: "1.0", last: fp, cur: host.Fingerprints{Source: "aaaa", Output: "dddd"}, want: true},
		{name: "never built", lastVersion: "", curVersion: "1.0", cur: fp, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := host.IsStale(tt.lastVersion, tt.curVersion, tt.last, tt.cur); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}
