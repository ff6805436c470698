package archive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"caschost-go/internal/host"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func openArchive(t *testing.T, cfg Config, seed []host.CacheEntry) (*Archive, string) {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	}
	a, err := NewBuilder(cfg, nil).Open(context.Background(), seed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return a.(*Archive), cfg.OutputDir
}

func TestEncodeDecode(t *testing.T) {
	data := bytes.Repeat([]byte("terrain chunk "), 100)

	enc, err := Encode(data)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.HasPrefix(enc, []byte("BLTE")) {
		t.Fatalf("encoded form missing BLTE magic: %q", enc[:4])
	}
	if enc[8] != 'Z' {
		t.Errorf("chunk mode = %q, want 'Z'", enc[8])
	}

	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Decode(Encode(data)) != data")
	}

	if _, err := Decode([]byte("nope")); !errors.Is(err, ErrNotBLTE) {
		t.Errorf("Decode(garbage) error = %v, want ErrNotBLTE", err)
	}
}

func TestArchive_AddFile(t *testing.T) {
	t.Run("stores blob under encoded key", func(t *testing.T) {
		src := t.TempDir()
		data := []byte("model bytes")
		writeFile(t, filepath.Join(src, "World", "tree.m2"), data)
		a, out := openArchive(t, Config{MinimumFileDataID: 1000}, nil)

		e, err := a.AddFile(filepath.Join(src, "World", "tree.m2"), "World/tree.m2")
		if err != nil {
			t.Fatalf("AddFile() error = %v", err)
		}
		if e.ContentKey != host.Hash(md5.Sum(data)) {
			t.Errorf("ContentKey = %s, want md5 of content", e.ContentKey)
		}
		if e.FileDataID != 1000 {
			t.Errorf("FileDataID = %d, want minimum 1000", e.FileDataID)
		}
		if e.NameHash != NameHash("World/tree.m2") {
			t.Errorf("NameHash mismatch")
		}

		blob, err := os.ReadFile(filepath.Join(out, host.CDNPath(e.EncodedKey)))
		if err != nil {
			t.Fatalf("reading blob: %v", err)
		}
		if host.Hash(md5.Sum(blob)) != e.EncodedKey {
			t.Error("blob does not hash to its encoded key")
		}
		if got := a.Written(); len(got) != 1 || got[0] != filepath.ToSlash(host.CDNPath(e.EncodedKey)) {
			t.Errorf("Written() = %v", got)
		}
	})

	t.Run("known path keeps its id", func(t *testing.T) {
		src := t.TempDir()
		writeFile(t, filepath.Join(src, "a.blp"), []byte("v2"))
		seed := []host.CacheEntry{{Path: "a.blp", FileDataID: 42}, {Path: "b.blp", FileDataID: 90}}
		a, _ := openArchive(t, Config{}, seed)

		e, err := a.AddFile(filepath.Join(src, "a.blp"), "a.blp")
		if err != nil {
			t.Fatalf("AddFile() error = %v", err)
		}
		if e.FileDataID != 42 {
			t.Errorf("FileDataID = %d, want 42", e.FileDataID)
		}
	})

	t.Run("new path continues after the highest seeded id", func(t *testing.T) {
		src := t.TempDir()
		writeFile(t, filepath.Join(src, "c.blp"), []byte("c"))
		seed := []host.CacheEntry{{Path: "b.blp", FileDataID: 90}}
		a, _ := openArchive(t, Config{MinimumFileDataID: 10}, seed)

		e, err := a.AddFile(filepath.Join(src, "c.blp"), "c.blp")
		if err != nil {
			t.Fatalf("AddFile() error = %v", err)
		}
		if e.FileDataID != 91 {
			t.Errorf("FileDataID = %d, want 91", e.FileDataID)
		}
	})

	t.Run("missing source satisfies ErrNotExist", func(t *testing.T) {
		a, _ := openArchive(t, Config{}, nil)
		_, err := a.AddFile(filepath.Join(t.TempDir(), "gone.m2"), "gone.m2")
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("AddFile() error = %v, want fs.ErrNotExist", err)
		}
	})
}

func TestArchive_RenameFile(t *testing.T) {
	seed := []host.CacheEntry{{Path: "old.m2", FileDataID: 7, NameHash: NameHash("old.m2")}}
	a, _ := openArchive(t, Config{}, seed)

	e, err := a.RenameFile("old.m2", "new.m2")
	if err != nil {
		t.Fatalf("RenameFile() error = %v", err)
	}
	if e.FileDataID != 7 || e.Path != "new.m2" || e.NameHash != NameHash("new.m2") {
		t.Errorf("RenameFile() = %+v", e)
	}
	if _, ok := a.GetEntry("old.m2"); ok {
		t.Error("old path still present")
	}
	if _, err := a.RenameFile("missing.m2", "x.m2"); err == nil {
		t.Error("RenameFile() of unknown path should fail")
	}
}

func TestArchive_Save(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.blp"), []byte("same"))
	writeFile(t, filepath.Join(src, "b.blp"), []byte("same"))
	seed := []host.CacheEntry{{Path: host.RootEntryPath}, {Path: host.EncodingEntryPath}}
	a, out := openArchive(t, Config{Locale: "enUS", ContentFlags: "LocaleAll"}, seed)

	for _, p := range []string{"a.blp", "b.blp"} {
		if _, err := a.AddFile(filepath.Join(src, p), p); err != nil {
			t.Fatalf("AddFile(%s) error = %v", p, err)
		}
	}
	if _, ok := a.GetEntry(host.RootEntryPath); ok {
		t.Fatal("synthetic entries must not be seeded")
	}

	meta, err := a.Save()
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(meta) != 2 || meta[0].Path != host.RootEntryPath || meta[1].Path != host.EncodingEntryPath {
		t.Fatalf("Save() = %+v", meta)
	}
	for _, m := range meta {
		if m.FileDataID != 0 {
			t.Errorf("%s FileDataID = %d, want 0", m.Path, m.FileDataID)
		}
	}

	blob, err := os.ReadFile(filepath.Join(out, host.CDNPath(meta[0].EncodedKey)))
	if err != nil {
		t.Fatalf("reading root blob: %v", err)
	}
	raw, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode(root) error = %v", err)
	}
	var root rootManifest
	if err := json.Unmarshal(raw, &root); err != nil {
		t.Fatalf("unmarshal root: %v", err)
	}
	if root.Locale != "enUS" || len(root.Entries) != 2 {
		t.Errorf("root = %+v", root)
	}

	// Identical content is stored once: one data blob plus root and encoding.
	if got := len(a.Written()); got != 3 {
		t.Errorf("len(Written()) = %d, want 3", got)
	}
}

func TestNameHash(t *testing.T) {
	if NameHash("World/Maps/a.wdt") != NameHash(`WORLD\MAPS\A.WDT`) {
		t.Error("NameHash must ignore case and separator style")
	}
	if NameHash("a.wdt") == NameHash("b.wdt") {
		t.Error("distinct paths hashed equal")
	}
}
