package app

import (
	"path/filepath"
	"testing"

	"caschost-go/internal/host"
)

func TestStateFile(t *testing.T) {
	s := stateFile{path: filepath.Join(t.TempDir(), "nested", "state.toml")}

	got, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState() on missing file error = %v", err)
	}
	if got != (host.RebuildState{}) {
		t.Errorf("LoadState() = %+v, want zero", got)
	}

	want := host.RebuildState{
		VersionTag:   "8.0.1.27165",
		Fingerprints: host.Fingerprints{Source: "aa", Output: "bb"},
	}
	if err := s.SaveState(want); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	got, err = s.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("LoadState() = %+v, want %+v", got, want)
	}
}
