package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/srv/caschost")
	original.GameDir = "/games/wow"
	original.PurgeTTL = Duration{24 * time.Hour}
	original.Ignore = []string{"*.psd", "export/"}
	original.Publish = PublishConfig{Type: "s3", S3Bucket: "patches", S3Prefix: "cdn/", S3Region: "eu-west-1"}
	original.Metrics = MetricsConfig{ListenAddr: ":9108"}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `debounce = "30s"`) {
		t.Errorf("durations should be written as strings:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.SourceDir != original.SourceDir {
		t.Errorf("SourceDir = %q, want %q", got.SourceDir, original.SourceDir)
	}
	if got.GameDir != "/games/wow" {
		t.Errorf("GameDir = %q", got.GameDir)
	}
	if got.Debounce.Duration != 30*time.Second {
		t.Errorf("Debounce = %v, want 30s", got.Debounce)
	}
	if got.PurgeTTL.Duration != 24*time.Hour {
		t.Errorf("PurgeTTL = %v, want 24h", got.PurgeTTL)
	}
	if got.MinFileDataID != original.MinFileDataID {
		t.Errorf("MinFileDataID = %d, want %d", got.MinFileDataID, original.MinFileDataID)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want sqlite", got.Database.Type)
	}
	if got.Publish.Type != "s3" || got.Publish.S3Bucket != "patches" {
		t.Errorf("Publish = %+v", got.Publish)
	}
	if got.Metrics.ListenAddr != ":9108" {
		t.Errorf("Metrics.ListenAddr = %q", got.Metrics.ListenAddr)
	}
	if len(got.Ignore) != 2 {
		t.Errorf("len(Ignore) = %d, want 2", len(got.Ignore))
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText(soon) expected error")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/caschost")

	if cfg.SourceDir != "/data/caschost/Data" {
		t.Errorf("SourceDir = %q", cfg.SourceDir)
	}
	if cfg.LogDir != "/data/caschost/log" {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.BuildInfoPath() != "/data/caschost/SystemFiles/.build.info" {
		t.Errorf("BuildInfoPath() = %q", cfg.BuildInfoPath())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing source", mutate: func(c *Config) { c.SourceDir = "" }},
		{name: "missing output", mutate: func(c *Config) { c.OutputDir = "" }},
		{name: "same source and output", mutate: func(c *Config) { c.OutputDir = c.SourceDir }},
		{name: "missing state path", mutate: func(c *Config) { c.StatePath = "" }},
		{name: "negative backoff", mutate: func(c *Config) { c.Backoff = Duration{-time.Second} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data")
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg := NewConfig("caschost")
	cfg.GameDir = "/games/wow"
	cfg.Publish.FSRoot = ""
	if err := cfg.ResolvePaths(); err != nil {
		t.Fatalf("ResolvePaths() error = %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "source", got: cfg.SourceDir, want: filepath.Join(wd, "caschost", "Data")},
		{name: "output", got: cfg.OutputDir, want: filepath.Join(wd, "caschost", "Output")},
		{name: "state", got: cfg.StatePath, want: filepath.Join(wd, "caschost", "state.toml")},
		{name: "database", got: cfg.Database.DataDir, want: filepath.Join(wd, "caschost", "db")},
		{name: "absolute kept", got: cfg.GameDir, want: "/games/wow"},
		{name: "empty kept", got: cfg.Publish.FSRoot, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "caschost.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "caschost.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, NewConfig(dir)); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "caschost.toml")
		cfg := NewConfig(dir)
		cfg.Product = "wow_classic"

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Product != "wow_classic" {
			t.Errorf("Product = %q, want wow_classic", got.Product)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/caschost.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}

func TestState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")

	t.Run("missing file is zero state", func(t *testing.T) {
		st, err := ReadState(path)
		if err != nil {
			t.Fatalf("ReadState() error = %v", err)
		}
		if st != (State{}) {
			t.Errorf("ReadState() = %+v, want zero", st)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		want := State{Version: "8.0.1.27165", SourceFingerprint: "aa", OutputFingerprint: "bb"}
		if err := WriteState(path, want); err != nil {
			t.Fatalf("WriteState() error = %v", err)
		}
		got, err := ReadState(path)
		if err != nil {
			t.Fatalf("ReadState() error = %v", err)
		}
		if got != want {
			t.Errorf("ReadState() = %+v, want %+v", got, want)
		}
	})
}
