package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the caschost configuration file.
type Config struct {
	Product        string   `toml:"product"`
	BaseDir        string   `toml:"base_dir"`
	SourceDir      string   `toml:"source_dir"`       // watched tree of loose files
	OutputDir      string   `toml:"output_dir"`       // archive blobs
	SystemFilesDir string   `toml:"system_files_dir"` // holds the imported .build.info
	GameDir        string   `toml:"game_dir,omitempty"`
	LogDir         string   `toml:"log_dir"`
	StatePath      string   `toml:"state_path"`
	Locale         string   `toml:"locale"`
	ContentFlags   string   `toml:"content_flags"`
	MinFileDataID  uint32   `toml:"minimum_file_data_id"`
	StaticMode     bool     `toml:"static_mode"`
	Debounce       Duration `toml:"debounce"`
	Backoff        Duration `toml:"backoff"`
	PurgeTTL       Duration `toml:"purge_ttl"`
	Ignore         []string `toml:"ignore,omitempty"`

	Database DatabaseConfig `toml:"database"`
	Publish  PublishConfig  `toml:"publish"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// DatabaseConfig selects the cache store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// PublishConfig selects where newly written blobs are mirrored.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PublishConfig struct {
	Type string `toml:"type"` // "none" (default), "filesystem" or "s3"

	// filesystem
	FSRoot string `toml:"fs_root,omitempty"`

	// s3
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"` // S3-compatible services
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint of `caschost serve`.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr,omitempty"` // empty disables the endpoint
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a Config with every directory placed under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		Product:        "wow",
		BaseDir:        baseDir,
		SourceDir:      filepath.Join(baseDir, "Data"),
		OutputDir:      filepath.Join(baseDir, "Output"),
		SystemFilesDir: filepath.Join(baseDir, "SystemFiles"),
		LogDir:         filepath.Join(baseDir, "log"),
		StatePath:      filepath.Join(baseDir, "state.toml"),
		Locale:         "enUS",
		ContentFlags:   "LocaleAll",
		MinFileDataID:  1_000_000,
		Debounce:       Duration{30 * time.Second},
		Backoff:        Duration{30 * time.Second},
		Database:       DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Publish:        PublishConfig{Type: "none"},
	}
}

// BuildInfoPath returns the location of the imported .build.info.
func (c *Config) BuildInfoPath() string {
	return filepath.Join(c.SystemFilesDir, ".build.info")
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.SourceDir == "" {
		errs = append(errs, errors.New("source_dir is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.SourceDir != "" && c.SourceDir == c.OutputDir {
		errs = append(errs, errors.New("source_dir and output_dir must differ"))
	}
	if c.StatePath == "" {
		errs = append(errs, errors.New("state_path is required"))
	}
	if c.Debounce.Duration < 0 || c.Backoff.Duration < 0 || c.PurgeTTL.Duration < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}

// ResolvePaths makes every configured path absolute against the working
// directory. Watchers report absolute paths, so a relative source_dir would
// never match them.
func (c *Config) ResolvePaths() error {
	for _, p := range []*string{
		&c.BaseDir, &c.SourceDir, &c.OutputDir, &c.SystemFilesDir, &c.GameDir,
		&c.LogDir, &c.StatePath, &c.Database.DataDir, &c.Publish.FSRoot,
	} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeTOML(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// State is what caschost remembers between runs to detect offline edits.
type State struct {
	Version           string `toml:"version"`
	SourceFingerprint string `toml:"source_fingerprint"`
	OutputFingerprint string `toml:"output_fingerprint"`
}

// ReadState reads the state file at path. A missing file is the zero State.
func ReadState(path string) (State, error) {
	var st State
	_, err := toml.DecodeFile(path, &st)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading state from %s: %w", path, err)
	}
	return st, nil
}

// WriteState replaces the state file at path.
func WriteState(path string, st State) error {
	tmp := path + ".tmp"
	if err := writeTOML(tmp, st); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}
