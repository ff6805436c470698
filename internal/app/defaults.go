package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the locations used when no config file says otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	GameDir    string // empty unless CASCHOST_GAME_DIR is set
}

// GetDefaults resolves the default locations. Each one can be overridden by
// an environment variable, then falls back to the XDG base directories:
//   - CASCHOST_CONFIG_PATH, else $XDG_CONFIG_HOME/caschost.toml (~/.config)
//   - CASCHOST_HOME, else $XDG_DATA_HOME/caschost (~/.local/share)
//   - CASCHOST_GAME_DIR, no fallback
//
// Every returned path is absolute.
func GetDefaults() (Defaults, error) {
	configPath, err := lookupPath("CASCHOST_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "caschost.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := lookupPath("CASCHOST_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "caschost")
	if err != nil {
		return Defaults{}, err
	}

	d := Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}
	if dir := os.Getenv("CASCHOST_GAME_DIR"); dir != "" {
		if d.GameDir, err = filepath.Abs(dir); err != nil {
			return Defaults{}, fmt.Errorf("resolving CASCHOST_GAME_DIR: %w", err)
		}
	}
	return d, nil
}

// lookupPath returns $override, else $xdgVar/name, else ~/homeRel/name.
func lookupPath(override, xdgVar, homeRel, name string) (string, error) {
	p := os.Getenv(override)
	if p == "" {
		if xdg := os.Getenv(xdgVar); xdg != "" {
			p = filepath.Join(xdg, name)
		}
	}
	if p == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		p = filepath.Join(homeDir, homeRel, name)
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}
	return abs, nil
}
