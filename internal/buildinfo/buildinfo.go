// Package buildinfo reads the version tag from a .build.info file and imports
// fresh copies of it from the game directory.
package buildinfo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"caschost-go/internal/host"
)

// FileName is the build metadata file name.
const FileName = ".build.info"

// ErrNoActiveBuild is returned when no row is active for the product.
var ErrNoActiveBuild = errors.New("no active build")

// Parse reads a pipe-separated build table whose header cells look like
// "Name!TYPE:size" and returns the Version of the row with Active == 1. When
// product is set and the table has a Product column, the row must match it.
func Parse(r io.Reader, product string) (string, error) {
	sc := bufio.NewScanner(r)
	var columns map[string]int

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cells := strings.Split(line, "|")

		if columns == nil {
			columns = make(map[string]int, len(cells))
			for i, c := range cells {
				name, _, _ := strings.Cut(c, "!")
				columns[strings.TrimSpace(name)] = i
			}
			if _, ok := columns["Version"]; !ok {
				return "", fmt.Errorf("build table has no Version column")
			}
			continue
		}

		if cell(cells, columns, "Active") != "1" {
			continue
		}
		if _, ok := columns["Product"]; ok && product != "" && cell(cells, columns, "Product") != product {
			continue
		}
		return cell(cells, columns, "Version"), nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading build table: %w", err)
	}
	return "", ErrNoActiveBuild
}

func cell(cells []string, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

// Reader reads the version tag from a .build.info file.
type Reader struct {
	Path    string
	Product string
}

// Version returns the active version, or "" when the file does not exist.
func (r Reader) Version() (string, error) {
	f, err := os.Open(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", r.Path, err)
	}
	defer f.Close()

	v, err := Parse(f, r.Product)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", r.Path, err)
	}
	return v, nil
}

// Import moves gameDir/.build.info over target. It reports whether a file was
// imported; I/O failures are logged and the import is skipped.
func Import(gameDir, target string, logger host.Logger) bool {
	if logger == nil {
		logger = host.NewNopLogger()
	}
	if gameDir == "" {
		return false
	}
	src := filepath.Join(gameDir, FileName)
	if _, err := os.Stat(src); err != nil {
		logger.Info("build info not found in game directory, skipping", "path", src)
		return false
	}

	logger.Info("importing build info", "from", src, "to", target)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		logger.Error("failed to import build info", "error", err)
		return false
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to import build info", "error", err)
		return false
	}
	if err := move(src, target); err != nil {
		logger.Error("failed to import build info, copy it manually", "error", err)
		return false
	}
	return true
}

// move renames src to dst, falling back to copy and delete across devices.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}

var _ host.VersionReader = Reader{}
