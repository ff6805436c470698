package fs

import (
	"bufio"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"caschost-go/internal/host"
)

// IgnoreFileName is the per-tree ignore file read from the source root.
const IgnoreFileName = ".casignore"

// Patterns that apply to every tree. Editors leave these behind mid-save.
var builtinIgnores = []string{IgnoreFileName, "*.tmp", "*.swp", "*~", ".DS_Store", "Thumbs.db"}

type rule struct {
	glob     string
	anchored bool // contains '/', matched against the whole relative path
}

// Matcher decides which source paths never reach the archive.
//
// A pattern without '/' is matched against every path component, so "*.bak"
// skips backup files anywhere and ".git" skips everything below a .git
// directory. A pattern with '/' is matched against the slash-separated path
// relative to the root.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles raw patterns. Blank lines and '#' comments are skipped,
// as are patterns filepath.Match rejects.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, raw := range append(append([]string(nil), builtinIgnores...), patterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSuffix(raw, "/")
		if _, err := path.Match(raw, ""); err != nil {
			continue
		}
		m.rules = append(m.rules, rule{glob: raw, anchored: strings.Contains(raw, "/")})
	}
	return m
}

// LoadMatcher builds a Matcher from extra plus the ignore file under root, if any.
func LoadMatcher(root string, extra []string) (*Matcher, error) {
	fromFile, err := readIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewMatcher(append(append([]string(nil), extra...), fromFile...)), nil
}

// Match reports whether rel, relative to the root, is ignored.
func (m *Matcher) Match(rel string) bool {
	if m == nil || rel == "" || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")

	for _, r := range m.rules {
		if r.anchored {
			if ok, _ := path.Match(r.glob, rel); ok {
				return true
			}
			continue
		}
		for _, part := range parts {
			if ok, _ := path.Match(r.glob, part); ok {
				return true
			}
		}
	}
	return false
}

// Under returns an IgnoreFunc for absolute paths beneath root. Paths outside
// root are never ignored.
func (m *Matcher) Under(root string) host.IgnoreFunc {
	return func(p string) bool {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return false
		}
		return m.Match(rel)
	}
}

// Len returns the number of compiled patterns, built-ins included.
func (m *Matcher) Len() int {
	return len(m.rules)
}

func readIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return lines, nil
}
