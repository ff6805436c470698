package host

import "fmt"

// ChangeType classifies a filesystem change.
type ChangeType int

const (
	Created ChangeType = iota + 1
	Modified
	Deleted
	Renamed
)

func (c ChangeType) String() string {
	switch c {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(c))
	}
}

// RawEvent is a normalized notification delivered by a watcher.
// Paths are absolute. OldPath is only set for Renamed.
type RawEvent struct {
	Op      ChangeType
	Path    string
	OldPath string
}

// IgnoreFunc reports whether the file or directory at an absolute path is
// excluded from the archive. A nil IgnoreFunc excludes nothing.
type IgnoreFunc func(path string) bool

func (f IgnoreFunc) match(path string) bool {
	return f != nil && f(path)
}

// PendingChange is the coalesced operation waiting for the next rebuild pass.
type PendingChange struct {
	Type    ChangeType
	Path    string
	OldPath string
}
