package host

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounce is the quiescence window used when none is configured.
const DefaultDebounce = 30 * time.Second

// AggregatorOptions configures an Aggregator.
type AggregatorOptions struct {
	Window   time.Duration
	Ignore   IgnoreFunc // applied to events and to directory-rename expansion
	Logger   Logger
	Recorder Recorder
}

// Aggregator coalesces raw filesystem events into at most one pending change
// per path and signals Ready once no event has been accepted for Window.
type Aggregator struct {
	window   time.Duration
	ignore   IgnoreFunc
	logger   Logger
	recorder Recorder

	mu      sync.Mutex
	pending map[string]PendingChange

	armed atomic.Bool
	ready chan struct{}
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(opts AggregatorOptions) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}
	return &Aggregator{
		window:   opts.Window,
		ignore:   opts.Ignore,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		pending:  make(map[string]PendingChange),
		ready:    make(chan struct{}, 1),
	}
}

// Ingest records ev and reports whether it was accepted.
//
// A rename whose new path is a directory expands into one rename per file
// beneath it. Otherwise events for directories and for paths without an
// extension are discarded, as are ignored paths other than renames. For a
// path already pending, the latest event wins.
func (a *Aggregator) Ingest(ev RawEvent) bool {
	if ev.Op == Renamed && isDir(ev.Path) {
		return a.ingestDirectoryRename(ev)
	}
	if isDir(ev.Path) || filepath.Ext(ev.Path) == "" || (ev.Op != Renamed && a.ignore.match(ev.Path)) {
		a.logger.Debug("discarding event", "op", ev.Op.String(), "path", ev.Path)
		return false
	}

	change := PendingChange{Type: ev.Op, Path: ev.Path}
	if ev.Op == Renamed {
		change.OldPath = ev.OldPath
	}
	a.put(change)
	return true
}

func (a *Aggregator) ingestDirectoryRename(ev RawEvent) bool {
	var changes []PendingChange
	err := filepath.WalkDir(ev.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if a.ignore.match(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) == "" {
			return nil
		}
		rel := strings.TrimPrefix(path, ev.Path)
		changes = append(changes, PendingChange{
			Type:    Renamed,
			Path:    path,
			OldPath: ev.OldPath + rel,
		})
		return nil
	})
	if err != nil {
		a.logger.Warn("walking renamed directory", "path", ev.Path, "error", err)
	}
	if len(changes) == 0 {
		return false
	}

	a.logger.Debug("expanding directory rename", "path", ev.Path, "old_path", ev.OldPath, "files", len(changes))
	for _, c := range changes {
		a.put(c)
	}
	return true
}

func (a *Aggregator) put(c PendingChange) {
	a.mu.Lock()
	a.pending[c.Path] = c
	n := len(a.pending)
	a.mu.Unlock()
	a.recorder.PendingChanges(n)
}

// Run feeds events into the aggregator until ctx is cancelled. Every accepted
// event restarts the quiescence timer; when it fires a signal is delivered on
// Ready. It returns nil once ctx is done.
func (a *Aggregator) Run(ctx context.Context, events <-chan RawEvent) error {
	timer := time.NewTimer(a.window)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if a.Ingest(ev) {
				timer.Reset(a.window)
				a.armed.Store(true)
			}
		case <-timer.C:
			a.armed.Store(false)
			select {
			case a.ready <- struct{}{}:
			default:
			}
		}
	}
}

// Ready delivers a signal each time the quiescence window elapses.
func (a *Aggregator) Ready() <-chan struct{} {
	return a.ready
}

// Armed reports whether the quiescence timer is running.
func (a *Aggregator) Armed() bool {
	return a.armed.Load()
}

// Drain returns every pending change sorted by path and empties the aggregator.
func (a *Aggregator) Drain() []PendingChange {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]PendingChange)
	a.mu.Unlock()

	out := make([]PendingChange, 0, len(pending))
	for _, c := range pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	a.recorder.PendingChanges(0)
	return out
}

// Clear discards every pending change.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.pending = make(map[string]PendingChange)
	a.mu.Unlock()
	a.recorder.PendingChanges(0)
}

// Len returns the number of pending changes.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
