// Package fs turns operating system file notifications into host.RawEvents.
package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"caschost-go/internal/host"
)

// DefaultPairWindow is how long a rename waits for the matching create.
const DefaultPairWindow = 250 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Root       string
	Recursive  bool
	Ignore     *Matcher
	Logger     host.Logger
	PairWindow time.Duration
	Buffer     int
}

// Watcher watches a directory tree and emits normalized events on Events.
type Watcher struct {
	root      string
	recursive bool
	ignore    *Matcher
	logger    host.Logger
	window    time.Duration

	w      *fsnotify.Watcher
	events chan host.RawEvent
}

// NewWatcher registers watches on the root, and on every directory below it
// when Recursive is set.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Logger == nil {
		opts.Logger = host.NewNopLogger()
	}
	if opts.PairWindow <= 0 {
		opts.PairWindow = DefaultPairWindow
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{
		root:      root,
		recursive: opts.Recursive,
		ignore:    opts.Ignore,
		logger:    opts.Logger,
		window:    opts.PairWindow,
		w:         fw,
		events:    make(chan host.RawEvent, opts.Buffer),
	}

	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	if w.recursive {
		w.addTree(root, false)
	}
	return w, nil
}

// Events returns the channel of normalized events. It is closed when Run returns.
func (w *Watcher) Events() <-chan host.RawEvent {
	return w.events
}

// Root returns the absolute watched root.
func (w *Watcher) Root() string {
	return w.root
}

// Run translates notifications until ctx is done or the underlying watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	tr := &translator{window: w.window}
	flush := time.NewTimer(w.window)
	flush.Stop()
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			out := tr.feed(ev, time.Now())
			if tr.waiting() {
				flush.Reset(w.window)
			}
			if err := w.emit(ctx, out); err != nil {
				return nil
			}

		case <-flush.C:
			if err := w.emit(ctx, tr.flush(time.Now())); err != nil {
				return nil
			}
			if tr.waiting() {
				flush.Reset(w.window)
			}

		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch queue overflowed, events were lost", "root", w.root)
				continue
			}
			w.logger.Warn("watch error", "root", w.root, "error", err)
		}
	}
}

// Close releases all watch handles.
func (w *Watcher) Close() error {
	return w.w.Close()
}

func (w *Watcher) emit(ctx context.Context, evs []host.RawEvent) error {
	for _, ev := range evs {
		ev, ok := w.filter(ev)
		if !ok {
			continue
		}
		if w.recursive && (ev.Op == host.Created || ev.Op == host.Renamed) && isDir(ev.Path) {
			synth := w.addTree(ev.Path, ev.Op == host.Created)
			if err := w.send(ctx, ev); err != nil {
				return err
			}
			for _, s := range synth {
				if err := w.send(ctx, s); err != nil {
					return err
				}
			}
			continue
		}
		if err := w.send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) send(ctx context.Context, ev host.RawEvent) error {
	select {
	case w.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// filter drops ignored paths. A rename across the ignore boundary degrades
// to the operation the archive actually sees.
func (w *Watcher) filter(ev host.RawEvent) (host.RawEvent, bool) {
	newIgnored := w.ignored(ev.Path)
	if ev.Op != host.Renamed {
		return ev, !newIgnored
	}
	oldIgnored := w.ignored(ev.OldPath)
	switch {
	case newIgnored && oldIgnored:
		return ev, false
	case newIgnored:
		return host.RawEvent{Op: host.Deleted, Path: ev.OldPath}, true
	case oldIgnored:
		return host.RawEvent{Op: host.Created, Path: ev.Path}, true
	}
	return ev, true
}

func (w *Watcher) ignored(path string) bool {
	return w.ignore.Under(w.root)(path)
}

// addTree watches dir and every directory below it. When synthesize is set it
// returns a Created event for every file found, since files copied in with
// the directory produce no notifications of their own.
func (w *Watcher) addTree(dir string, synthesize bool) []host.RawEvent {
	var out []host.RawEvent
	err := filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			// Vanished while walking; its removal arrives as its own event.
			w.logger.Debug("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return iofs.SkipDir
			}
			return nil
		}
		if path != w.root && w.ignored(path) {
			if d.IsDir() {
				return iofs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.w.Add(path); err != nil {
				w.logger.Warn("watching directory", "path", path, "error", err)
			}
			return nil
		}
		if synthesize {
			out = append(out, host.RawEvent{Op: host.Created, Path: path})
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("walking directory", "path", dir, "error", err)
	}
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// translator maps fsnotify operations to RawEvents and pairs a Rename with
// the Create that follows it within window.
type translator struct {
	window   time.Duration
	renamed  string
	renameAt time.Time
}

func (t *translator) waiting() bool {
	return t.renamed != ""
}

func (t *translator) feed(ev fsnotify.Event, now time.Time) []host.RawEvent {
	if ev.Op == fsnotify.Chmod {
		return nil
	}
	var out []host.RawEvent

	if t.waiting() {
		if ev.Has(fsnotify.Create) && now.Sub(t.renameAt) <= t.window {
			out = append(out, host.RawEvent{Op: host.Renamed, Path: ev.Name, OldPath: t.renamed})
			t.renamed = ""
			return out
		}
		out = append(out, host.RawEvent{Op: host.Deleted, Path: t.renamed})
		t.renamed = ""
	}

	switch {
	case ev.Has(fsnotify.Remove):
		out = append(out, host.RawEvent{Op: host.Deleted, Path: ev.Name})
	case ev.Has(fsnotify.Rename):
		t.renamed = ev.Name
		t.renameAt = now
	case ev.Has(fsnotify.Create):
		out = append(out, host.RawEvent{Op: host.Created, Path: ev.Name})
	case ev.Has(fsnotify.Write):
		out = append(out, host.RawEvent{Op: host.Modified, Path: ev.Name})
	}
	return out
}

// flush turns a rename that found no partner into a delete.
func (t *translator) flush(now time.Time) []host.RawEvent {
	if !t.waiting() || now.Sub(t.renameAt) < t.window {
		return nil
	}
	out := []host.RawEvent{{Op: host.Deleted, Path: t.renamed}}
	t.renamed = ""
	return out
}
