package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBackoff is the delay before retrying a trigger that arrived mid-pass.
const DefaultBackoff = 30 * time.Second

// State is the orchestrator's position in its lifecycle.
type State int32

const (
	Idle State = iota
	Awaiting
	Rebuilding
	Exiting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Awaiting:
		return "awaiting"
	case Rebuilding:
		return "rebuilding"
	case Exiting:
		return "exiting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// RebuildSession describes one rebuild pass.
type RebuildSession struct {
	ID         string
	Started    time.Time
	Full       bool
	InProgress bool
	Paths      []string // drained change paths, sorted
}

// OrchestratorDeps are the collaborators a rebuild pass drives.
type OrchestratorDeps struct {
	Cache      *ContentCache
	Aggregator *Aggregator
	Builder    ArchiveBuilder
	State      StateStore
	Version    VersionReader
	Publisher  Publisher
	Recorder   Recorder
	Logger     Logger
	Clock      Clock
	IDs        IDGenerator
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	SourceDir  string // resolved to an absolute path
	OutputDir  string // resolved to an absolute path
	StaticMode bool          // run one full pass and stop
	Backoff    time.Duration // retry delay for triggers that arrive mid-pass
	Ignore     IgnoreFunc    // files left out of a full pass
}

// Orchestrator decides between full and incremental passes and guarantees
// that at most one pass runs at a time.
type Orchestrator struct {
	cache     *ContentCache
	agg       *Aggregator
	builder   ArchiveBuilder
	state     StateStore
	version   VersionReader
	publisher Publisher
	recorder  Recorder
	logger    Logger
	clock     Clock
	ids       IDGenerator
	opts      OrchestratorOptions

	current    atomic.Int32
	retryArmed atomic.Bool
	force      chan struct{}
	buildInfo  chan struct{}

	mu   sync.Mutex
	last *RebuildSession
}

// NewOrchestrator creates an Orchestrator. Cache, Aggregator, Builder, State
// and Version are required.
func NewOrchestrator(deps OrchestratorDeps, opts OrchestratorOptions) *Orchestrator {
	if deps.Publisher == nil {
		deps.Publisher = NopPublisher{}
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	opts.SourceDir = absPath(opts.SourceDir)
	opts.OutputDir = absPath(opts.OutputDir)
	return &Orchestrator{
		cache:     deps.Cache,
		agg:       deps.Aggregator,
		builder:   deps.Builder,
		state:     deps.State,
		version:   deps.Version,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		clock:     deps.Clock,
		ids:       deps.IDs,
		opts:      opts,
		force:     make(chan struct{}, 1),
		buildInfo: make(chan struct{}, 1),
	}
}

// Run loads the cache and then either performs a single full pass (static
// mode) or checks staleness and serves triggers until ctx is done. A pass is
// never interrupted: on cancellation Run waits for the running pass. The first
// pass error is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.cache.Load(ctx); err != nil {
		return err
	}

	if o.opts.StaticMode {
		o.setState(Rebuilding)
		if err := o.pass(context.WithoutCancel(ctx), true); err != nil {
			o.setState(Idle)
			return err
		}
		o.setState(Exiting)
		o.logger.Info("static rebuild complete")
		return nil
	}

	stale, err := o.stale()
	if err != nil {
		return err
	}
	return o.loop(ctx, stale)
}

func (o *Orchestrator) loop(ctx context.Context, startFull bool) error {
	passCtx := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	retry := time.NewTimer(o.opts.Backoff)
	retry.Stop()
	defer retry.Stop()

	rebuilding := false
	pendingFull := false

	start := func(full bool) {
		rebuilding = true
		o.setState(Rebuilding)
		go func() { done <- o.pass(passCtx, full) }()
	}
	postpone := func(full bool) {
		pendingFull = pendingFull || full
		retry.Reset(o.opts.Backoff)
		o.retryArmed.Store(true)
		o.recorder.PassDeferred()
		o.logger.Info("rebuild in progress, retrying after backoff", "backoff", o.opts.Backoff, "full", pendingFull)
	}

	if startFull {
		start(true)
	}

	for {
		select {
		case <-ctx.Done():
			if rebuilding {
				o.logger.Info("waiting for rebuild pass before exiting")
				if err := <-done; err != nil {
					return err
				}
			}
			o.setState(Exiting)
			return nil

		case <-o.agg.Ready():
			if rebuilding {
				postpone(false)
				continue
			}
			if o.agg.Len() == 0 && len(o.cache.ToPurge()) == 0 {
				o.logger.Debug("no pending changes")
				continue
			}
			start(false)

		case <-retry.C:
			o.retryArmed.Store(false)
			if rebuilding {
				postpone(false)
				continue
			}
			full := pendingFull
			pendingFull = false
			start(full)

		case <-o.force:
			if rebuilding {
				postpone(true)
				continue
			}
			start(true)

		case <-o.buildInfo:
			if rebuilding {
				o.logger.Debug("build info changed during rebuild, ignoring")
				continue
			}
			stale, err := o.stale()
			if err != nil {
				o.logger.Warn("build info check failed, still watching", "error", err)
				continue
			}
			if stale {
				start(true)
			}

		case err := <-done:
			rebuilding = false
			o.setState(Idle)
			if err != nil {
				return err
			}
		}
	}
}

// ForceRebuild requests a full pass. A request made while a pass is running is
// retried after the backoff.
func (o *Orchestrator) ForceRebuild() {
	select {
	case o.force <- struct{}{}:
	default:
	}
}

// CheckBuildInfo requests a staleness check, typically after the build
// metadata file changed. It is ignored while a pass is running.
func (o *Orchestrator) CheckBuildInfo() {
	select {
	case o.buildInfo <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	s := State(o.current.Load())
	if s == Idle && (o.agg.Armed() || o.retryArmed.Load()) {
		return Awaiting
	}
	return s
}

// LastSession returns a copy of the most recent pass that did work, or nil.
func (o *Orchestrator) LastSession() *RebuildSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	s := *o.last
	s.Paths = append([]string(nil), o.last.Paths...)
	return &s
}

func (o *Orchestrator) setState(s State) {
	o.current.Store(int32(s))
}

// stale compares the persisted state with the current version and fingerprints.
// A matching version with an empty source tree is never stale.
func (o *Orchestrator) stale() (bool, error) {
	last, err := o.state.LoadState()
	if err != nil {
		return false, fmt.Errorf("loading rebuild state: %w", err)
	}
	version, err := o.version.Version()
	if err != nil {
		return false, fmt.Errorf("reading version: %w", err)
	}
	current, err := o.fingerprints()
	if err != nil {
		return false, err
	}

	if version == last.VersionTag && current.Source == EmptyFingerprint {
		o.logger.Info("source directory empty, nothing to rebuild")
		return false, nil
	}
	stale := IsStale(last.VersionTag, version, last.Fingerprints, current)
	o.logger.Info("staleness check", "stale", stale, "version", version, "last_version", last.VersionTag)
	return stale, nil
}

func (o *Orchestrator) fingerprints() (Fingerprints, error) {
	source, err := Fingerprint(o.opts.SourceDir)
	if err != nil {
		return Fingerprints{}, err
	}
	output, err := Fingerprint(o.opts.OutputDir)
	if err != nil {
		return Fingerprints{}, err
	}
	return Fingerprints{Source: source, Output: output}, nil
}

func (o *Orchestrator) pass(ctx context.Context, full bool) (err error) {
	started := o.clock.Now()
	id := o.ids.New()

	var changes []PendingChange
	if full {
		if err := o.resetOutput(ctx); err != nil {
			return err
		}
		if changes, err = o.snapshotSource(); err != nil {
			return fatal("listing source files", err)
		}
	} else {
		changes = o.agg.Drain()
	}

	purge := o.cache.ToPurge()
	if !full && len(changes) == 0 && len(purge) == 0 {
		o.logger.Debug("no pending changes", "session", id)
		return nil
	}

	session := &RebuildSession{ID: id, Started: started, Full: full, InProgress: true}
	for _, c := range changes {
		session.Paths = append(session.Paths, c.Path)
	}
	o.mu.Lock()
	o.last = session
	o.mu.Unlock()

	o.logger.Info("rebuild started", "session", id, "full", full, "changes", len(changes), "purge", len(purge))
	defer func() {
		elapsed := o.clock.Now().Sub(started)
		o.mu.Lock()
		session.InProgress = false
		o.mu.Unlock()
		o.recorder.PassCompleted(full, len(changes), elapsed, err)
		if err != nil {
			o.logger.Error("rebuild failed", "session", id, "error", err)
			return
		}
		o.logger.Info("rebuild finished", "session", id, "elapsed", elapsed)
	}()

	o.cache.Clean()
	archive, err := o.builder.Open(ctx, o.cache.Entries())
	if err != nil {
		return fatal("opening archive", err)
	}

	for _, path := range purge {
		if err := archive.RemoveFile(path); err != nil {
			return fatal("removing purged file", err)
		}
	}
	for _, c := range changes {
		if err := o.apply(ctx, archive, c); err != nil {
			return err
		}
	}

	meta, err := archive.Save()
	if err != nil {
		return fatal("saving archive", err)
	}
	for _, e := range meta {
		if err := o.cache.AddOrUpdate(ctx, e); err != nil {
			return err
		}
	}
	o.cache.ClearPurged()

	if err := o.publisher.Publish(ctx, o.opts.OutputDir, archive.Written()); err != nil {
		return fatal("publishing archive", err)
	}
	if err := o.cache.Save(ctx); err != nil {
		return err
	}
	return o.saveState()
}

func (o *Orchestrator) apply(ctx context.Context, archive Archive, c PendingChange) error {
	path, ok := o.archivePath(c.Path)
	if !ok {
		o.logger.Warn("change outside source directory", "path", c.Path)
		return nil
	}

	switch c.Type {
	case Renamed:
		oldPath, ok := o.archivePath(c.OldPath)
		if !ok {
			return o.add(ctx, archive, c.Path, path)
		}
		if _, found := archive.GetEntry(oldPath); !found {
			return o.add(ctx, archive, c.Path, path)
		}
		entry, err := archive.RenameFile(oldPath, path)
		if err != nil {
			return fatal("renaming "+oldPath, err)
		}
		o.cache.Remove(oldPath)
		return o.cache.AddOrUpdate(ctx, entry)
	case Deleted:
		return o.remove(archive, path)
	default:
		return o.add(ctx, archive, c.Path, path)
	}
}

func (o *Orchestrator) add(ctx context.Context, archive Archive, source, path string) error {
	entry, err := archive.AddFile(source, path)
	if errors.Is(err, fs.ErrNotExist) {
		o.logger.Info("source file vanished, removing", "path", path)
		return o.remove(archive, path)
	}
	if err != nil {
		return fatal("adding "+path, err)
	}
	return o.cache.AddOrUpdate(ctx, entry)
}

func (o *Orchestrator) remove(archive Archive, path string) error {
	if err := archive.RemoveFile(path); err != nil {
		return fatal("removing "+path, err)
	}
	o.cache.Remove(path)
	return nil
}

// archivePath maps an absolute source path to its slash-separated archive path.
func (o *Orchestrator) archivePath(abs string) (string, bool) {
	rel, err := filepath.Rel(o.opts.SourceDir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// absPath returns p as an absolute path, or p unchanged when the working
// directory cannot be determined.
func absPath(p string) string {
	if p == "" {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func (o *Orchestrator) resetOutput(ctx context.Context) error {
	if err := o.cache.Wipe(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(o.opts.OutputDir); err != nil {
		return fatal("removing output directory", err)
	}
	if err := os.MkdirAll(o.opts.OutputDir, 0o755); err != nil {
		return fatal("creating output directory", err)
	}
	o.agg.Clear()
	return nil
}

// snapshotSource lists every file under the source directory as a Modified change.
func (o *Orchestrator) snapshotSource() ([]PendingChange, error) {
	var paths []string
	err := filepath.WalkDir(o.opts.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == o.opts.SourceDir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if path != o.opts.SourceDir && o.opts.Ignore.match(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	changes := make([]PendingChange, len(paths))
	for i, p := range paths {
		changes[i] = PendingChange{Type: Modified, Path: p}
	}
	return changes, nil
}

func (o *Orchestrator) saveState() error {
	version, err := o.version.Version()
	if err != nil {
		return fatal("reading version", err)
	}
	fps, err := o.fingerprints()
	if err != nil {
		return fatal("computing fingerprints", err)
	}
	if err := o.state.SaveState(RebuildState{VersionTag: version, Fingerprints: fps}); err != nil {
		return fatal("saving rebuild state", err)
	}
	return nil
}
