package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"caschost-go/internal/archive"
	"caschost-go/internal/buildinfo"
	"caschost-go/internal/config"
	"caschost-go/internal/database"
	"caschost-go/internal/fs"
	"caschost-go/internal/host"
	"caschost-go/internal/metrics"
	"caschost-go/internal/publish"
)

// HostApp is the application layer between the CLI and the host core.
// It constructs all dependencies from config, exposes the commands, and
// closes the store and log file on Close.
type HostApp struct {
	cfg       *config.Config
	op        *Operation
	store     *database.SQLiteStore
	cache     *host.ContentCache
	agg       *host.Aggregator
	builder   *archive.Builder
	ignore    *fs.Matcher
	publisher host.Publisher
	recorder  *metrics.Recorder
	version   buildinfo.Reader
	state     stateFile
	logger    host.Logger
	logFile   *os.File
	clock     host.Clock
}

// NewHostApp creates a fully wired HostApp from the given config.
// command identifies the CLI command being run (e.g. "serve", "rebuild").
// The caller must call Close when done.
func NewHostApp(ctx context.Context, cfg *config.Config, command string, verbose bool) (*HostApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ignore, err := fs.LoadMatcher(cfg.SourceDir, cfg.Ignore)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}

	clock := host.RealClock{}
	op := NewOperation(command, clock.Now())

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	sl, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl.With("command", command)}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating cache store: %w", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("cache store schema out of date: %w", err)
	}

	pub, err := publish.NewPublisherFromConfig(ctx, cfg.Publish, logger)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating publisher: %w", err)
	}

	recorder := metrics.NewRecorder()
	cache := host.NewContentCache(store, host.CacheOptions{
		SourceDir: cfg.SourceDir,
		OutputDir: cfg.OutputDir,
		PurgeTTL:  cfg.PurgeTTL.Duration,
		Clock:     clock,
		Logger:    logger,
		Recorder:  recorder,
	})
	agg := host.NewAggregator(host.AggregatorOptions{
		Window:   cfg.Debounce.Duration,
		Ignore:   ignore.Under(cfg.SourceDir),
		Logger:   logger,
		Recorder: recorder,
	})
	builder := archive.NewBuilder(archive.Config{
		OutputDir:         cfg.OutputDir,
		MinimumFileDataID: cfg.MinFileDataID,
		Locale:            cfg.Locale,
		ContentFlags:      cfg.ContentFlags,
	}, logger)

	return &HostApp{
		cfg:       cfg,
		op:        op,
		store:     store,
		cache:     cache,
		agg:       agg,
		builder:   builder,
		ignore:    ignore,
		publisher: pub,
		recorder:  recorder,
		version:   buildinfo.Reader{Path: cfg.BuildInfoPath(), Product: cfg.Product},
		state:     stateFile{path: cfg.StatePath},
		logger:    logger,
		logFile:   logFile,
		clock:     clock,
	}, nil
}

func (a *HostApp) newOrchestrator(static bool) *host.Orchestrator {
	return host.NewOrchestrator(host.OrchestratorDeps{
		Cache:      a.cache,
		Aggregator: a.agg,
		Builder:    a.builder,
		State:      a.state,
		Version:    a.version,
		Publisher:  a.publisher,
		Recorder:   a.recorder,
		Logger:     a.logger,
		Clock:      a.clock,
		IDs:        host.UUIDGenerator{},
	}, host.OrchestratorOptions{
		SourceDir:  a.cfg.SourceDir,
		OutputDir:  a.cfg.OutputDir,
		StaticMode: static,
		Backoff:    a.cfg.Backoff.Duration,
		Ignore:     a.ignore.Under(a.cfg.SourceDir),
	})
}

// Rebuild imports the build metadata and runs one full pass.
func (a *HostApp) Rebuild(ctx context.Context) error {
	buildinfo.Import(a.cfg.GameDir, a.cfg.BuildInfoPath(), a.logger)
	return a.finish(a.newOrchestrator(true).Run(ctx))
}

// Entries returns every stored row, active and soft-deleted, sorted by path.
func (a *HostApp) Entries(ctx context.Context) ([]host.StoredEntry, error) {
	rows, err := a.store.LoadEntries(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	return rows, nil
}

// CacheStats summarizes the stored cache without modifying it.
type CacheStats struct {
	StorePath       string
	Active          int
	SoftDeleted     int
	MaxFileDataID   uint32
	PurgeCandidates []string // active rows without a source file, and expired soft-deleted rows
	State           host.RebuildState
}

// Stats reads the store and the state file.
func (a *HostApp) Stats(ctx context.Context) (*CacheStats, error) {
	rows, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	st, err := a.state.LoadState()
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	stats := &CacheStats{StorePath: a.store.Path(), State: st}
	for _, row := range rows {
		if !row.Active() {
			stats.SoftDeleted++
			if !row.PurgeAt.After(now) {
				stats.PurgeCandidates = append(stats.PurgeCandidates, row.Path)
			}
			continue
		}
		stats.Active++
		stats.MaxFileDataID = max(stats.MaxFileDataID, row.FileDataID)
		if row.FileDataID != 0 && !a.sourceExists(row.Path) {
			stats.PurgeCandidates = append(stats.PurgeCandidates, row.Path)
		}
	}
	return stats, nil
}

// HasFileDataID reports whether an active stored row carries id.
func (a *HostApp) HasFileDataID(ctx context.Context, id uint32) (bool, error) {
	rows, err := a.Entries(ctx)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.Active() && row.FileDataID == id {
			return true, nil
		}
	}
	return false, nil
}

func (a *HostApp) sourceExists(rel string) bool {
	info, err := os.Stat(filepath.Join(a.cfg.SourceDir, filepath.FromSlash(rel)))
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	return err == nil && !info.IsDir()
}

func (a *HostApp) finish(err error) error {
	a.op.Finish(err)
	return err
}

// Close logs the outcome of the operation and releases the store and log file.
func (a *HostApp) Close() error {
	if a.op.Finished() {
		a.logger.Info("operation finished", "status", a.op.Status, "elapsed", time.Since(a.op.Started).Round(time.Millisecond))
	}

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing cache store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
