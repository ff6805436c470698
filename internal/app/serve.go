package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"caschost-go/internal/buildinfo"
	"caschost-go/internal/fs"
	"caschost-go/internal/host"
)

const shutdownTimeout = 5 * time.Second

// Serve imports the build metadata, then watches the source tree and rebuilds
// the archive until ctx is done. With static set (or static_mode in the
// config) it performs one full pass and returns.
func (a *HostApp) Serve(ctx context.Context, static bool) error {
	if static || a.cfg.StaticMode {
		return a.Rebuild(ctx)
	}
	buildinfo.Import(a.cfg.GameDir, a.cfg.BuildInfoPath(), a.logger)

	if err := os.MkdirAll(a.cfg.SourceDir, 0o755); err != nil {
		return a.finish(fmt.Errorf("creating source directory: %w", err))
	}
	source, err := fs.NewWatcher(fs.WatcherOptions{
		Root:      a.cfg.SourceDir,
		Recursive: true,
		Ignore:    a.ignore,
		Logger:    a.logger,
	})
	if err != nil {
		return a.finish(err)
	}
	defer source.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch := a.newOrchestrator(false)
	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				a.logger.Error(name+" stopped", "error", err)
			}
		}()
	}

	run("source watcher", func() error { return source.Run(ctx) })
	run("aggregator", func() error { return a.agg.Run(ctx, source.Events()) })

	if a.cfg.GameDir != "" {
		game, err := fs.NewWatcher(fs.WatcherOptions{Root: a.cfg.GameDir, Logger: a.logger})
		if err != nil {
			a.logger.Warn("not watching game directory", "path", a.cfg.GameDir, "error", err)
		} else {
			defer game.Close()
			run("game directory watcher", func() error { return game.Run(ctx) })
			run("build info watcher", func() error {
				a.watchBuildInfo(ctx, game.Events(), orch)
				return nil
			})
		}
	}

	var srv *http.Server
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		srv = a.metricsServer(addr, orch)
		run("metrics server", func() error {
			a.logger.Info("metrics server started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	a.logger.Info("watching for changes", "source", a.cfg.SourceDir, "output", a.cfg.OutputDir)
	err = orch.Run(ctx)
	cancel()

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn("metrics server shutdown", "error", serr)
		}
		stop()
	}
	wg.Wait()
	return a.finish(err)
}

// watchBuildInfo imports .build.info whenever it appears or changes in the
// game directory and asks the orchestrator for a staleness check.
func (a *HostApp) watchBuildInfo(ctx context.Context, events <-chan host.RawEvent, orch *host.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Op == host.Deleted || filepath.Base(ev.Path) != buildinfo.FileName {
				continue
			}
			if buildinfo.Import(a.cfg.GameDir, a.cfg.BuildInfoPath(), a.logger) {
				orch.CheckBuildInfo()
			}
		}
	}
}

func (a *HostApp) metricsServer(addr string, orch *host.Orchestrator) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.router(orch),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// router serves Prometheus metrics and a plain-text health check reporting
// the orchestrator state.
func (a *HostApp) router(orch *host.Orchestrator) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", a.recorder.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if orch.State() == host.Exiting {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, orch.State())
	})
	return r
}
