package host

import (
	"context"
	"time"
)

// Fingerprints holds the last known directory fingerprints.
type Fingerprints struct {
	Source string
	Output string
}

// RebuildState is what the process layer persists between runs.
type RebuildState struct {
	VersionTag   string
	Fingerprints Fingerprints
}

// StateStore loads and saves RebuildState. Persistence belongs to the
// configuration layer; the core only computes the values.
type StateStore interface {
	LoadState() (RebuildState, error)
	SaveState(RebuildState) error
}

// VersionReader returns the current build version tag.
type VersionReader interface {
	Version() (string, error)
}

// Publisher mirrors newly written archive blobs somewhere outside the output directory.
type Publisher interface {
	Publish(ctx context.Context, outputDir string, relPaths []string) error
}

// NopPublisher publishes nothing.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []string) error { return nil }

// Recorder receives operational measurements.
type Recorder interface {
	PassCompleted(full bool, changes int, d time.Duration, err error)
	PassDeferred()
	PendingChanges(n int)
	CacheEntries(n int)
	StoreBatch(statements int)
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

func (NopRecorder) PassCompleted(bool, int, time.Duration, error) {}
func (NopRecorder) PassDeferred()                                {}
func (NopRecorder) PendingChanges(int)                           {}
func (NopRecorder) CacheEntries(int)                             {}
func (NopRecorder) StoreBatch(int)                               {}
