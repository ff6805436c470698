// Package publish mirrors newly written archive blobs to a second location
// after every rebuild pass.
package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"caschost-go/internal/host"
)

// Target stores objects under slash-separated keys. Putting a key that already
// exists must be safe.
type Target interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Name() string
}

// Mirror publishes blobs by copying them into a Target.
type Mirror struct {
	target Target
	logger host.Logger
}

// NewMirror creates a Mirror over target.
func NewMirror(target Target, logger host.Logger) *Mirror {
	if logger == nil {
		logger = host.NewNopLogger()
	}
	return &Mirror{target: target, logger: logger}
}

// Publish uploads every listed output-relative path. The first failure stops
// the run; nothing is rolled back since the next pass republishes.
func (m *Mirror) Publish(ctx context.Context, outputDir string, relPaths []string) error {
	if len(relPaths) == 0 {
		return nil
	}
	m.logger.Info("publishing blobs", "target", m.target.Name(), "count", len(relPaths))
	for _, rel := range relPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.publishOne(ctx, outputDir, rel); err != nil {
			return fmt.Errorf("publishing %s to %s: %w", rel, m.target.Name(), err)
		}
	}
	return nil
}

func (m *Mirror) publishOne(ctx context.Context, outputDir, rel string) error {
	f, err := os.Open(filepath.Join(outputDir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return m.target.Put(ctx, rel, f, info.Size())
}

var _ host.Publisher = (*Mirror)(nil)
