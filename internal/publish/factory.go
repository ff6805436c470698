package publish

import (
	"context"
	"fmt"

	"caschost-go/internal/config"
	"caschost-go/internal/host"
)

// NewPublisherFromConfig creates the Publisher selected by cfg.Type.
func NewPublisherFromConfig(ctx context.Context, cfg config.PublishConfig, logger host.Logger) (host.Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return host.NopPublisher{}, nil
	case "memory":
		return NewMirror(NewMemoryTarget(), logger), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem publisher requires fs_root to be set")
		}
		t, err := NewFilesystemTarget(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return NewMirror(t, logger), nil
	case "s3":
		t, err := NewS3Target(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return NewMirror(t, logger), nil
	default:
		return nil, fmt.Errorf("unknown publish type: %s", cfg.Type)
	}
}
