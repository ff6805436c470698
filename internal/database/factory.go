package database

import (
	"fmt"
	"os"
	"path/filepath"

	"caschost-go/internal/config"
)

// FileName is the cache store file created under data_dir.
const FileName = "caschost.db"

// NewStoreFromConfig creates the cache store selected by cfg.Type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, FileName))
	case "memory":
		return NewSQLiteStore(memoryPath)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
