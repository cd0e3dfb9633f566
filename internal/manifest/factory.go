package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"chron-go/internal/chron"
	"chron-go/internal/config"
)

// NewStoreFromConfig creates a SnapshotStore implementation based on the
// manifest config type.
func NewStoreFromConfig(cfg config.ManifestConfig) (chron.SnapshotStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite manifest store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return Open(filepath.Join(cfg.DataDir, "snapshots.db"), nil)
	case "memory":
		return Open(":memory:", nil)
	default:
		return nil, fmt.Errorf("unknown manifest store type: %s", cfg.Type)
	}
}
