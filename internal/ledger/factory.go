package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"chron-go/internal/chron"
	"chron-go/internal/config"
)

// NewLedgerFromConfig creates a Ledger implementation based on the database
// config type.
func NewLedgerFromConfig(cfg config.DatabaseConfig, policy chron.LedgerPolicy) (chron.Ledger, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return Open(filepath.Join(cfg.DataDir, "ledger.db"), policy, nil)
	case "memory":
		return Open(":memory:", policy, nil)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
