package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blockmed/blockmed/config"
	"github.com/blockmed/blockmed/internal/storage"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// openStorage opens the ledger database selected by devnet.storage.
func openStorage(cfg *config.Config) (storage.DB, error) {
	switch cfg.Devnet.Storage {
	case config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageBadger, "":
		dir := expandHome(cfg.DevnetDir())
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating devnet dir: %w", err)
		}
		db, err := storage.NewBadger(dir)
		if err != nil {
			return nil, fmt.Errorf("open database at %s: %w", dir, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Devnet.Storage)
	}
}
