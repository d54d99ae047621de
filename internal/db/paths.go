package db

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDataDir returns ~/.xp without creating it.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".xp"), nil
}

// ResolveDataDir picks the data directory for this invocation.
// Priority: explicit override (--dir flag) > XP_DIR env > ~/.xp.
func ResolveDataDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if v := os.Getenv("XP_DIR"); v != "" {
		return filepath.Clean(v), nil
	}
	return DefaultDataDir()
}

// StorePath returns the database file path inside a data directory.
func StorePath(dataDir string) string {
	return filepath.Join(dataDir, dbFile)
}
