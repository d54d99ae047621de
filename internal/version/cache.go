package version

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// cacheTTL bounds how long a release check result is reused before we ask
// GitHub again.
const cacheTTL = 6 * time.Hour

// CacheEntry is the cached result of a release check.
type CacheEntry struct {
	LatestVersion  string    `json:"latest_version"`
	CurrentVersion string    `json:"current_version"`
	CheckedAt      time.Time `json:"checked_at"`
	HasUpdate      bool      `json:"has_update"`
}

// cachePath returns the location of the update-check cache file, or ""
// when no home directory can be resolved.
func cachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "xp", "update-check.json")
}

// IsCacheValid reports whether entry can stand in for a fresh check. The
// entry must have been recorded for the same running version and be
// younger than the TTL; upgrading or downgrading the binary invalidates it.
func IsCacheValid(entry *CacheEntry, currentVersion string) bool {
	if entry == nil {
		return false
	}
	if entry.CurrentVersion != currentVersion {
		return false
	}
	return time.Since(entry.CheckedAt) < cacheTTL
}

// LoadCache reads the cached check result from disk.
func LoadCache() (*CacheEntry, error) {
	path := cachePath()
	if path == "" {
		return nil, errors.New("no home directory")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SaveCache writes a check result to disk, creating the cache directory
// if needed.
func SaveCache(entry *CacheEntry) error {
	path := cachePath()
	if path == "" {
		return errors.New("no home directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
