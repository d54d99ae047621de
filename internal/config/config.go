package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"

	"github.com/elena/xp/internal/models"
)

const configFile = "config.json"
const lockFile = "config.json.lock"

// Load reads the local config from the data directory
func Load(dataDir string) (*models.Config, error) {
	configPath := filepath.Join(dataDir, configFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.Config{}, nil
		}
		return nil, err
	}

	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to disk using atomic write (temp file + rename)
func Save(dataDir string, cfg *models.Config) error {
	configPath := filepath.Join(dataDir, configFile)

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: temp file in same dir, then rename
	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, configPath)
}

// withConfigLock serializes access to config.json using flock
func withConfigLock(dataDir string, fn func() error) error {
	lockPath := filepath.Join(dataDir, lockFile)

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// SetDefaultCurrency sets the currency used when xp add omits one
func SetDefaultCurrency(dataDir string, currency string) error {
	return withConfigLock(dataDir, func() error {
		cfg, err := Load(dataDir)
		if err != nil {
			return err
		}
		cfg.DefaultCurrency = currency
		return Save(dataDir, cfg)
	})
}

// GetDefaultCurrency returns the configured default currency, or USD if unset
func GetDefaultCurrency(dataDir string) (models.Currency, error) {
	cfg, err := Load(dataDir)
	if err != nil {
		return models.CurrencyUSD, err
	}
	if cfg.DefaultCurrency == "" {
		return models.CurrencyUSD, nil
	}
	return models.Currency(cfg.DefaultCurrency), nil
}

// SetActivePool sets the pool new expenses are tagged with by default
func SetActivePool(dataDir string, poolID string) error {
	return withConfigLock(dataDir, func() error {
		cfg, err := Load(dataDir)
		if err != nil {
			return err
		}
		cfg.ActivePoolID = poolID
		return Save(dataDir, cfg)
	})
}

// GetActivePool returns the active pool ID
func GetActivePool(dataDir string) (string, error) {
	cfg, err := Load(dataDir)
	if err != nil {
		return "", err
	}
	return cfg.ActivePoolID, nil
}

// ClearActivePool clears the active pool
func ClearActivePool(dataDir string) error {
	return SetActivePool(dataDir, "")
}
