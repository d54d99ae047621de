package db

import (
	"fmt"
	"os"
	"path/filepath"
)

// SQLite database file header, including the trailing NUL.
const sqliteHeader = "SQLite format 3\x00"

// BootstrapFromSnapshot replaces the on-disk store with a snapshot downloaded
// while linking to a ledger. Any existing store is kept next to the new one
// and its path returned, empty when there was nothing to back up. The store
// must be closed before calling this; reopen with Open afterwards and mint a
// fresh generation with ResetGeneration.
func BootstrapFromSnapshot(dataDir string, data []byte) (string, error) {
	if len(data) < len(sqliteHeader) || string(data[:len(sqliteHeader)]) != sqliteHeader {
		return "", fmt.Errorf("snapshot is not a SQLite database")
	}

	dbPath := filepath.Join(dataDir, dbFile)
	tmpPath := dbPath + ".snapshot"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	backupPath := dbPath + ".pre-link"
	hadStore := false
	if _, err := os.Stat(dbPath); err == nil {
		hadStore = true
		if err := os.Rename(dbPath, backupPath); err != nil {
			os.Remove(tmpPath)
			return "", fmt.Errorf("back up store: %w", err)
		}
	}

	// Stale WAL files would shadow the fresh snapshot.
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")

	if err := os.Rename(tmpPath, dbPath); err != nil {
		if hadStore {
			if rerr := os.Rename(backupPath, dbPath); rerr != nil {
				return "", fmt.Errorf("activate snapshot: %w (restoring backup also failed: %v)", err, rerr)
			}
		}
		return "", fmt.Errorf("activate snapshot: %w", err)
	}

	if !hadStore {
		return "", nil
	}
	return backupPath, nil
}

// ResetGeneration mints a fresh store generation. Called after a snapshot
// bootstrap: the snapshot carries its builder's generation, and reusing it
// would collide this device's action IDs with tuples already pushed.
func (db *DB) ResetGeneration() error {
	if _, err := db.conn.Exec(`DELETE FROM schema_info WHERE key = 'store_generation'`); err != nil {
		return fmt.Errorf("clear generation: %w", err)
	}
	db.generation = ""
	return db.ensureGeneration()
}
