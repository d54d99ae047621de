package db

import (
	"database/sql"
	"time"
)

// SyncConflict represents a row from the sync_conflicts table.
type SyncConflict struct {
	ID         int64
	EntityType string
	EntityID   string
	ServerSeq  int64
	LocalData  string
	RemoteData string
	MergedData string
	Resolution string
	ResolvedAt time.Time
}

// RecordSyncConflict stores a resolved divergence for later inspection.
func (db *DB) RecordSyncConflict(c *SyncConflict) error {
	if c.ResolvedAt.IsZero() {
		c.ResolvedAt = time.Now()
	}
	res, err := db.conn.Exec(`
		INSERT INTO sync_conflicts (entity_type, entity_id, server_seq, local_data, remote_data, merged_data, resolution, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.EntityType, c.EntityID, c.ServerSeq, c.LocalData, c.RemoteData, c.MergedData, c.Resolution, c.ResolvedAt)
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// GetRecentConflicts returns recent sync conflicts, ordered by most recent first.
// If since is non-nil, only conflicts after that time are returned.
func (db *DB) GetRecentConflicts(limit int, since *time.Time) ([]SyncConflict, error) {
	var rows *sql.Rows
	var err error

	if since != nil {
		rows, err = db.conn.Query(`
			SELECT id, entity_type, entity_id, server_seq, COALESCE(local_data,''), COALESCE(remote_data,''), COALESCE(merged_data,''), COALESCE(resolution,''), resolved_at
			FROM sync_conflicts
			WHERE resolved_at >= ?
			ORDER BY id DESC
			LIMIT ?
		`, *since, limit)
	} else {
		rows, err = db.conn.Query(`
			SELECT id, entity_type, entity_id, server_seq, COALESCE(local_data,''), COALESCE(remote_data,''), COALESCE(merged_data,''), COALESCE(resolution,''), resolved_at
			FROM sync_conflicts
			ORDER BY id DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []SyncConflict
	for rows.Next() {
		var c SyncConflict
		var resolvedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.ServerSeq,
			&c.LocalData, &c.RemoteData, &c.MergedData, &c.Resolution, &resolvedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			c.ResolvedAt = resolvedAt.Time
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// CountConflicts returns the total number of recorded conflicts.
func (db *DB) CountConflicts() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_conflicts`).Scan(&count)
	return count, err
}

// SyncState holds the replication cursor for a linked ledger.
type SyncState struct {
	LedgerID            string
	LastPushedActionID  int64
	LastPulledServerSeq int64
	LastSyncAt          *time.Time
	SyncDisabled        bool
}

// GetSyncState returns the current sync state, or nil if the store is not linked.
func (db *DB) GetSyncState() (*SyncState, error) {
	var s SyncState
	var lastSync sql.NullTime
	var disabled int

	err := db.conn.QueryRow(`
		SELECT ledger_id, last_pushed_action_id, last_pulled_server_seq, last_sync_at, sync_disabled
		FROM sync_state LIMIT 1
	`).Scan(&s.LedgerID, &s.LastPushedActionID, &s.LastPulledServerSeq, &lastSync, &disabled)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if lastSync.Valid {
		s.LastSyncAt = &lastSync.Time
	}
	s.SyncDisabled = disabled != 0
	return &s, nil
}

// SetSyncState creates or replaces the sync state for a ledger (used for link).
func (db *DB) SetSyncState(ledgerID string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO sync_state (ledger_id, last_pushed_action_id, last_pulled_server_seq, sync_disabled)
			VALUES (?, 0, 0, 0)
		`, ledgerID)
		return err
	})
}

// UpdateSyncPushed updates the last pushed action ID and sync time.
func (db *DB) UpdateSyncPushed(lastActionID int64) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			UPDATE sync_state SET last_pushed_action_id = ?, last_sync_at = CURRENT_TIMESTAMP
		`, lastActionID)
		return err
	})
}

// UpdateSyncPulled updates the last pulled server sequence and sync time.
func (db *DB) UpdateSyncPulled(lastServerSeq int64) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			UPDATE sync_state SET last_pulled_server_seq = ?, last_sync_at = CURRENT_TIMESTAMP
		`, lastServerSeq)
		return err
	})
}

// SetSyncDisabled flips the per-ledger pause flag without touching cursors.
func (db *DB) SetSyncDisabled(disabled bool) error {
	return db.withWriteLock(func() error {
		val := 0
		if disabled {
			val = 1
		}
		_, err := db.conn.Exec(`UPDATE sync_state SET sync_disabled = ?`, val)
		return err
	})
}

// ClearSyncState removes the sync state (used for unlink).
func (db *DB) ClearSyncState() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM sync_state`)
		return err
	})
}

// CountPendingActions returns the number of unsynced action_log entries.
// Undone actions are excluded: their inverse actions replicate instead.
func (db *DB) CountPendingActions() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM action_log WHERE synced_at IS NULL AND undone = 0`).Scan(&count)
	return count, err
}

// RecordCounts returns live (non-deleted) row counts per entity table.
func (db *DB) RecordCounts() (map[string]int64, error) {
	counts := make(map[string]int64, 3)
	for _, table := range []string{"expenses", "categories", "pools"} {
		var n int64
		// Table names come from the fixed list above.
		if err := db.conn.QueryRow(`SELECT COUNT(*) FROM ` + table + ` WHERE deleted_at IS NULL`).Scan(&n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

// ClearActionLogSyncState sets synced_at and server_seq to NULL on all action_log entries,
// allowing them to be re-pushed to a new server. Returns the number of rows affected.
func (db *DB) ClearActionLogSyncState() (int64, error) {
	var affected int64
	err := db.withWriteLock(func() error {
		result, err := db.conn.Exec(`UPDATE action_log SET synced_at = NULL, server_seq = NULL WHERE synced_at IS NOT NULL`)
		if err != nil {
			return err
		}
		affected, _ = result.RowsAffected()
		return nil
	})
	return affected, err
}

// CountSyncedEvents returns the number of action_log entries with synced_at set.
func (db *DB) CountSyncedEvents() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM action_log WHERE synced_at IS NOT NULL`).Scan(&count)
	return count, err
}
