package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncCursor tracks a device's last observed server sequence in a ledger.
// Cursors are advisory: they feed the status endpoint and let operators see
// which devices are lagging. The authoritative cursor lives on the device.
type SyncCursor struct {
	LedgerID      string
	DeviceID      string
	LastServerSeq int64
	LastSyncAt    *time.Time
}

// UpsertSyncCursor creates or updates a sync cursor for a ledger/device pair.
func (db *ServerDB) UpsertSyncCursor(ledgerID, deviceID string, lastServerSeq int64) error {
	now := time.Now().UTC()
	_, err := db.conn.Exec(`
		INSERT INTO sync_cursors (ledger_id, device_id, last_server_seq, last_sync_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ledger_id, device_id)
		DO UPDATE SET last_server_seq = excluded.last_server_seq, last_sync_at = excluded.last_sync_at
	`, ledgerID, deviceID, lastServerSeq, now)
	if err != nil {
		return fmt.Errorf("upsert sync cursor: %w", err)
	}
	return nil
}

// GetSyncCursor returns the sync cursor for a ledger/device pair, or nil if not found.
func (db *ServerDB) GetSyncCursor(ledgerID, deviceID string) (*SyncCursor, error) {
	c := &SyncCursor{}
	err := db.conn.QueryRow(
		`SELECT ledger_id, device_id, last_server_seq, last_sync_at FROM sync_cursors WHERE ledger_id = ? AND device_id = ?`,
		ledgerID, deviceID,
	).Scan(&c.LedgerID, &c.DeviceID, &c.LastServerSeq, &c.LastSyncAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}
	return c, nil
}

// ListSyncCursors returns all sync cursors for a ledger, ordered by device.
func (db *ServerDB) ListSyncCursors(ledgerID string) ([]*SyncCursor, error) {
	rows, err := db.conn.Query(
		`SELECT ledger_id, device_id, last_server_seq, last_sync_at FROM sync_cursors WHERE ledger_id = ? ORDER BY device_id`,
		ledgerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync cursors: %w", err)
	}
	defer rows.Close()

	var cursors []*SyncCursor
	for rows.Next() {
		c := &SyncCursor{}
		if err := rows.Scan(&c.LedgerID, &c.DeviceID, &c.LastServerSeq, &c.LastSyncAt); err != nil {
			return nil, fmt.Errorf("scan sync cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync cursors: iterate: %w", err)
	}
	return cursors, nil
}
