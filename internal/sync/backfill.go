package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// BackfillOrphanRecords inserts a synthetic "create" action for every record
// that has no create entry in the action log, so data from before the ledger
// was linked flows through the normal push pipeline.
//
// Only runs before the first pull (last_pulled_server_seq == 0). After that,
// records may have arrived from the server and already exist in its log;
// backfilling those would push duplicates.
func BackfillOrphanRecords(tx *sql.Tx, sessionID string) (int, error) {
	var lastPulled int64
	err := tx.QueryRow(`SELECT COALESCE(MAX(last_pulled_server_seq), 0) FROM sync_state`).Scan(&lastPulled)
	if err != nil || lastPulled > 0 {
		return 0, nil
	}

	total := 0
	for _, table := range []string{"expenses", "categories", "pools"} {
		n, err := backfillTable(tx, sessionID, table)
		if err != nil {
			return total, fmt.Errorf("backfill %s: %w", table, err)
		}
		if n > 0 {
			slog.Info("backfilled orphan records", "table", table, "count", n)
		}
		total += n
	}
	return total, nil
}

// backfillTable logs synthetic creates for one table. Tombstoned rows are
// included: a deleted record still needs its tombstone replicated.
func backfillTable(tx *sql.Tx, sessionID, table string) (int, error) {
	singular := singularEntity(table)

	// table is one of the three known entity tables.
	query := fmt.Sprintf(`
		SELECT id FROM %s t WHERE NOT EXISTS (
			SELECT 1 FROM action_log al
			WHERE al.entity_id = t.id
			AND al.entity_type IN (?, ?)
			AND al.action_type = 'create'
		)`, table)

	rows, err := tx.Query(query, singular, table)
	if err != nil {
		return 0, fmt.Errorf("query orphans: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(ids) == 0 {
		return 0, nil
	}

	stmt, err := tx.Prepare(`INSERT INTO action_log
		(session_id, action_type, entity_type, entity_id, new_data, previous_data, timestamp, undone)
		VALUES (?, 'create', ?, ?, ?, '', ?, 0)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, id := range ids {
		data, found, err := readEntityJSON(tx, table, id)
		if err != nil {
			return count, fmt.Errorf("read %s/%s: %w", table, id, err)
		}
		if !found {
			continue
		}

		if _, err := stmt.Exec(sessionID, singular, id, string(data), recordTimestamp(data)); err != nil {
			return count, fmt.Errorf("insert backfill %s/%s: %w", table, id, err)
		}
		slog.Debug("backfilled record", "table", table, "id", id)
		count++
	}
	return count, nil
}

// recordTimestamp dates the synthetic action with the record's own creation
// time, falling back to now.
func recordTimestamp(data json.RawMessage) time.Time {
	var fields struct {
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &fields); err == nil && !fields.CreatedAt.IsZero() {
		return fields.CreatedAt
	}
	return time.Now()
}
