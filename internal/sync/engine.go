package sync

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// InitServerEventLog creates the per-ledger events table and index if they
// don't exist. The UNIQUE constraint is what makes pushes idempotent: a
// replayed action hits it and is answered with the original sequence.
func InitServerEventLog(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			server_seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id         TEXT NOT NULL,
			session_id        TEXT NOT NULL,
			client_action_id  INTEGER NOT NULL,
			action_type       TEXT NOT NULL,
			entity_type       TEXT NOT NULL,
			entity_id         TEXT NOT NULL,
			payload           JSON NOT NULL,
			client_timestamp  DATETIME NOT NULL,
			server_timestamp  DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(device_id, session_id, client_action_id)
		);
		CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_type, entity_id);
	`)
	if err != nil {
		return fmt.Errorf("init event log: %w", err)
	}
	return nil
}

// rejectReason returns a non-empty reason when an event is missing a field
// the log cannot accept it without. Payloads are stored opaquely, so this is
// the only validation the server does.
func rejectReason(ev Event) string {
	switch {
	case ev.DeviceID == "":
		return "empty device_id"
	case ev.SessionID == "":
		return "empty session_id"
	case ev.EntityID == "":
		return "empty entity_id"
	}
	return ""
}

// InsertServerEvents appends events to the ledger's log within the given
// transaction. Invalid events and replays are rejected individually, never
// erroring the batch; replays carry the original server_seq in the
// rejection so the sender can still mark the action synced.
func InsertServerEvents(tx *sql.Tx, events []Event) (PushResult, error) {
	var result PushResult

	for _, ev := range events {
		if reason := rejectReason(ev); reason != "" {
			result.Rejected = append(result.Rejected, Rejection{
				ClientActionID: ev.ClientActionID,
				Reason:         reason,
			})
			continue
		}

		res, err := tx.Exec(
			`INSERT OR IGNORE INTO events (device_id, session_id, client_action_id, action_type, entity_type, entity_id, payload, client_timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.DeviceID, ev.SessionID, ev.ClientActionID,
			ev.ActionType, ev.EntityType, ev.EntityID,
			ev.Payload, ev.ClientTimestamp,
		)
		if err != nil {
			return result, fmt.Errorf("insert event %d: %w", ev.ClientActionID, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("rows affected: %w", err)
		}

		if rows == 0 {
			var existingSeq int64
			err := tx.QueryRow(
				`SELECT server_seq FROM events WHERE device_id=? AND session_id=? AND client_action_id=?`,
				ev.DeviceID, ev.SessionID, ev.ClientActionID,
			).Scan(&existingSeq)
			if err != nil {
				slog.Warn("duplicate lookup failed", "client_action_id", ev.ClientActionID, "err", err)
			}
			result.Rejected = append(result.Rejected, Rejection{
				ClientActionID: ev.ClientActionID,
				Reason:         "duplicate",
				ServerSeq:      existingSeq,
			})
			continue
		}

		seq, err := res.LastInsertId()
		if err != nil {
			return result, fmt.Errorf("last insert id: %w", err)
		}

		slog.Debug("event inserted", "seq", seq, "client_action_id", ev.ClientActionID)
		result.Accepted++
		result.Acks = append(result.Acks, Ack{
			ClientActionID: ev.ClientActionID,
			ServerSeq:      seq,
		})
	}

	return result, nil
}

// GetEventsSince retrieves events after the given sequence number in log
// order. A non-empty excludeDevice filters out that device's own events, so
// a puller never reads back what it pushed.
func GetEventsSince(tx *sql.Tx, afterSeq int64, limit int, excludeDevice string) (PullResult, error) {
	var result PullResult
	result.LastServerSeq = afterSeq

	var rows *sql.Rows
	var err error

	if excludeDevice != "" {
		rows, err = tx.Query(
			`SELECT server_seq, device_id, session_id, client_action_id, action_type, entity_type, entity_id, payload, client_timestamp
			 FROM events WHERE server_seq > ? AND device_id != ? ORDER BY server_seq ASC LIMIT ?`,
			afterSeq, excludeDevice, limit,
		)
	} else {
		rows, err = tx.Query(
			`SELECT server_seq, device_id, session_id, client_action_id, action_type, entity_type, entity_id, payload, client_timestamp
			 FROM events WHERE server_seq > ? ORDER BY server_seq ASC LIMIT ?`,
			afterSeq, limit,
		)
	}
	if err != nil {
		return result, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev Event
		var clientTS string
		err := rows.Scan(&ev.ServerSeq, &ev.DeviceID, &ev.SessionID, &ev.ClientActionID,
			&ev.ActionType, &ev.EntityType, &ev.EntityID, &ev.Payload, &clientTS)
		if err != nil {
			return result, fmt.Errorf("scan event: %w", err)
		}

		ev.ClientTimestamp, err = parseTimestamp(clientTS)
		if err != nil {
			return result, fmt.Errorf("parse timestamp seq=%d: %w", ev.ServerSeq, err)
		}

		result.Events = append(result.Events, ev)
		result.LastServerSeq = ev.ServerSeq
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("rows iteration: %w", err)
	}

	result.HasMore = len(result.Events) == limit
	return result, nil
}

// ServerLogStats summarises a ledger's event log for the status endpoint.
type ServerLogStats struct {
	EventCount    int64
	LastServerSeq int64
	LastEventTime time.Time
}

// GetServerLogStats reads event count, highest sequence and the time the
// last event was stored.
func GetServerLogStats(db *sql.DB) (ServerLogStats, error) {
	var stats ServerLogStats
	err := db.QueryRow(`SELECT COUNT(*), COALESCE(MAX(server_seq), 0) FROM events`).
		Scan(&stats.EventCount, &stats.LastServerSeq)
	if err != nil {
		return stats, fmt.Errorf("query log stats: %w", err)
	}
	if stats.EventCount == 0 {
		return stats, nil
	}

	var ts string
	err = db.QueryRow(`SELECT server_timestamp FROM events WHERE server_seq = ?`, stats.LastServerSeq).Scan(&ts)
	if err != nil {
		return stats, fmt.Errorf("query last event time: %w", err)
	}
	stats.LastEventTime, err = parseTimestamp(ts)
	if err != nil {
		return stats, fmt.Errorf("parse last event time: %w", err)
	}
	return stats, nil
}

// parseTimestamp tries the timestamp formats that end up in SQLite text
// columns: driver-serialized time.Time values and CURRENT_TIMESTAMP
// defaults.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
