package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elena/xp/internal/models"
)

// mapActionType collapses local action types to the wire vocabulary. The
// specific shapes (set_budget, recategorize, add_member, remove_member) all
// carry a full row snapshot, so the receiving side treats them as updates.
func mapActionType(action string) string {
	switch action {
	case string(models.ActionCreate):
		return "create"
	case string(models.ActionDelete):
		return "delete"
	case string(models.ActionRestore):
		return "restore"
	default:
		return "update"
	}
}

// GetPendingEvents reads unsynced, non-undone action_log rows and returns
// them as Events in rowid order, with the rowid as ClientActionID. Before
// querying, it backfills synthetic "create" entries for any records that
// predate the action log (data from before the ledger was linked).
func GetPendingEvents(tx *sql.Tx, deviceID, sessionID string) ([]Event, error) {
	if n, err := BackfillOrphanRecords(tx, sessionID); err != nil {
		slog.Warn("backfill orphan records", "err", err)
	} else if n > 0 {
		slog.Info("backfilled orphan records", "count", n)
	}

	rows, err := tx.Query(`
		SELECT id, action_type, entity_type, entity_id, new_data, previous_data, timestamp
		FROM action_log
		WHERE synced_at IS NULL AND undone = 0
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			rowid                                   int64
			actionType, entityType, entityID, tsStr string
			newDataStr, prevDataStr                 sql.NullString
		)
		if err := rows.Scan(&rowid, &actionType, &entityType, &entityID, &newDataStr, &prevDataStr, &tsStr); err != nil {
			return nil, fmt.Errorf("scan action_log row: %w", err)
		}

		clientTS, err := parseTimestamp(tsStr)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp rowid=%d: %w", rowid, err)
		}

		canonicalType, ok := models.NormalizeEntityType(entityType)
		if !ok {
			slog.Warn("sync: skipping unsupported entity type", "entity_type", entityType, "rowid", rowid)
			continue
		}

		newData := json.RawMessage("{}")
		if newDataStr.Valid && newDataStr.String != "" {
			newData = json.RawMessage(newDataStr.String)
		}
		prevData := json.RawMessage("{}")
		if prevDataStr.Valid && prevDataStr.String != "" {
			prevData = json.RawMessage(prevDataStr.String)
		}

		payloadBytes, err := json.Marshal(Payload{
			SchemaVersion: PayloadVersion,
			NewData:       newData,
			PreviousData:  prevData,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal payload rowid=%d: %w", rowid, err)
		}

		events = append(events, Event{
			ClientActionID:  rowid,
			DeviceID:        deviceID,
			SessionID:       sessionID,
			ActionType:      mapActionType(actionType),
			EntityType:      canonicalType,
			EntityID:        entityID,
			Payload:         payloadBytes,
			ClientTimestamp: clientTS,
			ServerSeq:       0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return events, nil
}

// MarkEventsSynced updates action_log rows with their server-assigned
// sequence numbers. Duplicate rejections from a replayed push carry the
// original sequence and are marked through the same path.
func MarkEventsSynced(tx *sql.Tx, acks []Ack) error {
	for _, ack := range acks {
		_, err := tx.Exec(
			`UPDATE action_log SET synced_at = CURRENT_TIMESTAMP, server_seq = ? WHERE rowid = ?`,
			ack.ServerSeq, ack.ClientActionID,
		)
		if err != nil {
			return fmt.Errorf("mark synced rowid=%d: %w", ack.ClientActionID, err)
		}
	}
	return nil
}
