package sync

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/elena/xp/internal/models"
)

func insertAction(t *testing.T, db *sql.DB, actionType, entityType, entityID, prevData, newData string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO action_log (session_id, action_type, entity_type, entity_id, previous_data, new_data, timestamp)
		VALUES ('s-1', ?, ?, ?, ?, ?, ?)`,
		actionType, entityType, entityID, prevData, newData, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("insert action: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func pendingEvents(t *testing.T, db *sql.DB) []Event {
	t.Helper()
	tx := beginTx(t, db)
	events, err := GetPendingEvents(tx, "dev-a", "s-1")
	if err != nil {
		t.Fatalf("get pending events: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return events
}

func TestGetPendingEvents_BuildsWireEvents(t *testing.T) {
	db := setupDB(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e := testExpense(base, "dev-a")
	data, _ := json.Marshal(e)

	createID := insertAction(t, db, "create", "expense", e.ID, "", string(data))
	deleteID := insertAction(t, db, "delete", "expense", e.ID, string(data), "")

	events := pendingEvents(t, db)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	create := events[0]
	if create.ClientActionID != createID {
		t.Errorf("client action id = %d, want rowid %d", create.ClientActionID, createID)
	}
	if create.ActionType != "create" || create.EntityType != "expenses" || create.EntityID != e.ID {
		t.Errorf("event = %s/%s/%s, want create/expenses/%s", create.ActionType, create.EntityType, create.EntityID, e.ID)
	}
	if create.DeviceID != "dev-a" || create.SessionID != "s-1" {
		t.Errorf("origin = %s/%s, want dev-a/s-1", create.DeviceID, create.SessionID)
	}

	var payload Payload
	if err := json.Unmarshal(create.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SchemaVersion != PayloadVersion {
		t.Errorf("schema version = %d, want %d", payload.SchemaVersion, PayloadVersion)
	}
	var got models.Expense
	if err := json.Unmarshal(payload.NewData, &got); err != nil {
		t.Fatalf("unmarshal new_data: %v", err)
	}
	if got.ID != e.ID || !got.Amount.Equal(e.Amount) {
		t.Errorf("new_data = %+v, want the logged snapshot", got)
	}

	del := events[1]
	if del.ClientActionID != deleteID || del.ActionType != "delete" {
		t.Errorf("second event = %d/%s, want %d/delete", del.ClientActionID, del.ActionType, deleteID)
	}
	if err := json.Unmarshal(del.Payload, &payload); err != nil {
		t.Fatalf("unmarshal delete payload: %v", err)
	}
	if string(payload.NewData) != "{}" {
		t.Errorf("delete new_data = %s, want empty object", payload.NewData)
	}
	if string(payload.PreviousData) == "{}" {
		t.Error("delete previous_data missing, want pre-delete snapshot")
	}
}

func TestGetPendingEvents_SkipsSyncedAndUndone(t *testing.T) {
	db := setupDB(t)

	insertAction(t, db, "create", "expense", "xp-1", "", `{"id":"xp-1"}`)
	syncedID := insertAction(t, db, "update", "expense", "xp-1", "", `{"id":"xp-1"}`)
	undoneID := insertAction(t, db, "update", "expense", "xp-1", "", `{"id":"xp-1"}`)

	if _, err := db.Exec(`UPDATE action_log SET synced_at = CURRENT_TIMESTAMP, server_seq = 9 WHERE id = ?`, syncedID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE action_log SET undone = 1 WHERE id = ?`, undoneID); err != nil {
		t.Fatal(err)
	}

	events := pendingEvents(t, db)
	if len(events) != 1 {
		t.Fatalf("events = %d, want only the unsynced non-undone action", len(events))
	}
	if events[0].ActionType != "create" {
		t.Errorf("action = %s, want create", events[0].ActionType)
	}
}

func TestGetPendingEvents_CollapsesSpecificActionsToUpdate(t *testing.T) {
	db := setupDB(t)

	insertAction(t, db, "set_budget", "category", "cat-1", "", `{"id":"cat-1"}`)
	insertAction(t, db, "add_member", "pool", "pl-1", "", `{"id":"pl-1"}`)
	insertAction(t, db, "recategorize", "expense", "xp-1", "", `{"id":"xp-1"}`)
	insertAction(t, db, "restore", "expense", "xp-2", "", `{"id":"xp-2"}`)

	events := pendingEvents(t, db)
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	for _, i := range []int{0, 1, 2} {
		if events[i].ActionType != "update" {
			t.Errorf("event %d action = %s, want update", i, events[i].ActionType)
		}
	}
	if events[3].ActionType != "restore" {
		t.Errorf("restore action = %s, want restore kept as-is", events[3].ActionType)
	}
	if events[0].EntityType != "categories" || events[1].EntityType != "pools" {
		t.Errorf("entity types = %s/%s, want plural forms", events[0].EntityType, events[1].EntityType)
	}
}

func TestGetPendingEvents_BackfillsPreexistingRows(t *testing.T) {
	db := setupDB(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// A row with no action_log entry, as left by a build from before the
	// ledger was linked.
	e := testExpense(base, "")
	tx := beginTx(t, db)
	if err := upsertExpenseTx(tx, &e); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	events := pendingEvents(t, db)
	if len(events) != 1 {
		t.Fatalf("events = %d, want one synthetic create", len(events))
	}
	if events[0].ActionType != "create" || events[0].EntityID != e.ID {
		t.Errorf("event = %s/%s, want create/%s", events[0].ActionType, events[0].EntityID, e.ID)
	}

	// A second call must not backfill again.
	events = pendingEvents(t, db)
	if len(events) != 1 {
		t.Fatalf("events after rerun = %d, want still 1", len(events))
	}
}

func TestGetPendingEvents_NoBackfillAfterFirstPull(t *testing.T) {
	db := setupDB(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := db.Exec(`INSERT INTO sync_state (ledger_id, last_pulled_server_seq) VALUES ('led-1', 42)`); err != nil {
		t.Fatal(err)
	}
	e := testExpense(base, "dev-b")
	tx := beginTx(t, db)
	if err := upsertExpenseTx(tx, &e); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if events := pendingEvents(t, db); len(events) != 0 {
		t.Fatalf("events = %d, want no backfill once the device has pulled", len(events))
	}
}

func TestMarkEventsSynced(t *testing.T) {
	db := setupDB(t)

	id1 := insertAction(t, db, "create", "expense", "xp-1", "", `{"id":"xp-1"}`)
	id2 := insertAction(t, db, "update", "expense", "xp-1", "", `{"id":"xp-1"}`)

	tx := beginTx(t, db)
	err := MarkEventsSynced(tx, []Ack{
		{ClientActionID: id1, ServerSeq: 10},
		{ClientActionID: id2, ServerSeq: 11},
	})
	if err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	var seq int64
	var syncedAt sql.NullString
	if err := db.QueryRow(`SELECT server_seq, synced_at FROM action_log WHERE id = ?`, id2).Scan(&seq, &syncedAt); err != nil {
		t.Fatal(err)
	}
	if seq != 11 || !syncedAt.Valid {
		t.Errorf("row = seq %d synced %v, want 11/true", seq, syncedAt.Valid)
	}

	if events := pendingEvents(t, db); len(events) != 0 {
		t.Errorf("pending after mark = %d, want 0", len(events))
	}
}
