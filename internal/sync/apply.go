package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

// ApplyRemoteEvents applies a batch of pulled events to the local store in
// server sequence order, inside the caller's transaction. A single bad event
// is recorded in Failed and skipped, never aborting the batch; only storage
// errors (the transaction itself is broken) return a non-nil error.
//
// Events originating from this device are skipped: the server excludes them
// from pulls, but a reset cursor can replay them.
func ApplyRemoteEvents(tx *sql.Tx, localDeviceID, sessionID string, events []Event) (*ApplyResult, error) {
	result := &ApplyResult{}
	for _, ev := range events {
		result.LastAppliedSeq = ev.ServerSeq
		if ev.DeviceID == localDeviceID {
			continue
		}

		conflict, blended, err := applyEvent(tx, localDeviceID, sessionID, ev)
		if err != nil {
			result.Failed = append(result.Failed, FailedEvent{ServerSeq: ev.ServerSeq, Error: err})
			continue
		}
		result.Applied++
		if blended {
			result.Merged++
		}
		if conflict != nil {
			if err := insertConflict(tx, conflict); err != nil {
				return nil, fmt.Errorf("record conflict for %s %s: %w", conflict.EntityType, conflict.EntityID, err)
			}
			result.Conflicts = append(result.Conflicts, *conflict)
		}
	}
	return result, nil
}

func applyEvent(tx *sql.Tx, localDeviceID, sessionID string, ev Event) (*ConflictRecord, bool, error) {
	entityType, ok := models.NormalizeEntityType(ev.EntityType)
	if !ok {
		return nil, false, fmt.Errorf("unknown entity type %q", ev.EntityType)
	}

	var payload Payload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, false, fmt.Errorf("decode payload: %w", err)
	}
	if payload.SchemaVersion > PayloadVersion {
		return nil, false, fmt.Errorf("payload schema %d is newer than supported %d", payload.SchemaVersion, PayloadVersion)
	}

	if ev.ActionType == string(models.ActionDelete) {
		return applyDelete(tx, localDeviceID, sessionID, entityType, ev, payload)
	}
	// Everything else carries a full row snapshot in new_data. Specific
	// action types (set_budget, add_member, ...) are collapsed to update
	// on push, but a snapshot upsert handles them all the same way.
	return applyUpsert(tx, localDeviceID, sessionID, entityType, ev, payload)
}

// emptyJSON reports whether a payload field carries no snapshot. The wire
// substitutes "{}" for absent data, and a missing key decodes as nil.
func emptyJSON(raw json.RawMessage) bool {
	s := string(raw)
	return s == "" || s == "null" || s == "{}"
}

// snapshotMarker pulls the version marker out of a row snapshot. A snapshot
// that cannot be decoded reports the zero time, which loses every comparison.
func snapshotMarker(data json.RawMessage) (time.Time, string) {
	var m struct {
		UpdatedAt time.Time `json:"updated_at"`
		UpdatedBy string    `json:"updated_by"`
	}
	_ = json.Unmarshal(data, &m)
	return m.UpdatedAt, m.UpdatedBy
}

func applyUpsert(tx *sql.Tx, localDeviceID, sessionID, entityType string, ev Event, payload Payload) (*ConflictRecord, bool, error) {
	if emptyJSON(payload.NewData) {
		return nil, false, fmt.Errorf("%s event for %s %s has no new_data", ev.ActionType, entityType, ev.EntityID)
	}

	localJSON, found, err := readEntityJSON(tx, entityType, ev.EntityID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, writeEntityJSON(tx, entityType, ev.EntityID, payload.NewData)
	}

	pending, err := hasPendingActions(tx, entityType, ev.EntityID)
	if err != nil {
		return nil, false, err
	}
	if !pending {
		// No pending local edits: last writer wins. An event that is
		// older than the row it targets is a stale replay and leaves
		// the row alone, so re-pulling a page is a no-op.
		localAt, localBy := snapshotMarker(localJSON)
		remoteAt, remoteBy := snapshotMarker(payload.NewData)
		if !remoteWins(localAt, remoteAt, localBy, remoteBy) {
			return nil, false, nil
		}
		return nil, false, writeEntityJSON(tx, entityType, ev.EntityID, payload.NewData)
	}
	return resolveConflict(tx, localDeviceID, sessionID, entityType, ev, localJSON, payload.NewData)
}

// applyDelete marks the record deleted with the origin's timestamp and
// device, reconstructing the tombstone the origin wrote. Other fields are
// left alone so a later edit already applied from a third device survives.
func applyDelete(tx *sql.Tx, localDeviceID, sessionID, entityType string, ev Event, payload Payload) (*ConflictRecord, bool, error) {
	localJSON, found, err := readEntityJSON(tx, entityType, ev.EntityID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		// Never saw this record live; materialize a tombstone from the
		// origin's pre-delete snapshot so a later restore has a row.
		if emptyJSON(payload.PreviousData) {
			return nil, false, fmt.Errorf("delete for unknown %s %s has no previous_data", entityType, ev.EntityID)
		}
		tomb, err := tombstoneJSON(entityType, ev, payload.PreviousData)
		if err != nil {
			return nil, false, err
		}
		return nil, false, writeEntityJSON(tx, entityType, ev.EntityID, tomb)
	}

	pending, err := hasPendingActions(tx, entityType, ev.EntityID)
	if err != nil {
		return nil, false, err
	}
	if !pending {
		// Same last-writer rule as upserts: a delete older than the
		// row's current version lost to an edit somewhere else.
		localAt, localBy := snapshotMarker(localJSON)
		if !remoteWins(localAt, ev.ClientTimestamp, localBy, ev.DeviceID) {
			return nil, false, nil
		}
		return nil, false, tombstoneUpdate(tx, entityType, ev)
	}

	base := payload.PreviousData
	if emptyJSON(base) {
		base = localJSON
	}
	tomb, err := tombstoneJSON(entityType, ev, base)
	if err != nil {
		return nil, false, err
	}
	return resolveConflict(tx, localDeviceID, sessionID, entityType, ev, localJSON, tomb)
}

// resolveConflict merges a remote event against local pending edits and
// records the outcome. When the result blends both sides it is appended to
// the action log so the next push replicates a record no other device has.
func resolveConflict(tx *sql.Tx, localDeviceID, sessionID, entityType string, ev Event, localJSON, remoteJSON json.RawMessage) (*ConflictRecord, bool, error) {
	mergedJSON, resolution, err := mergeSnapshots(entityType, localJSON, remoteJSON)
	if err != nil {
		return nil, false, err
	}
	if resolution == "merged" {
		// The blend is a version neither parent has. Stamp it after
		// both so last-writer-wins accepts it on every other device.
		mergedJSON, err = stampMerged(entityType, mergedJSON, mergeStamp(localJSON, remoteJSON), localDeviceID)
		if err != nil {
			return nil, false, err
		}
	}

	if resolution != "local" {
		if err := writeEntityJSON(tx, entityType, ev.EntityID, mergedJSON); err != nil {
			return nil, false, err
		}
	}
	if resolution == "merged" {
		if err := appendMergeAction(tx, sessionID, entityType, ev.EntityID, localJSON, mergedJSON); err != nil {
			return nil, false, fmt.Errorf("log merged record: %w", err)
		}
	}

	rec := &ConflictRecord{
		EntityType: entityType,
		EntityID:   ev.EntityID,
		ServerSeq:  ev.ServerSeq,
		LocalData:  localJSON,
		RemoteData: remoteJSON,
		MergedData: mergedJSON,
		Resolution: resolution,
		ResolvedAt: time.Now(),
	}
	return rec, resolution == "merged", nil
}

// mergeStamp picks the timestamp for a blended record: now, or just past
// the later parent when the local clock lags it.
func mergeStamp(localJSON, remoteJSON json.RawMessage) time.Time {
	localAt, _ := snapshotMarker(localJSON)
	remoteAt, _ := snapshotMarker(remoteJSON)
	latest := localAt
	if remoteAt.After(latest) {
		latest = remoteAt
	}
	ts := time.Now()
	if !ts.After(latest) {
		ts = latest.Add(time.Millisecond)
	}
	return ts
}

func stampMerged(entityType string, data json.RawMessage, at time.Time, by string) (json.RawMessage, error) {
	switch entityType {
	case "expenses":
		var e models.Expense
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode merged expense: %w", err)
		}
		e.UpdatedAt = at
		e.UpdatedBy = by
		return json.Marshal(e)
	case "categories":
		var c models.Category
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode merged category: %w", err)
		}
		c.UpdatedAt = at
		c.UpdatedBy = by
		return json.Marshal(c)
	case "pools":
		var p models.Pool
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode merged pool: %w", err)
		}
		p.UpdatedAt = at
		p.UpdatedBy = by
		return json.Marshal(p)
	}
	return nil, fmt.Errorf("stamp: unsupported entity type %q", entityType)
}

// hasPendingActions reports whether the entity has local actions not yet
// acknowledged by the server. Those are the edits a remote event can
// conflict with. The action log stores singular entity types.
func hasPendingActions(tx *sql.Tx, entityType, entityID string) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM action_log
		WHERE entity_type IN (?, ?) AND entity_id = ? AND synced_at IS NULL AND undone = 0
	`, singularEntity(entityType), entityType, entityID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pending actions: %w", err)
	}
	return n > 0, nil
}

func singularEntity(plural string) string {
	switch plural {
	case "expenses":
		return "expense"
	case "categories":
		return "category"
	case "pools":
		return "pool"
	}
	return plural
}

// appendMergeAction logs a blended record as a fresh local update so it gets
// pushed. The timestamp mirrors the merged record's own updated_at.
func appendMergeAction(tx *sql.Tx, sessionID, entityType, entityID string, previousJSON, mergedJSON json.RawMessage) error {
	var marker struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(mergedJSON, &marker); err != nil {
		return err
	}
	ts := marker.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := tx.Exec(`
		INSERT INTO action_log (session_id, action_type, entity_type, entity_id, previous_data, new_data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, string(models.ActionUpdate), singularEntity(entityType), entityID, string(previousJSON), string(mergedJSON), ts)
	return err
}

func insertConflict(tx *sql.Tx, rec *ConflictRecord) error {
	_, err := tx.Exec(`
		INSERT INTO sync_conflicts (entity_type, entity_id, server_seq, local_data, remote_data, merged_data, resolution, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.EntityType, rec.EntityID, rec.ServerSeq, string(rec.LocalData), string(rec.RemoteData), string(rec.MergedData), rec.Resolution, rec.ResolvedAt)
	return err
}

// tombstoneUpdate stamps deletion onto an existing row in place.
func tombstoneUpdate(tx *sql.Tx, entityType string, ev Event) error {
	// entityType is normalized to a known table name.
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = ?, updated_at = ?, updated_by = ? WHERE id = ?`, entityType)
	_, err := tx.Exec(query, ev.ClientTimestamp, ev.ClientTimestamp, ev.DeviceID, ev.EntityID)
	if err != nil {
		return fmt.Errorf("tombstone %s %s: %w", entityType, ev.EntityID, err)
	}
	return nil
}

// tombstoneJSON builds a deleted-row snapshot from a base snapshot plus the
// delete event's markers.
func tombstoneJSON(entityType string, ev Event, base json.RawMessage) (json.RawMessage, error) {
	ts := ev.ClientTimestamp
	switch entityType {
	case "expenses":
		var e models.Expense
		if err := json.Unmarshal(base, &e); err != nil {
			return nil, fmt.Errorf("decode previous expense: %w", err)
		}
		e.DeletedAt = &ts
		e.UpdatedAt = ts
		e.UpdatedBy = ev.DeviceID
		return json.Marshal(e)
	case "categories":
		var c models.Category
		if err := json.Unmarshal(base, &c); err != nil {
			return nil, fmt.Errorf("decode previous category: %w", err)
		}
		c.DeletedAt = &ts
		c.UpdatedAt = ts
		c.UpdatedBy = ev.DeviceID
		return json.Marshal(c)
	case "pools":
		var p models.Pool
		if err := json.Unmarshal(base, &p); err != nil {
			return nil, fmt.Errorf("decode previous pool: %w", err)
		}
		p.DeletedAt = &ts
		p.UpdatedAt = ts
		p.UpdatedBy = ev.DeviceID
		return json.Marshal(p)
	}
	return nil, fmt.Errorf("tombstone: unsupported entity type %q", entityType)
}

// readEntityJSON returns the current local row as canonical JSON.
func readEntityJSON(tx *sql.Tx, entityType, id string) (json.RawMessage, bool, error) {
	switch entityType {
	case "expenses":
		e, found, err := scanExpenseTx(tx, id)
		if err != nil || !found {
			return nil, found, err
		}
		data, err := json.Marshal(e)
		return data, true, err
	case "categories":
		c, found, err := scanCategoryTx(tx, id)
		if err != nil || !found {
			return nil, found, err
		}
		data, err := json.Marshal(c)
		return data, true, err
	case "pools":
		p, found, err := scanPoolTx(tx, id)
		if err != nil || !found {
			return nil, found, err
		}
		data, err := json.Marshal(p)
		return data, true, err
	}
	return nil, false, fmt.Errorf("read: unsupported entity type %q", entityType)
}

// writeEntityJSON replaces the local row with the given snapshot.
func writeEntityJSON(tx *sql.Tx, entityType, expectID string, data json.RawMessage) error {
	switch entityType {
	case "expenses":
		var e models.Expense
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decode expense: %w", err)
		}
		if e.ID != expectID {
			return fmt.Errorf("snapshot id %q does not match event entity %q", e.ID, expectID)
		}
		return upsertExpenseTx(tx, &e)
	case "categories":
		var c models.Category
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("decode category: %w", err)
		}
		if c.ID != expectID {
			return fmt.Errorf("snapshot id %q does not match event entity %q", c.ID, expectID)
		}
		return upsertCategoryTx(tx, &c)
	case "pools":
		var p models.Pool
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode pool: %w", err)
		}
		if p.ID != expectID {
			return fmt.Errorf("snapshot id %q does not match event entity %q", p.ID, expectID)
		}
		return upsertPoolTx(tx, &p)
	}
	return fmt.Errorf("write: unsupported entity type %q", entityType)
}

func scanExpenseTx(tx *sql.Tx, id string) (models.Expense, bool, error) {
	var e models.Expense
	var amount string
	var deletedAt sql.NullTime
	var categoryID, poolID, merchant, note, updatedBy sql.NullString

	err := tx.QueryRow(`
		SELECT id, amount, currency, category_id, pool_id, merchant, note, spent_on,
		       created_at, updated_at, updated_by, deleted_at
		FROM expenses WHERE id = ?
	`, id).Scan(
		&e.ID, &amount, &e.Currency, &categoryID, &poolID, &merchant, &note, &e.SpentOn,
		&e.CreatedAt, &e.UpdatedAt, &updatedBy, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return e, false, fmt.Errorf("expense %s: parse amount %q: %w", id, amount, err)
	}
	e.Amount = amt
	e.CategoryID = categoryID.String
	e.PoolID = poolID.String
	e.Merchant = merchant.String
	e.Note = note.String
	e.UpdatedBy = updatedBy.String
	if deletedAt.Valid {
		e.DeletedAt = &deletedAt.Time
	}
	return e, true, nil
}

func upsertExpenseTx(tx *sql.Tx, e *models.Expense) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO expenses (id, amount, currency, category_id, pool_id, merchant, note, spent_on,
		                                 created_at, updated_at, updated_by, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Amount.String(), e.Currency, e.CategoryID, e.PoolID, e.Merchant, e.Note, e.SpentOn,
		e.CreatedAt, e.UpdatedAt, e.UpdatedBy, e.DeletedAt)
	return err
}

func scanCategoryTx(tx *sql.Tx, id string) (models.Category, bool, error) {
	var c models.Category
	var budget string
	var deletedAt sql.NullTime
	var icon, color, note, updatedBy sql.NullString

	err := tx.QueryRow(`
		SELECT id, name, icon, color, monthly_budget, note,
		       created_at, updated_at, updated_by, deleted_at
		FROM categories WHERE id = ?
	`, id).Scan(
		&c.ID, &c.Name, &icon, &color, &budget, &note,
		&c.CreatedAt, &c.UpdatedAt, &updatedBy, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}

	b, err := decimal.NewFromString(budget)
	if err != nil {
		return c, false, fmt.Errorf("category %s: parse budget %q: %w", id, budget, err)
	}
	c.MonthlyBudget = b
	c.Icon = icon.String
	c.Color = color.String
	c.Note = note.String
	c.UpdatedBy = updatedBy.String
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return c, true, nil
}

func upsertCategoryTx(tx *sql.Tx, c *models.Category) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO categories (id, name, icon, color, monthly_budget, note,
		                                   created_at, updated_at, updated_by, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Icon, c.Color, c.MonthlyBudget.String(), c.Note,
		c.CreatedAt, c.UpdatedAt, c.UpdatedBy, c.DeletedAt)
	return err
}

func scanPoolTx(tx *sql.Tx, id string) (models.Pool, bool, error) {
	var p models.Pool
	var members, target string
	var deletedAt sql.NullTime
	var startedOn, note, updatedBy sql.NullString

	err := tx.QueryRow(`
		SELECT id, name, members, currency, started_on, target_total, note,
		       created_at, updated_at, updated_by, deleted_at
		FROM pools WHERE id = ?
	`, id).Scan(
		&p.ID, &p.Name, &members, &p.Currency, &startedOn, &target, &note,
		&p.CreatedAt, &p.UpdatedAt, &updatedBy, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}

	if members != "" {
		if err := json.Unmarshal([]byte(members), &p.Members); err != nil {
			return p, false, fmt.Errorf("pool %s: parse members %q: %w", id, members, err)
		}
	}
	tt, err := decimal.NewFromString(target)
	if err != nil {
		return p, false, fmt.Errorf("pool %s: parse target %q: %w", id, target, err)
	}
	p.TargetTotal = tt
	p.StartedOn = startedOn.String
	p.Note = note.String
	p.UpdatedBy = updatedBy.String
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return p, true, nil
}

func upsertPoolTx(tx *sql.Tx, p *models.Pool) error {
	members := p.Members
	if members == nil {
		members = []string{}
	}
	membersJSON, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO pools (id, name, members, currency, started_on, target_total, note,
		                              created_at, updated_at, updated_by, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(membersJSON), p.Currency, p.StartedOn, p.TargetTotal.String(), p.Note,
		p.CreatedAt, p.UpdatedAt, p.UpdatedBy, p.DeletedAt)
	return err
}
