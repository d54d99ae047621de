package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/elena/xp/internal/models"
)

// recordAction appends an action_log row. Caller must hold the write lock.
// The store generation is stamped as session_id, so actions from a recreated
// store never collide with tuples the server already has.
func (db *DB) recordAction(actionType models.ActionType, entityType, entityID, previousData, newData string, ts time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO action_log (session_id, action_type, entity_type, entity_id, previous_data, new_data, timestamp, undone)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, db.generation, string(actionType), entityType, entityID, previousData, newData, ts)
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

// LogAction appends an action_log row under the write lock. Used by undo and
// other flows that need to record a replication event outside the CRUD helpers.
func (db *DB) LogAction(action *models.ActionLog) error {
	return db.withWriteLock(func() error {
		ts := action.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		sessionID := action.SessionID
		if sessionID == "" {
			sessionID = db.generation
		}
		_, err := db.conn.Exec(`
			INSERT INTO action_log (session_id, action_type, entity_type, entity_id, previous_data, new_data, timestamp, undone)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		`, sessionID, string(action.ActionType), action.EntityType, action.EntityID, action.PreviousData, action.NewData, ts)
		if err != nil {
			return fmt.Errorf("log action: %w", err)
		}
		return nil
	})
}

// scanActions reads action_log rows from a query result.
func scanActions(rows *sql.Rows) ([]models.ActionLog, error) {
	var actions []models.ActionLog
	for rows.Next() {
		var a models.ActionLog
		var undone int
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ActionType, &a.EntityType, &a.EntityID,
			&a.PreviousData, &a.NewData, &a.Timestamp, &undone); err != nil {
			return nil, err
		}
		a.Undone = undone != 0
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// GetRecentActions returns the most recent actions, newest first.
func (db *DB) GetRecentActions(limit int) ([]models.ActionLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, action_type, entity_type, entity_id,
		       COALESCE(previous_data, ''), COALESCE(new_data, ''), timestamp, undone
		FROM action_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

// GetLastAction returns the most recent action that has not been undone,
// or nil when the log is empty.
func (db *DB) GetLastAction() (*models.ActionLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, action_type, entity_type, entity_id,
		       COALESCE(previous_data, ''), COALESCE(new_data, ''), timestamp, undone
		FROM action_log
		WHERE undone = 0
		ORDER BY id DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}
	return &actions[0], nil
}

// MarkActionUndone flags an action so it is skipped by undo and by push.
func (db *DB) MarkActionUndone(actionID int64) error {
	return db.withWriteLock(func() error {
		res, err := db.conn.Exec(`UPDATE action_log SET undone = 1 WHERE id = ?`, actionID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("action not found: %d", actionID)
		}
		return nil
	})
}

// CountActions returns the total number of action_log rows.
func (db *DB) CountActions() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM action_log`).Scan(&count)
	return count, err
}
