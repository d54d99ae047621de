package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// Ledger represents a shared expense ledger.
type Ledger struct {
	ID        string
	Name      string
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// CreateLedger creates a new ledger and adds the owner as a member in a single transaction.
func (db *ServerDB) CreateLedger(name, note, ownerUserID string) (*Ledger, error) {
	id, err := generateID("l_")
	if err != nil {
		return nil, fmt.Errorf("generate ledger id: %w", err)
	}
	return db.CreateLedgerWithID(id, name, note, ownerUserID)
}

// CreateLedgerWithID creates a ledger with a caller-supplied ID. The API
// server pre-generates the ID so the event database can be set up before
// the ledger record exists.
func (db *ServerDB) CreateLedgerWithID(id, name, note, ownerUserID string) (*Ledger, error) {
	if name == "" {
		return nil, fmt.Errorf("ledger name is required")
	}

	now := time.Now().UTC()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO ledgers (id, name, note, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, note, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO memberships (ledger_id, user_id, role, invited_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerUserID, RoleOwner, "", now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Ledger{ID: id, Name: name, Note: note, CreatedAt: now, UpdatedAt: now}, nil
}

// GetLedger returns a ledger by ID. If includeSoftDeleted is false, soft-deleted ledgers are excluded.
func (db *ServerDB) GetLedger(id string, includeSoftDeleted bool) (*Ledger, error) {
	query := `SELECT id, name, note, created_at, updated_at, deleted_at FROM ledgers WHERE id = ?`
	if !includeSoftDeleted {
		query += ` AND deleted_at IS NULL`
	}

	l := &Ledger{}
	err := db.conn.QueryRow(query, id).Scan(&l.ID, &l.Name, &l.Note, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return l, nil
}

// ListLedgersForUser returns all non-deleted ledgers the user is a member of.
func (db *ServerDB) ListLedgersForUser(userID string) ([]*Ledger, error) {
	rows, err := db.conn.Query(`
		SELECT l.id, l.name, l.note, l.created_at, l.updated_at, l.deleted_at
		FROM ledgers l
		JOIN memberships m ON m.ledger_id = l.id
		WHERE m.user_id = ? AND l.deleted_at IS NULL
		ORDER BY l.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []*Ledger
	for rows.Next() {
		l := &Ledger{}
		if err := rows.Scan(&l.ID, &l.Name, &l.Note, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		ledgers = append(ledgers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledgers: iterate: %w", err)
	}
	return ledgers, nil
}

// UpdateLedger updates a ledger's name and note.
func (db *ServerDB) UpdateLedger(id, name, note string) (*Ledger, error) {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`UPDATE ledgers SET name = ?, note = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		name, note, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("ledger not found: %s", id)
	}
	return db.GetLedger(id, false)
}

// SoftDeleteLedger marks a ledger as deleted. Its event log is retained on disk.
func (db *ServerDB) SoftDeleteLedger(id string) error {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`UPDATE ledgers SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("soft delete ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ledger not found: %s", id)
	}
	return nil
}
