package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

func marshalPool(p *models.Pool) string {
	data, _ := json.Marshal(p)
	return string(data)
}

// marshalMembers serializes a member set as sorted JSON. Sorting keeps the
// stored text identical on every device after a member-set merge.
func marshalMembers(members []string) string {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalMembers(raw string) []string {
	if raw == "" {
		return nil
	}
	var members []string
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil
	}
	return members
}

func (db *DB) scanPoolRow(id string) (*models.Pool, error) {
	var p models.Pool
	var members, target string
	var deletedAt sql.NullTime
	var startedOn, note, updatedBy sql.NullString

	err := db.conn.QueryRow(`
		SELECT id, name, members, currency, started_on, target_total, note,
		       created_at, updated_at, updated_by, deleted_at
		FROM pools WHERE id = ?
	`, id).Scan(
		&p.ID, &p.Name, &members, &p.Currency, &startedOn, &target, &note,
		&p.CreatedAt, &p.UpdatedAt, &updatedBy, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pool not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	tt, err := decimal.NewFromString(target)
	if err != nil {
		return nil, fmt.Errorf("pool %s: parse target %q: %w", id, target, err)
	}
	p.TargetTotal = tt
	p.Members = unmarshalMembers(members)
	p.StartedOn = startedOn.String
	p.Note = note.String
	p.UpdatedBy = updatedBy.String
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}

	return &p, nil
}

// CreatePoolLogged creates a pool and logs the action atomically.
func (db *DB) CreatePoolLogged(p *models.Pool) error {
	return db.withWriteLock(func() error {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("pool name is required")
		}
		if p.Currency == "" {
			p.Currency = models.CurrencyUSD
		}

		now := time.Now()
		p.CreatedAt = now
		p.UpdatedAt = now
		p.UpdatedBy = db.deviceID

		const maxRetries = 3
		for attempt := range maxRetries {
			id, err := generatePoolID()
			if err != nil {
				return err
			}
			p.ID = id

			_, err = db.conn.Exec(`
				INSERT INTO pools (id, name, members, currency, started_on, target_total, note, created_at, updated_at, updated_by)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, p.ID, p.Name, marshalMembers(p.Members), p.Currency, p.StartedOn, p.TargetTotal.String(), p.Note, p.CreatedAt, p.UpdatedAt, p.UpdatedBy)

			if err == nil {
				break
			}
			if !strings.Contains(err.Error(), "UNIQUE constraint") {
				return err
			}
			if attempt == maxRetries-1 {
				return fmt.Errorf("failed to generate unique pool ID after %d attempts", maxRetries)
			}
		}

		return db.recordAction(models.ActionCreate, "pool", p.ID, "", marshalPool(p), now)
	})
}

// UpdatePoolLogged updates a pool and logs the action atomically.
func (db *DB) UpdatePoolLogged(p *models.Pool, actionType models.ActionType) error {
	return db.withWriteLock(func() error {
		return db.updatePoolAndLog(p, actionType)
	})
}

// updatePoolAndLog is the inner update shared by the member helpers.
// Caller must hold the write lock.
func (db *DB) updatePoolAndLog(p *models.Pool, actionType models.ActionType) error {
	prev, err := db.scanPoolRow(p.ID)
	if err != nil {
		return err
	}
	previousData := marshalPool(prev)

	p.UpdatedAt = time.Now()
	p.UpdatedBy = db.deviceID

	_, err = db.conn.Exec(`
		UPDATE pools SET name = ?, members = ?, currency = ?, started_on = ?,
		                 target_total = ?, note = ?, updated_at = ?, updated_by = ?, deleted_at = ?
		WHERE id = ?
	`, p.Name, marshalMembers(p.Members), p.Currency, p.StartedOn,
		p.TargetTotal.String(), p.Note, p.UpdatedAt, p.UpdatedBy, p.DeletedAt, p.ID)
	if err != nil {
		return err
	}

	return db.recordAction(actionType, "pool", p.ID, previousData, marshalPool(p), p.UpdatedAt)
}

// AddPoolMemberLogged adds a member name to the pool set. No-op if present.
func (db *DB) AddPoolMemberLogged(poolID, member string) error {
	return db.withWriteLock(func() error {
		p, err := db.scanPoolRow(poolID)
		if err != nil {
			return err
		}
		if p.HasMember(member) {
			return nil
		}
		p.Members = append(p.Members, member)
		return db.updatePoolAndLog(p, models.ActionAddMember)
	})
}

// RemovePoolMemberLogged removes a member name from the pool set. No-op if absent.
func (db *DB) RemovePoolMemberLogged(poolID, member string) error {
	return db.withWriteLock(func() error {
		p, err := db.scanPoolRow(poolID)
		if err != nil {
			return err
		}
		if !p.HasMember(member) {
			return nil
		}
		kept := p.Members[:0]
		for _, m := range p.Members {
			if m != member {
				kept = append(kept, m)
			}
		}
		p.Members = kept
		return db.updatePoolAndLog(p, models.ActionRemoveMember)
	})
}

// DeletePoolLogged soft-deletes a pool and logs the action atomically.
func (db *DB) DeletePoolLogged(poolID string) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanPoolRow(poolID)
		if err != nil {
			return err
		}
		previousData := marshalPool(prev)

		now := time.Now()
		_, err = db.conn.Exec(`UPDATE pools SET deleted_at = ?, updated_at = ?, updated_by = ? WHERE id = ?`,
			now, now, db.deviceID, poolID)
		if err != nil {
			return err
		}

		return db.recordAction(models.ActionDelete, "pool", poolID, previousData, "", now)
	})
}

// RestorePoolLogged restores a soft-deleted pool and logs the action.
func (db *DB) RestorePoolLogged(poolID string) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanPoolRow(poolID)
		if err != nil {
			return err
		}
		previousData := marshalPool(prev)

		now := time.Now()
		_, err = db.conn.Exec(`UPDATE pools SET deleted_at = NULL, updated_at = ?, updated_by = ? WHERE id = ?`,
			now, db.deviceID, poolID)
		if err != nil {
			return err
		}

		restored, err := db.scanPoolRow(poolID)
		if err != nil {
			return err
		}

		return db.recordAction(models.ActionRestore, "pool", poolID, previousData, marshalPool(restored), now)
	})
}

// GetPool retrieves a pool by ID.
func (db *DB) GetPool(id string) (*models.Pool, error) {
	return db.scanPoolRow(id)
}

// GetPoolByName finds a live pool by name, case-insensitive.
// Returns nil when no match exists.
func (db *DB) GetPoolByName(name string) (*models.Pool, error) {
	var id string
	err := db.conn.QueryRow(`
		SELECT id FROM pools
		WHERE name = ? COLLATE NOCASE AND deleted_at IS NULL
		LIMIT 1
	`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.scanPoolRow(id)
}

// SetPoolTargetLogged sets the pool's target total and logs the action.
func (db *DB) SetPoolTargetLogged(poolID string, target decimal.Decimal) error {
	return db.withWriteLock(func() error {
		p, err := db.scanPoolRow(poolID)
		if err != nil {
			return err
		}
		p.TargetTotal = target
		return db.updatePoolAndLog(p, models.ActionSetBudget)
	})
}

// ListPools returns pools ordered by name.
func (db *DB) ListPools(includeDeleted bool) ([]models.Pool, error) {
	query := `
		SELECT id, name, members, currency, started_on, target_total, note,
		       created_at, updated_at, updated_by, deleted_at
		FROM pools`
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	query += " ORDER BY name COLLATE NOCASE ASC"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []models.Pool
	for rows.Next() {
		var p models.Pool
		var members, target string
		var deletedAt sql.NullTime
		var startedOn, note, updatedBy sql.NullString
		if err := rows.Scan(
			&p.ID, &p.Name, &members, &p.Currency, &startedOn, &target, &note,
			&p.CreatedAt, &p.UpdatedAt, &updatedBy, &deletedAt,
		); err != nil {
			return nil, err
		}
		tt, err := decimal.NewFromString(target)
		if err != nil {
			return nil, fmt.Errorf("pool %s: parse target %q: %w", p.ID, target, err)
		}
		p.TargetTotal = tt
		p.Members = unmarshalMembers(members)
		p.StartedOn = startedOn.String
		p.Note = note.String
		p.UpdatedBy = updatedBy.String
		if deletedAt.Valid {
			p.DeletedAt = &deletedAt.Time
		}
		pools = append(pools, p)
	}

	return pools, rows.Err()
}
