package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elena/xp/internal/models"
	"github.com/shopspring/decimal"
)

// marshalExpense returns a JSON representation of an expense for action_log storage.
func marshalExpense(e *models.Expense) string {
	data, _ := json.Marshal(e)
	return string(data)
}

// scanExpenseRow reads a full expense row. Uses the same column set as GetExpense.
func (db *DB) scanExpenseRow(id string) (*models.Expense, error) {
	var e models.Expense
	var amount string
	var deletedAt sql.NullTime
	var categoryID, poolID, merchant, note, updatedBy sql.NullString

	err := db.conn.QueryRow(`
		SELECT id, amount, currency, category_id, pool_id, merchant, note, spent_on,
		       created_at, updated_at, updated_by, deleted_at
		FROM expenses WHERE id = ?
	`, id).Scan(
		&e.ID, &amount, &e.Currency, &categoryID, &poolID, &merchant, &note, &e.SpentOn,
		&e.CreatedAt, &e.UpdatedAt, &updatedBy, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("expense not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("expense %s: parse amount %q: %w", id, amount, err)
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

	return &e, nil
}

// CreateExpenseLogged creates an expense and logs the action atomically within
// a single withWriteLock call.
func (db *DB) CreateExpenseLogged(e *models.Expense) error {
	return db.withWriteLock(func() error {
		if e.Currency == "" {
			e.Currency = models.CurrencyUSD
		}
		if e.SpentOn == "" {
			e.SpentOn = time.Now().Format(models.DateLayout)
		}

		now := time.Now()
		e.CreatedAt = now
		e.UpdatedAt = now
		e.UpdatedBy = db.deviceID

		const maxRetries = 3
		for attempt := range maxRetries {
			id, err := generateExpenseID()
			if err != nil {
				return err
			}
			e.ID = id

			_, err = db.conn.Exec(`
				INSERT INTO expenses (id, amount, currency, category_id, pool_id, merchant, note, spent_on, created_at, updated_at, updated_by)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, e.ID, e.Amount.String(), e.Currency, e.CategoryID, e.PoolID, e.Merchant, e.Note, e.SpentOn, e.CreatedAt, e.UpdatedAt, e.UpdatedBy)

			if err == nil {
				break
			}
			if !strings.Contains(err.Error(), "UNIQUE constraint") {
				return err
			}
			if attempt == maxRetries-1 {
				return fmt.Errorf("failed to generate unique expense ID after %d attempts", maxRetries)
			}
		}

		return db.recordAction(models.ActionCreate, "expense", e.ID, "", marshalExpense(e), now)
	})
}

// UpdateExpenseLogged updates an expense and logs the action atomically.
// It reads the current DB state for PreviousData before applying the update.
func (db *DB) UpdateExpenseLogged(e *models.Expense, actionType models.ActionType) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanExpenseRow(e.ID)
		if err != nil {
			return err
		}
		previousData := marshalExpense(prev)

		e.UpdatedAt = time.Now()
		e.UpdatedBy = db.deviceID

		_, err = db.conn.Exec(`
			UPDATE expenses SET amount = ?, currency = ?, category_id = ?, pool_id = ?,
			                    merchant = ?, note = ?, spent_on = ?, updated_at = ?,
			                    updated_by = ?, deleted_at = ?
			WHERE id = ?
		`, e.Amount.String(), e.Currency, e.CategoryID, e.PoolID,
			e.Merchant, e.Note, e.SpentOn, e.UpdatedAt,
			e.UpdatedBy, e.DeletedAt, e.ID)
		if err != nil {
			return err
		}

		return db.recordAction(actionType, "expense", e.ID, previousData, marshalExpense(e), e.UpdatedAt)
	})
}

// DeleteExpenseLogged soft-deletes an expense and logs the action atomically.
func (db *DB) DeleteExpenseLogged(expenseID string) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanExpenseRow(expenseID)
		if err != nil {
			return err
		}
		previousData := marshalExpense(prev)

		now := time.Now()
		_, err = db.conn.Exec(`UPDATE expenses SET deleted_at = ?, updated_at = ?, updated_by = ? WHERE id = ?`,
			now, now, db.deviceID, expenseID)
		if err != nil {
			return err
		}

		return db.recordAction(models.ActionDelete, "expense", expenseID, previousData, "", now)
	})
}

// RestoreExpenseLogged restores a soft-deleted expense and logs the action.
func (db *DB) RestoreExpenseLogged(expenseID string) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanExpenseRow(expenseID)
		if err != nil {
			return err
		}
		previousData := marshalExpense(prev)

		now := time.Now()
		_, err = db.conn.Exec(`UPDATE expenses SET deleted_at = NULL, updated_at = ?, updated_by = ? WHERE id = ?`,
			now, db.deviceID, expenseID)
		if err != nil {
			return err
		}

		restored, err := db.scanExpenseRow(expenseID)
		if err != nil {
			return err
		}

		return db.recordAction(models.ActionRestore, "expense", expenseID, previousData, marshalExpense(restored), now)
	})
}

// GetExpense retrieves an expense by ID.
// Accepts bare IDs without the xp- prefix (e.g., "a1b2c3d4" becomes "xp-a1b2c3d4").
func (db *DB) GetExpense(id string) (*models.Expense, error) {
	return db.scanExpenseRow(NormalizeExpenseID(id))
}

// ExpenseFilter narrows ListExpenses results. Zero values mean "no filter".
type ExpenseFilter struct {
	From           string // inclusive, YYYY-MM-DD
	To             string // inclusive, YYYY-MM-DD
	CategoryID     string
	PoolID         string
	IncludeDeleted bool
	Limit          int
}

// ListExpenses returns expenses matching the filter, newest spend date first.
func (db *DB) ListExpenses(filter ExpenseFilter) ([]models.Expense, error) {
	var conds []string
	var args []any

	if !filter.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if filter.From != "" {
		conds = append(conds, "spent_on >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conds = append(conds, "spent_on <= ?")
		args = append(args, filter.To)
	}
	if filter.CategoryID != "" {
		conds = append(conds, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.PoolID != "" {
		conds = append(conds, "pool_id = ?")
		args = append(args, filter.PoolID)
	}

	query := `
		SELECT id, amount, currency, category_id, pool_id, merchant, note, spent_on,
		       created_at, updated_at, updated_by, deleted_at
		FROM expenses`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY spent_on DESC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []models.Expense
	for rows.Next() {
		var e models.Expense
		var amount string
		var deletedAt sql.NullTime
		var categoryID, poolID, merchant, note, updatedBy sql.NullString
		if err := rows.Scan(
			&e.ID, &amount, &e.Currency, &categoryID, &poolID, &merchant, &note, &e.SpentOn,
			&e.CreatedAt, &e.UpdatedAt, &updatedBy, &deletedAt,
		); err != nil {
			return nil, err
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("expense %s: parse amount %q: %w", e.ID, amount, err)
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
		expenses = append(expenses, e)
	}

	return expenses, rows.Err()
}
