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

func marshalCategory(c *models.Category) string {
	data, _ := json.Marshal(c)
	return string(data)
}

func (db *DB) scanCategoryRow(id string) (*models.Category, error) {
	var c models.Category
	var budget string
	var deletedAt sql.NullTime
	var icon, color, note, updatedBy sql.NullString

	err := db.conn.QueryRow(`
		SELECT id, name, icon, color, monthly_budget, note,
		       created_at, updated_at, updated_by, deleted_at
		FROM categories WHERE id = ?
	`, id).Scan(
		&c.ID, &c.Name, &icon, &color, &budget, &note,
		&c.CreatedAt, &c.UpdatedAt, &updatedBy, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	b, err := decimal.NewFromString(budget)
	if err != nil {
		return nil, fmt.Errorf("category %s: parse budget %q: %w", id, budget, err)
	}
	c.MonthlyBudget = b
	c.Icon = icon.String
	c.Color = color.String
	c.Note = note.String
	c.UpdatedBy = updatedBy.String
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}

	return &c, nil
}

// CreateCategoryLogged creates a category and logs the action atomically.
// Rejects a duplicate live name; the check is advisory, not a constraint,
// so replicated rows from other devices always apply.
func (db *DB) CreateCategoryLogged(c *models.Category) error {
	return db.withWriteLock(func() error {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("category name is required")
		}

		existing, err := db.GetCategoryByName(c.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("category %q already exists (%s)", existing.Name, existing.ID)
		}

		now := time.Now()
		c.CreatedAt = now
		c.UpdatedAt = now
		c.UpdatedBy = db.deviceID

		const maxRetries = 3
		for attempt := range maxRetries {
			id, err := generateCategoryID()
			if err != nil {
				return err
			}
			c.ID = id

			_, err = db.conn.Exec(`
				INSERT INTO categories (id, name, icon, color, monthly_budget, note, created_at, updated_at, updated_by)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, c.ID, c.Name, c.Icon, c.Color, c.MonthlyBudget.String(), c.Note, c.CreatedAt, c.UpdatedAt, c.UpdatedBy)

			if err == nil {
				break
			}
			if !strings.Contains(err.Error(), "UNIQUE constraint") {
				return err
			}
			if attempt == maxRetries-1 {
				return fmt.Errorf("failed to generate unique category ID after %d attempts", maxRetries)
			}
		}

		return db.recordAction(models.ActionCreate, "category", c.ID, "", marshalCategory(c), now)
	})
}

// UpdateCategoryLogged updates a category and logs the action atomically.
func (db *DB) UpdateCategoryLogged(c *models.Category, actionType models.ActionType) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanCategoryRow(c.ID)
		if err != nil {
			return err
		}
		previousData := marshalCategory(prev)

		c.UpdatedAt = time.Now()
		c.UpdatedBy = db.deviceID

		_, err = db.conn.Exec(`
			UPDATE categories SET name = ?, icon = ?, color = ?, monthly_budget = ?,
			                      note = ?, updated_at = ?, updated_by = ?, deleted_at = ?
			WHERE id = ?
		`, c.Name, c.Icon, c.Color, c.MonthlyBudget.String(),
			c.Note, c.UpdatedAt, c.UpdatedBy, c.DeletedAt, c.ID)
		if err != nil {
			return err
		}

		return db.recordAction(actionType, "category", c.ID, previousData, marshalCategory(c), c.UpdatedAt)
	})
}

// DeleteCategoryLogged soft-deletes a category and logs the action atomically.
// Expenses keep their category_id; display falls back to the raw ID.
func (db *DB) DeleteCategoryLogged(categoryID string) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanCategoryRow(categoryID)
		if err != nil {
			return err
		}
		previousData := marshalCategory(prev)

		now := time.Now()
		_, err = db.conn.Exec(`UPDATE categories SET deleted_at = ?, updated_at = ?, updated_by = ? WHERE id = ?`,
			now, now, db.deviceID, categoryID)
		if err != nil {
			return err
		}

		return db.recordAction(models.ActionDelete, "category", categoryID, previousData, "", now)
	})
}

// RestoreCategoryLogged restores a soft-deleted category and logs the action.
func (db *DB) RestoreCategoryLogged(categoryID string) error {
	return db.withWriteLock(func() error {
		prev, err := db.scanCategoryRow(categoryID)
		if err != nil {
			return err
		}
		previousData := marshalCategory(prev)

		now := time.Now()
		_, err = db.conn.Exec(`UPDATE categories SET deleted_at = NULL, updated_at = ?, updated_by = ? WHERE id = ?`,
			now, db.deviceID, categoryID)
		if err != nil {
			return err
		}

		restored, err := db.scanCategoryRow(categoryID)
		if err != nil {
			return err
		}

		return db.recordAction(models.ActionRestore, "category", categoryID, previousData, marshalCategory(restored), now)
	})
}

// GetCategory retrieves a category by ID.
func (db *DB) GetCategory(id string) (*models.Category, error) {
	return db.scanCategoryRow(id)
}

// GetCategoryByName finds a live category by name, case-insensitive.
// Returns nil when no match exists.
func (db *DB) GetCategoryByName(name string) (*models.Category, error) {
	var id string
	err := db.conn.QueryRow(`
		SELECT id FROM categories
		WHERE name = ? COLLATE NOCASE AND deleted_at IS NULL
		LIMIT 1
	`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.scanCategoryRow(id)
}

// ListCategories returns categories ordered by name.
func (db *DB) ListCategories(includeDeleted bool) ([]models.Category, error) {
	query := `
		SELECT id, name, icon, color, monthly_budget, note,
		       created_at, updated_at, updated_by, deleted_at
		FROM categories`
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	query += " ORDER BY name COLLATE NOCASE ASC"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		var budget string
		var deletedAt sql.NullTime
		var icon, color, note, updatedBy sql.NullString
		if err := rows.Scan(
			&c.ID, &c.Name, &icon, &color, &budget, &note,
			&c.CreatedAt, &c.UpdatedAt, &updatedBy, &deletedAt,
		); err != nil {
			return nil, err
		}
		b, err := decimal.NewFromString(budget)
		if err != nil {
			return nil, fmt.Errorf("category %s: parse budget %q: %w", c.ID, budget, err)
		}
		c.MonthlyBudget = b
		c.Icon = icon.String
		c.Color = color.String
		c.Note = note.String
		c.UpdatedBy = updatedBy.String
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}
		categories = append(categories, c)
	}

	return categories, rows.Err()
}
