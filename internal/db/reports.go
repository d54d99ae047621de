package db

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

// GetStats returns quick database counts
func (db *DB) GetStats() (map[string]int, error) {
	stats := make(map[string]int)

	var expenses, categories, pools int
	db.conn.QueryRow(`SELECT COUNT(*) FROM expenses WHERE deleted_at IS NULL`).Scan(&expenses)
	db.conn.QueryRow(`SELECT COUNT(*) FROM categories WHERE deleted_at IS NULL`).Scan(&categories)
	db.conn.QueryRow(`SELECT COUNT(*) FROM pools WHERE deleted_at IS NULL`).Scan(&pools)
	stats["expenses"] = expenses
	stats["categories"] = categories
	stats["pools"] = pools

	pending, err := db.CountPendingActions()
	if err != nil {
		return nil, err
	}
	stats["pending_sync"] = int(pending)

	return stats, nil
}

// GetCategoryTotals sums live expense amounts per category over a date range.
// Empty bounds are open-ended. Amounts are summed in Go: SQLite would coerce
// the stored decimal strings to floats.
func (db *DB) GetCategoryTotals(from, to string) (map[string]decimal.Decimal, error) {
	query := `SELECT category_id, amount FROM expenses WHERE deleted_at IS NULL`
	var args []any
	if from != "" {
		query += " AND spent_on >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND spent_on <= ?"
		args = append(args, to)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var categoryID, amount string
		if err := rows.Scan(&categoryID, &amount); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount for category %s: %w", categoryID, err)
		}
		totals[categoryID] = totals[categoryID].Add(d)
	}
	return totals, rows.Err()
}

// GetSpendStats aggregates the expenses matching filter for report displays.
// Budget overage is always computed against the current calendar month,
// regardless of the filter range.
func (db *DB) GetSpendStats(filter ExpenseFilter) (*models.SpendStats, error) {
	filter.IncludeDeleted = false
	expenses, err := db.ListExpenses(filter)
	if err != nil {
		return nil, err
	}

	stats := &models.SpendStats{
		ByCategory: make(map[string]decimal.Decimal),
		ByPool:     make(map[string]decimal.Decimal),
		ByCurrency: make(map[models.Currency]decimal.Decimal),
	}

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(models.DateLayout)

	for i := range expenses {
		e := &expenses[i]
		stats.Total = stats.Total.Add(e.Amount)
		stats.Count++

		stats.ByCategory[e.CategoryID] = stats.ByCategory[e.CategoryID].Add(e.Amount)
		if e.PoolID != "" {
			stats.ByPool[e.PoolID] = stats.ByPool[e.PoolID].Add(e.Amount)
		}
		stats.ByCurrency[e.Currency] = stats.ByCurrency[e.Currency].Add(e.Amount)

		if e.SpentOn >= monthStart {
			stats.ThisMonth = stats.ThisMonth.Add(e.Amount)
		}
		if stats.LargestSpend == nil || e.Amount.GreaterThan(stats.LargestSpend.Amount) {
			stats.LargestSpend = e
		}
	}

	// ListExpenses orders newest first
	if len(expenses) > 0 {
		stats.LatestSpend = &expenses[0]
	}

	over, err := db.categoriesOverBudget(monthStart)
	if err != nil {
		return nil, err
	}
	stats.ThisMonthOver = over

	return stats, nil
}

// categoriesOverBudget returns IDs of categories whose month-to-date spend
// exceeds their monthly budget. Categories without a budget are skipped.
func (db *DB) categoriesOverBudget(monthStart string) ([]string, error) {
	totals, err := db.GetCategoryTotals(monthStart, "")
	if err != nil {
		return nil, err
	}

	categories, err := db.ListCategories(false)
	if err != nil {
		return nil, err
	}

	var over []string
	for i := range categories {
		c := &categories[i]
		if !c.MonthlyBudget.IsPositive() {
			continue
		}
		if totals[c.ID].GreaterThan(c.MonthlyBudget) {
			over = append(over, c.ID)
		}
	}
	sort.Strings(over)
	return over, nil
}

// GetDailyTotals sums live expense amounts per day over a date range,
// returned in ascending date order.
func (db *DB) GetDailyTotals(from, to string) ([]DailyTotal, error) {
	query := `SELECT spent_on, amount FROM expenses WHERE deleted_at IS NULL`
	var args []any
	if from != "" {
		query += " AND spent_on >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND spent_on <= ?"
		args = append(args, to)
	}
	query += " ORDER BY spent_on ASC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := make(map[string]decimal.Decimal)
	var days []string
	for rows.Next() {
		var day, amount string
		if err := rows.Scan(&day, &amount); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount on %s: %w", day, err)
		}
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] = byDay[day].Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totals := make([]DailyTotal, 0, len(days))
	for _, day := range days {
		totals = append(totals, DailyTotal{Date: day, Total: byDay[day]})
	}
	return totals, nil
}

// DailyTotal is one day's spend total.
type DailyTotal struct {
	Date  string
	Total decimal.Decimal
}
