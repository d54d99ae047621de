package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical storage format for day-precision dates.
// Lexicographic order on these strings matches chronological order.
const DateLayout = "2006-01-02"

// Currency is an ISO 4217 currency code
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
	CurrencyCHF Currency = "CHF"
	CurrencyCAD Currency = "CAD"
	CurrencyAUD Currency = "AUD"
	CurrencySEK Currency = "SEK"
	CurrencyPLN Currency = "PLN"
	CurrencyINR Currency = "INR"
)

// PoolRole represents a member's role in a shared pool
type PoolRole string

const (
	PoolRoleOwner  PoolRole = "owner"
	PoolRoleMember PoolRole = "member"
)

// Expense represents a single spend record
type Expense struct {
	ID         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	CategoryID string          `json:"category_id,omitempty"`
	PoolID     string          `json:"pool_id,omitempty"`
	Merchant   string          `json:"merchant,omitempty"`
	Note       string          `json:"note,omitempty"`
	SpentOn    string          `json:"spent_on"` // DateLayout
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	UpdatedBy  string          `json:"updated_by,omitempty"` // device ID of last writer
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
}

// Category represents a spend category with an optional monthly budget
type Category struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Icon          string          `json:"icon,omitempty"`
	Color         string          `json:"color,omitempty"`
	MonthlyBudget decimal.Decimal `json:"monthly_budget"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	UpdatedBy     string          `json:"updated_by,omitempty"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

// Pool represents a shared expense pool (trip, household, project)
type Pool struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Members     []string        `json:"members,omitempty"` // display names, merged as a set
	Currency    Currency        `json:"currency"`
	StartedOn   string          `json:"started_on,omitempty"` // DateLayout
	TargetTotal decimal.Decimal `json:"target_total"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	UpdatedBy   string          `json:"updated_by,omitempty"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// Config represents the local config state
type Config struct {
	DefaultCurrency string `json:"default_currency,omitempty"`
	ActivePoolID    string `json:"active_pool_id,omitempty"`
}

// ActionType represents the type of action that was performed
type ActionType string

const (
	ActionCreate       ActionType = "create"
	ActionUpdate       ActionType = "update"
	ActionDelete       ActionType = "delete"
	ActionRestore      ActionType = "restore"
	ActionAddMember    ActionType = "add_member"
	ActionRemoveMember ActionType = "remove_member"
	ActionSetBudget    ActionType = "set_budget"
	ActionRecategorize ActionType = "recategorize"
)

// ActionLog represents a logged local change, the unit of replication
type ActionLog struct {
	ID           int64      `json:"id"` // rowid, used as the client action ID on push
	SessionID    string     `json:"session_id"`
	ActionType   ActionType `json:"action_type"`
	EntityType   string     `json:"entity_type"` // expense, category, pool
	EntityID     string     `json:"entity_id"`
	PreviousData string     `json:"previous_data"` // JSON snapshot before action
	NewData      string     `json:"new_data"`      // JSON snapshot after action
	Timestamp    time.Time  `json:"timestamp"`
	Undone       bool       `json:"undone"`
}

// IsValidCurrency checks if a currency code is supported
func IsValidCurrency(c Currency) bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyJPY, CurrencyCHF,
		CurrencyCAD, CurrencyAUD, CurrencySEK, CurrencyPLN, CurrencyINR:
		return true
	}
	return false
}

// NormalizeCurrency converts alternate currency spellings to canonical form
// Accepts lowercase codes and common symbols ($, €, £, ¥)
func NormalizeCurrency(c string) Currency {
	switch strings.TrimSpace(c) {
	case "$":
		return CurrencyUSD
	case "€":
		return CurrencyEUR
	case "£":
		return CurrencyGBP
	case "¥":
		return CurrencyJPY
	default:
		return Currency(strings.ToUpper(strings.TrimSpace(c)))
	}
}

// IsValidPoolRole checks if a pool role is valid
func IsValidPoolRole(r PoolRole) bool {
	switch r {
	case PoolRoleOwner, PoolRoleMember:
		return true
	}
	return false
}

// IsValidDate checks that a date string matches DateLayout exactly
func IsValidDate(s string) bool {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return false
	}
	return t.Format(DateLayout) == s
}

// NormalizeEntityType converts singular/plural entity names to the canonical table name.
// Returns false for entity types that do not replicate.
func NormalizeEntityType(entityType string) (string, bool) {
	switch entityType {
	case "expense", "expenses":
		return "expenses", true
	case "category", "categories":
		return "categories", true
	case "pool", "pools":
		return "pools", true
	default:
		return "", false
	}
}

// Deleted reports whether the expense is soft-deleted.
func (e *Expense) Deleted() bool { return e.DeletedAt != nil }

// Deleted reports whether the category is soft-deleted.
func (c *Category) Deleted() bool { return c.DeletedAt != nil }

// Deleted reports whether the pool is soft-deleted.
func (p *Pool) Deleted() bool { return p.DeletedAt != nil }

// HasMember reports whether name is already in the pool member set.
func (p *Pool) HasMember(name string) bool {
	for _, m := range p.Members {
		if m == name {
			return true
		}
	}
	return false
}

// SpendStats holds aggregate statistics for dashboard and report displays
type SpendStats struct {
	Total      decimal.Decimal
	Count      int
	ByCategory map[string]decimal.Decimal
	ByPool     map[string]decimal.Decimal
	ByCurrency map[Currency]decimal.Decimal

	ThisMonth     decimal.Decimal
	ThisMonthOver []string // category IDs over their monthly budget
	LargestSpend  *Expense
	LatestSpend   *Expense
}
