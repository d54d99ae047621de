package cmd

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

func TestMonthBounds(t *testing.T) {
	tests := []struct {
		month    string
		wantFrom string
		wantTo   string
	}{
		{"2026-02", "2026-02-01", "2026-02-28"},
		{"2024-02", "2024-02-01", "2024-02-29"}, // leap year
		{"2026-12", "2026-12-01", "2026-12-31"},
		{"2026-04", "2026-04-01", "2026-04-30"},
	}

	for _, tt := range tests {
		t.Run(tt.month, func(t *testing.T) {
			from, to, err := monthBounds(tt.month)
			if err != nil {
				t.Fatalf("monthBounds(%q) error: %v", tt.month, err)
			}
			if from != tt.wantFrom || to != tt.wantTo {
				t.Errorf("monthBounds(%q) = %q..%q, want %q..%q", tt.month, from, to, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestMonthBoundsThisAndLast(t *testing.T) {
	now := time.Now()

	from, to, err := monthBounds("this")
	if err != nil {
		t.Fatalf("monthBounds(this) error: %v", err)
	}
	wantStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local)
	if from != wantStart.Format(models.DateLayout) {
		t.Errorf("this month from = %q, want %q", from, wantStart.Format(models.DateLayout))
	}
	if to != wantStart.AddDate(0, 1, 0).AddDate(0, 0, -1).Format(models.DateLayout) {
		t.Errorf("this month to = %q", to)
	}

	from, _, err = monthBounds("last")
	if err != nil {
		t.Fatalf("monthBounds(last) error: %v", err)
	}
	wantStart = wantStart.AddDate(0, -1, 0)
	if from != wantStart.Format(models.DateLayout) {
		t.Errorf("last month from = %q, want %q", from, wantStart.Format(models.DateLayout))
	}
}

func TestMonthBoundsInvalid(t *testing.T) {
	for _, month := range []string{"2026-13", "feb", "2026", "02-2026"} {
		if _, _, err := monthBounds(month); err == nil {
			t.Errorf("monthBounds(%q) should fail", month)
		}
	}
}

func TestSumByCurrency(t *testing.T) {
	expenses := []models.Expense{
		{Amount: decimal.RequireFromString("10.50"), Currency: models.CurrencyUSD},
		{Amount: decimal.RequireFromString("2.25"), Currency: models.CurrencyUSD},
		{Amount: decimal.RequireFromString("5.00"), Currency: models.CurrencyEUR},
	}

	got := sumByCurrency(expenses)
	want := "12.75 USD + 5.00 EUR"
	if got != want {
		t.Errorf("sumByCurrency() = %q, want %q", got, want)
	}
}

func TestSumByCurrencySkipsDeleted(t *testing.T) {
	now := time.Now()
	expenses := []models.Expense{
		{Amount: decimal.RequireFromString("10.00"), Currency: models.CurrencyUSD},
		{Amount: decimal.RequireFromString("99.00"), Currency: models.CurrencyUSD, DeletedAt: &now},
	}

	got := sumByCurrency(expenses)
	if got != "10.00 USD" {
		t.Errorf("sumByCurrency() = %q, want %q", got, "10.00 USD")
	}
}

func TestSumByCurrencyEmpty(t *testing.T) {
	if got := sumByCurrency(nil); got != "0.00" {
		t.Errorf("sumByCurrency(nil) = %q, want %q", got, "0.00")
	}
}
