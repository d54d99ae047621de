package db

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	database, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	database.SetDeviceID("dev-test")
	return database
}

func TestCreateExpenseLogged(t *testing.T) {
	database := testDB(t)

	e := &models.Expense{
		Amount:   decimal.RequireFromString("12.50"),
		Merchant: "Blue Bottle",
		SpentOn:  "2026-02-10",
	}
	if err := database.CreateExpenseLogged(e); err != nil {
		t.Fatalf("CreateExpenseLogged failed: %v", err)
	}

	if e.ID == "" {
		t.Fatal("Expense ID not set")
	}
	if !strings.HasPrefix(e.ID, "xp-") {
		t.Errorf("Expense ID %q missing xp- prefix", e.ID)
	}
	if e.Currency != models.CurrencyUSD {
		t.Errorf("Currency: got %s, want USD default", e.Currency)
	}
	if e.UpdatedBy != "dev-test" {
		t.Errorf("UpdatedBy: got %s, want dev-test", e.UpdatedBy)
	}

	got, err := database.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("GetExpense failed: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("Amount: got %s, want 12.50", got.Amount)
	}
	if got.Merchant != "Blue Bottle" {
		t.Errorf("Merchant: got %s, want Blue Bottle", got.Merchant)
	}

	// Verify action_log entry
	var actionType, entityType, previousData, newData, sessionID string
	err = database.conn.QueryRow(
		`SELECT action_type, entity_type, previous_data, new_data, session_id FROM action_log WHERE entity_id = ?`,
		e.ID,
	).Scan(&actionType, &entityType, &previousData, &newData, &sessionID)
	if err != nil {
		t.Fatalf("Query action_log failed: %v", err)
	}
	if actionType != "create" {
		t.Errorf("action_type: got %s, want create", actionType)
	}
	if entityType != "expense" {
		t.Errorf("entity_type: got %s, want expense", entityType)
	}
	if previousData != "" {
		t.Errorf("previous_data should be empty for create, got %s", previousData)
	}
	if sessionID != database.Generation() {
		t.Errorf("session_id: got %s, want store generation %s", sessionID, database.Generation())
	}

	var logged models.Expense
	if err := json.Unmarshal([]byte(newData), &logged); err != nil {
		t.Fatalf("Unmarshal new_data: %v", err)
	}
	if logged.ID != e.ID {
		t.Errorf("new_data id: got %s, want %s", logged.ID, e.ID)
	}
	if !logged.Amount.Equal(e.Amount) {
		t.Errorf("new_data amount: got %s, want %s", logged.Amount, e.Amount)
	}
}

func TestCreateExpenseLogged_DefaultsSpentOnToday(t *testing.T) {
	database := testDB(t)

	e := &models.Expense{Amount: decimal.RequireFromString("3")}
	if err := database.CreateExpenseLogged(e); err != nil {
		t.Fatalf("CreateExpenseLogged failed: %v", err)
	}

	today := time.Now().Format(models.DateLayout)
	if e.SpentOn != today {
		t.Errorf("SpentOn: got %s, want %s", e.SpentOn, today)
	}
}

func TestUpdateExpenseLogged(t *testing.T) {
	database := testDB(t)

	e := &models.Expense{
		Amount:  decimal.RequireFromString("20"),
		SpentOn: "2026-02-10",
		Note:    "before",
	}
	if err := database.CreateExpenseLogged(e); err != nil {
		t.Fatalf("CreateExpenseLogged failed: %v", err)
	}

	e.Amount = decimal.RequireFromString("25.75")
	e.Note = "after"
	if err := database.UpdateExpenseLogged(e, models.ActionUpdate); err != nil {
		t.Fatalf("UpdateExpenseLogged failed: %v", err)
	}

	got, err := database.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("GetExpense failed: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("25.75")) {
		t.Errorf("Amount: got %s, want 25.75", got.Amount)
	}
	if got.Note != "after" {
		t.Errorf("Note: got %s, want after", got.Note)
	}

	var actionType, previousData, newData string
	err = database.conn.QueryRow(
		`SELECT action_type, previous_data, new_data FROM action_log WHERE entity_id = ? AND action_type = 'update'`,
		e.ID,
	).Scan(&actionType, &previousData, &newData)
	if err != nil {
		t.Fatalf("Query action_log failed: %v", err)
	}

	var prev models.Expense
	if err := json.Unmarshal([]byte(previousData), &prev); err != nil {
		t.Fatalf("Unmarshal previous_data: %v", err)
	}
	if prev.Note != "before" {
		t.Errorf("previous_data note: got %s, want before", prev.Note)
	}
	if !prev.Amount.Equal(decimal.RequireFromString("20")) {
		t.Errorf("previous_data amount: got %s, want 20", prev.Amount)
	}

	var after models.Expense
	if err := json.Unmarshal([]byte(newData), &after); err != nil {
		t.Fatalf("Unmarshal new_data: %v", err)
	}
	if after.Note != "after" {
		t.Errorf("new_data note: got %s, want after", after.Note)
	}
}

func TestDeleteAndRestoreExpenseLogged(t *testing.T) {
	database := testDB(t)

	e := &models.Expense{Amount: decimal.RequireFromString("9.99"), SpentOn: "2026-02-10"}
	if err := database.CreateExpenseLogged(e); err != nil {
		t.Fatalf("CreateExpenseLogged failed: %v", err)
	}

	if err := database.DeleteExpenseLogged(e.ID); err != nil {
		t.Fatalf("DeleteExpenseLogged failed: %v", err)
	}

	got, err := database.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("GetExpense failed: %v", err)
	}
	if got.DeletedAt == nil {
		t.Fatal("DeletedAt should be set after soft delete")
	}

	var newData string
	err = database.conn.QueryRow(
		`SELECT new_data FROM action_log WHERE entity_id = ? AND action_type = 'delete'`, e.ID,
	).Scan(&newData)
	if err != nil {
		t.Fatalf("Query action_log failed: %v", err)
	}
	if newData != "" {
		t.Errorf("new_data should be empty for delete, got %s", newData)
	}

	if err := database.RestoreExpenseLogged(e.ID); err != nil {
		t.Fatalf("RestoreExpenseLogged failed: %v", err)
	}

	got, err = database.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("GetExpense failed: %v", err)
	}
	if got.DeletedAt != nil {
		t.Error("DeletedAt should be cleared after restore")
	}

	var restoreData string
	err = database.conn.QueryRow(
		`SELECT new_data FROM action_log WHERE entity_id = ? AND action_type = 'restore'`, e.ID,
	).Scan(&restoreData)
	if err != nil {
		t.Fatalf("Query restore action failed: %v", err)
	}
	var restored models.Expense
	if err := json.Unmarshal([]byte(restoreData), &restored); err != nil {
		t.Fatalf("Unmarshal restore new_data: %v", err)
	}
	if restored.DeletedAt != nil {
		t.Error("restore new_data should carry a live entity")
	}
}

func TestGetExpense_BareID(t *testing.T) {
	database := testDB(t)

	e := &models.Expense{Amount: decimal.RequireFromString("5"), SpentOn: "2026-02-10"}
	if err := database.CreateExpenseLogged(e); err != nil {
		t.Fatalf("CreateExpenseLogged failed: %v", err)
	}

	bare := strings.TrimPrefix(e.ID, "xp-")
	got, err := database.GetExpense(bare)
	if err != nil {
		t.Fatalf("GetExpense with bare ID failed: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("got %s, want %s", got.ID, e.ID)
	}
}

func TestUpdateExpenseLogged_NotFound(t *testing.T) {
	database := testDB(t)

	e := &models.Expense{ID: "xp-missing", Amount: decimal.RequireFromString("1")}
	if err := database.UpdateExpenseLogged(e, models.ActionUpdate); err == nil {
		t.Fatal("Expected error for non-existent expense, got nil")
	}
}

func TestListExpenses_Filters(t *testing.T) {
	database := testDB(t)

	mk := func(amount, spentOn, categoryID string) *models.Expense {
		t.Helper()
		e := &models.Expense{
			Amount:     decimal.RequireFromString(amount),
			SpentOn:    spentOn,
			CategoryID: categoryID,
		}
		if err := database.CreateExpenseLogged(e); err != nil {
			t.Fatalf("CreateExpenseLogged failed: %v", err)
		}
		return e
	}

	mk("10", "2026-02-01", "cat-food")
	mid := mk("20", "2026-02-10", "cat-food")
	newest := mk("30", "2026-02-20", "cat-travel")

	all, err := database.ListExpenses(ExpenseFilter{})
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d expenses, want 3", len(all))
	}
	if all[0].ID != newest.ID {
		t.Errorf("expected newest spend first, got %s", all[0].ID)
	}

	ranged, err := database.ListExpenses(ExpenseFilter{From: "2026-02-05", To: "2026-02-15"})
	if err != nil {
		t.Fatalf("ListExpenses range failed: %v", err)
	}
	if len(ranged) != 1 || ranged[0].ID != mid.ID {
		t.Errorf("range filter: got %d rows, want just %s", len(ranged), mid.ID)
	}

	byCat, err := database.ListExpenses(ExpenseFilter{CategoryID: "cat-food"})
	if err != nil {
		t.Fatalf("ListExpenses category failed: %v", err)
	}
	if len(byCat) != 2 {
		t.Errorf("category filter: got %d rows, want 2", len(byCat))
	}

	limited, err := database.ListExpenses(ExpenseFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListExpenses limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit filter: got %d rows, want 2", len(limited))
	}

	if err := database.DeleteExpenseLogged(mid.ID); err != nil {
		t.Fatalf("DeleteExpenseLogged failed: %v", err)
	}
	live, err := database.ListExpenses(ExpenseFilter{})
	if err != nil {
		t.Fatalf("ListExpenses after delete failed: %v", err)
	}
	if len(live) != 2 {
		t.Errorf("after delete: got %d live rows, want 2", len(live))
	}
	withDeleted, err := database.ListExpenses(ExpenseFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("ListExpenses with deleted failed: %v", err)
	}
	if len(withDeleted) != 3 {
		t.Errorf("with deleted: got %d rows, want 3", len(withDeleted))
	}
}

func TestAmountRoundTripsExactly(t *testing.T) {
	database := testDB(t)

	// Values that lose precision through float64
	for _, s := range []string{"0.1", "19.99", "123456789.01", "0.005"} {
		e := &models.Expense{Amount: decimal.RequireFromString(s), SpentOn: "2026-02-10"}
		if err := database.CreateExpenseLogged(e); err != nil {
			t.Fatalf("CreateExpenseLogged(%s) failed: %v", s, err)
		}
		got, err := database.GetExpense(e.ID)
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		if got.Amount.String() != s {
			t.Errorf("amount %s round-tripped to %s", s, got.Amount.String())
		}
	}
}
