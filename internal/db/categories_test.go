package db

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

func TestCreateCategoryLogged(t *testing.T) {
	database := testDB(t)

	c := &models.Category{Name: "Groceries", Icon: "🛒"}
	if err := database.CreateCategoryLogged(c); err != nil {
		t.Fatalf("CreateCategoryLogged failed: %v", err)
	}
	if !strings.HasPrefix(c.ID, "cat-") {
		t.Errorf("Category ID %q missing cat- prefix", c.ID)
	}

	got, err := database.GetCategory(c.ID)
	if err != nil {
		t.Fatalf("GetCategory failed: %v", err)
	}
	if got.Name != "Groceries" {
		t.Errorf("Name: got %s, want Groceries", got.Name)
	}

	var entityType string
	err = database.conn.QueryRow(
		`SELECT entity_type FROM action_log WHERE entity_id = ?`, c.ID,
	).Scan(&entityType)
	if err != nil {
		t.Fatalf("Query action_log failed: %v", err)
	}
	if entityType != "category" {
		t.Errorf("entity_type: got %s, want category", entityType)
	}
}

func TestCreateCategoryLogged_RejectsDuplicateName(t *testing.T) {
	database := testDB(t)

	if err := database.CreateCategoryLogged(&models.Category{Name: "Food"}); err != nil {
		t.Fatalf("CreateCategoryLogged failed: %v", err)
	}
	err := database.CreateCategoryLogged(&models.Category{Name: "food"})
	if err == nil {
		t.Fatal("Expected error for duplicate name, got nil")
	}
}

func TestCreateCategoryLogged_RequiresName(t *testing.T) {
	database := testDB(t)

	if err := database.CreateCategoryLogged(&models.Category{}); err == nil {
		t.Fatal("Expected error for empty name, got nil")
	}
}

func TestGetCategoryByName_CaseInsensitive(t *testing.T) {
	database := testDB(t)

	c := &models.Category{Name: "Travel"}
	if err := database.CreateCategoryLogged(c); err != nil {
		t.Fatalf("CreateCategoryLogged failed: %v", err)
	}

	got, err := database.GetCategoryByName("TRAVEL")
	if err != nil {
		t.Fatalf("GetCategoryByName failed: %v", err)
	}
	if got == nil || got.ID != c.ID {
		t.Fatalf("GetCategoryByName: got %+v, want id %s", got, c.ID)
	}

	missing, err := database.GetCategoryByName("nope")
	if err != nil {
		t.Fatalf("GetCategoryByName failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown name, got %+v", missing)
	}
}

func TestSetBudgetLogged(t *testing.T) {
	database := testDB(t)

	c := &models.Category{Name: "Dining"}
	if err := database.CreateCategoryLogged(c); err != nil {
		t.Fatalf("CreateCategoryLogged failed: %v", err)
	}

	c.MonthlyBudget = decimal.RequireFromString("250.00")
	if err := database.UpdateCategoryLogged(c, models.ActionSetBudget); err != nil {
		t.Fatalf("UpdateCategoryLogged failed: %v", err)
	}

	got, err := database.GetCategory(c.ID)
	if err != nil {
		t.Fatalf("GetCategory failed: %v", err)
	}
	if !got.MonthlyBudget.Equal(decimal.RequireFromString("250.00")) {
		t.Errorf("MonthlyBudget: got %s, want 250.00", got.MonthlyBudget)
	}

	var actionType string
	err = database.conn.QueryRow(
		`SELECT action_type FROM action_log WHERE entity_id = ? ORDER BY id DESC LIMIT 1`, c.ID,
	).Scan(&actionType)
	if err != nil {
		t.Fatalf("Query action_log failed: %v", err)
	}
	if actionType != "set_budget" {
		t.Errorf("action_type: got %s, want set_budget", actionType)
	}
}

func TestDeleteCategoryLogged_FreesName(t *testing.T) {
	database := testDB(t)

	c := &models.Category{Name: "Hobbies"}
	if err := database.CreateCategoryLogged(c); err != nil {
		t.Fatalf("CreateCategoryLogged failed: %v", err)
	}
	if err := database.DeleteCategoryLogged(c.ID); err != nil {
		t.Fatalf("DeleteCategoryLogged failed: %v", err)
	}

	// The name is only reserved by live categories
	if err := database.CreateCategoryLogged(&models.Category{Name: "Hobbies"}); err != nil {
		t.Fatalf("CreateCategoryLogged after delete failed: %v", err)
	}
}

func TestListCategories_SortedByName(t *testing.T) {
	database := testDB(t)

	for _, name := range []string{"transport", "Books", "dining"} {
		if err := database.CreateCategoryLogged(&models.Category{Name: name}); err != nil {
			t.Fatalf("CreateCategoryLogged(%s) failed: %v", name, err)
		}
	}

	categories, err := database.ListCategories(false)
	if err != nil {
		t.Fatalf("ListCategories failed: %v", err)
	}
	if len(categories) != 3 {
		t.Fatalf("got %d categories, want 3", len(categories))
	}
	want := []string{"Books", "dining", "transport"}
	for i, name := range want {
		if categories[i].Name != name {
			t.Errorf("position %d: got %s, want %s", i, categories[i].Name, name)
		}
	}
}
