package cmd

import (
	"strings"
	"testing"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
)

func TestResolveCategory(t *testing.T) {
	database, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer database.Close()

	c := &models.Category{Name: "food"}
	if err := database.CreateCategoryLogged(c); err != nil {
		t.Fatalf("CreateCategoryLogged failed: %v", err)
	}

	t.Run("by name", func(t *testing.T) {
		got, err := resolveCategory(database, "food")
		if err != nil {
			t.Fatalf("resolveCategory failed: %v", err)
		}
		if got.ID != c.ID {
			t.Errorf("resolved wrong category: %s", got.ID)
		}
	})

	t.Run("by id", func(t *testing.T) {
		got, err := resolveCategory(database, c.ID)
		if err != nil {
			t.Fatalf("resolveCategory failed: %v", err)
		}
		if got.Name != "food" {
			t.Errorf("resolved wrong category: %s", got.Name)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := resolveCategory(database, "utilities")
		if err == nil {
			t.Fatal("expected error for unknown category")
		}
		if !strings.Contains(err.Error(), "category not found") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("typo hint", func(t *testing.T) {
		_, err := resolveCategory(database, "fod")
		if err == nil {
			t.Fatal("expected error for unknown category")
		}
		if !strings.Contains(err.Error(), "did you mean: food?") {
			t.Errorf("expected hint in error, got: %v", err)
		}
	})
}
