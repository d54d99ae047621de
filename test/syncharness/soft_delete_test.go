package syncharness

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

func TestDeleteBeforeFirstPullMaterializesTombstone(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store

	e := &models.Expense{Amount: decimal.RequireFromString("42.50"), Merchant: "Bookshop", SpentOn: "2026-04-08"}
	if err := laptop.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	if err := laptop.DeleteExpenseLogged(e.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}

	// The phone pulls the create and the delete in one batch; it never
	// holds the row live.
	h.Sync("laptop")
	h.Pull("phone")

	got, err := h.Device("phone").Store.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("tombstone row missing on phone: %v", err)
	}
	if !got.Deleted() {
		t.Error("phone row not tombstoned")
	}
	if !got.Amount.Equal(e.Amount) || got.Merchant != "Bookshop" {
		t.Errorf("tombstone fields = %s/%s, want the pre-delete snapshot", got.Amount, got.Merchant)
	}
	h.AssertConverged()
}

func TestRestorePropagates(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store

	e := &models.Expense{Amount: decimal.RequireFromString("19.99"), Merchant: "Hardware", SpentOn: "2026-04-09"}
	if err := laptop.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	if err := laptop.DeleteExpenseLogged(e.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	h.Converge()

	if err := laptop.RestoreExpenseLogged(e.ID); err != nil {
		t.Fatalf("restore expense: %v", err)
	}
	h.Converge()

	got, err := h.Device("phone").Store.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("get on phone: %v", err)
	}
	if got.Deleted() {
		t.Error("phone row still tombstoned after the restore replicated")
	}
	h.AssertConverged()
}

func TestNewerEditOutlivesStaleDelete(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store
	phone := h.Device("phone").Store

	e := &models.Expense{Amount: decimal.RequireFromString("64.00"), Merchant: "Butcher", SpentOn: "2026-04-10"}
	if err := laptop.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	h.Converge()

	// The laptop deletes, then the phone edits without having seen the
	// delete. The edit carries the later marker, so the row stays alive
	// everywhere once both changes circulate.
	if err := laptop.DeleteExpenseLogged(e.ID); err != nil {
		t.Fatalf("delete on laptop: %v", err)
	}

	time.Sleep(editGap)
	pe, err := phone.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("get on phone: %v", err)
	}
	pe.Note = "split with marco"
	if err := phone.UpdateExpenseLogged(pe, models.ActionUpdate); err != nil {
		t.Fatalf("edit on phone: %v", err)
	}

	h.Sync("laptop")
	h.Sync("phone")
	h.Pull("laptop")

	for _, id := range []string{"laptop", "phone"} {
		got, err := h.Device(id).Store.GetExpense(e.ID)
		if err != nil {
			t.Fatalf("get on %s: %v", id, err)
		}
		if got.Deleted() {
			t.Errorf("%s row tombstoned by a delete older than the edit", id)
		}
		if got.Note != "split with marco" {
			t.Errorf("%s note = %q, want the surviving edit", id, got.Note)
		}
	}
	h.AssertConverged()
}

func TestCategoryDeleteAndRecreateElsewhere(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store
	phone := h.Device("phone").Store

	c := &models.Category{Name: "transport"}
	if err := laptop.CreateCategoryLogged(c); err != nil {
		t.Fatalf("create category: %v", err)
	}
	h.Converge()

	if err := phone.DeleteCategoryLogged(c.ID); err != nil {
		t.Fatalf("delete on phone: %v", err)
	}
	h.Converge()

	got, err := laptop.GetCategory(c.ID)
	if err != nil {
		t.Fatalf("get on laptop: %v", err)
	}
	if got.DeletedAt == nil {
		t.Fatal("laptop category not tombstoned")
	}

	// With the old name tombstoned, either device can reuse it; the new
	// row is a distinct identity and replicates like any create.
	c2 := &models.Category{Name: "transport"}
	if err := laptop.CreateCategoryLogged(c2); err != nil {
		t.Fatalf("recreate category: %v", err)
	}
	if c2.ID == c.ID {
		t.Fatal("recreate reused the tombstoned id")
	}
	h.Converge()

	live, err := h.Device("phone").Store.GetCategoryByName("transport")
	if err != nil {
		t.Fatalf("lookup on phone: %v", err)
	}
	if live == nil || live.ID != c2.ID {
		t.Errorf("phone resolves %q to %v, want the recreated category", "transport", live)
	}
	h.AssertConverged()
}
