package syncharness

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

// Undo never rewrites history: it applies the inverse of the last action
// as a regular logged change and flags the original as undone. These
// scenarios check that the inverse replicates like any other change, on
// both sides of the sync boundary.

func TestUndoSyncedCreatePropagatesAsDelete(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store

	e := &models.Expense{Amount: decimal.RequireFromString("55.00"), Merchant: "Florist", SpentOn: "2026-04-11"}
	if err := laptop.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	h.Converge()

	action, err := laptop.GetLastAction()
	if err != nil || action == nil {
		t.Fatalf("last action: %v %+v", err, action)
	}
	if action.ActionType != models.ActionCreate {
		t.Fatalf("last action = %s, want the create", action.ActionType)
	}
	if err := laptop.DeleteExpenseLogged(action.EntityID); err != nil {
		t.Fatalf("apply inverse: %v", err)
	}
	if err := laptop.MarkActionUndone(action.ID); err != nil {
		t.Fatalf("mark undone: %v", err)
	}

	h.Converge()

	got, err := h.Device("phone").Store.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("get on phone: %v", err)
	}
	if !got.Deleted() {
		t.Error("phone still holds the undone expense live")
	}
	h.AssertConverged()
}

func TestUndoBeforeSyncStillConverges(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store

	e := &models.Expense{Amount: decimal.RequireFromString("4.10"), Merchant: "Stand", SpentOn: "2026-04-12"}
	if err := laptop.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	// Undone before anything was pushed: the create never leaves the
	// device, only the compensating delete does. The phone has to build
	// the tombstone from the delete's snapshot alone.
	action, err := laptop.GetLastAction()
	if err != nil || action == nil {
		t.Fatalf("last action: %v %+v", err, action)
	}
	if err := laptop.DeleteExpenseLogged(action.EntityID); err != nil {
		t.Fatalf("apply inverse: %v", err)
	}
	if err := laptop.MarkActionUndone(action.ID); err != nil {
		t.Fatalf("mark undone: %v", err)
	}

	if n := h.Push("laptop"); n != 1 {
		t.Fatalf("laptop pushed %d events, want only the delete", n)
	}
	h.Pull("phone")

	got, err := h.Device("phone").Store.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("tombstone missing on phone: %v", err)
	}
	if !got.Deleted() {
		t.Error("phone row not tombstoned")
	}
	if got.Merchant != "Stand" {
		t.Errorf("merchant = %q, want fields carried by the delete snapshot", got.Merchant)
	}
	h.AssertConverged()
}

func TestUndoEditRestoresPreviousFieldsEverywhere(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store

	e := &models.Expense{Amount: decimal.RequireFromString("30.00"), Merchant: "Bakery", SpentOn: "2026-04-13"}
	if err := laptop.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	h.Converge()

	e.Amount = decimal.RequireFromString("99.00")
	if err := laptop.UpdateExpenseLogged(e, models.ActionUpdate); err != nil {
		t.Fatalf("edit expense: %v", err)
	}
	h.Converge()

	action, err := laptop.GetLastAction()
	if err != nil || action == nil {
		t.Fatalf("last action: %v %+v", err, action)
	}
	var prev models.Expense
	if err := json.Unmarshal([]byte(action.PreviousData), &prev); err != nil {
		t.Fatalf("decode previous snapshot: %v", err)
	}
	if err := laptop.UpdateExpenseLogged(&prev, models.ActionUpdate); err != nil {
		t.Fatalf("apply inverse: %v", err)
	}
	if err := laptop.MarkActionUndone(action.ID); err != nil {
		t.Fatalf("mark undone: %v", err)
	}
	h.Converge()

	for _, id := range []string{"laptop", "phone"} {
		got, err := h.Device(id).Store.GetExpense(e.ID)
		if err != nil {
			t.Fatalf("get on %s: %v", id, err)
		}
		if !got.Amount.Equal(decimal.RequireFromString("30.00")) {
			t.Errorf("%s amount = %s, want the pre-edit value back", id, got.Amount)
		}
	}
	h.AssertConverged()
}

func TestUndoDeletePropagatesAsRestore(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	phone := h.Device("phone").Store

	e := &models.Expense{Amount: decimal.RequireFromString("22.00"), Merchant: "Cinema", SpentOn: "2026-04-14"}
	if err := h.Device("laptop").Store.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	h.Converge()

	// Delete on the phone, undo on the phone, and the laptop only ever
	// sees the pair of events.
	if err := phone.DeleteExpenseLogged(e.ID); err != nil {
		t.Fatalf("delete on phone: %v", err)
	}
	action, err := phone.GetLastAction()
	if err != nil || action == nil {
		t.Fatalf("last action: %v %+v", err, action)
	}
	if err := phone.RestoreExpenseLogged(action.EntityID); err != nil {
		t.Fatalf("apply inverse: %v", err)
	}
	if err := phone.MarkActionUndone(action.ID); err != nil {
		t.Fatalf("mark undone: %v", err)
	}
	h.Converge()

	got, err := h.Device("laptop").Store.GetExpense(e.ID)
	if err != nil {
		t.Fatalf("get on laptop: %v", err)
	}
	if got.Deleted() {
		t.Error("laptop row tombstoned although the delete was undone")
	}
	h.AssertConverged()
}
