package syncharness

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
)

func TestHistoryRecordsPushesAndPulls(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store

	e := &models.Expense{Amount: decimal.RequireFromString("6.50"), Merchant: "Creperie", SpentOn: "2026-04-17"}
	if err := laptop.CreateExpenseLogged(e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	h.Sync("laptop")
	h.Pull("phone")

	pushes, err := laptop.GetSyncHistoryTail(10)
	if err != nil {
		t.Fatalf("history on laptop: %v", err)
	}
	if len(pushes) != 1 {
		t.Fatalf("laptop history has %d entries, want the one push", len(pushes))
	}
	got := pushes[0]
	if got.Direction != db.HistoryPush || got.ActionType != "create" || got.EntityType != "expenses" {
		t.Errorf("push entry = %s/%s/%s, want push/create/expenses",
			got.Direction, got.ActionType, got.EntityType)
	}
	if got.EntityID != e.ID || got.ServerSeq == 0 {
		t.Errorf("push entry = %s seq %d, want the acked expense with its server seq",
			got.EntityID, got.ServerSeq)
	}

	pulls, err := h.Device("phone").Store.GetSyncHistoryTail(10)
	if err != nil {
		t.Fatalf("history on phone: %v", err)
	}
	if len(pulls) != 1 {
		t.Fatalf("phone history has %d entries, want the one pull", len(pulls))
	}
	if pulls[0].Direction != db.HistoryPull || pulls[0].DeviceID != "laptop" {
		t.Errorf("pull entry = %s from %s, want a pull attributed to the laptop",
			pulls[0].Direction, pulls[0].DeviceID)
	}
}

func TestHistoryNeverAttributesPullsToSelf(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")

	a := &models.Expense{Amount: decimal.RequireFromString("2.20"), Merchant: "Toll", SpentOn: "2026-04-18"}
	if err := h.Device("laptop").Store.CreateExpenseLogged(a); err != nil {
		t.Fatalf("create on laptop: %v", err)
	}
	b := &models.Expense{Amount: decimal.RequireFromString("17.80"), Merchant: "Diner", SpentOn: "2026-04-18"}
	if err := h.Device("phone").Store.CreateExpenseLogged(b); err != nil {
		t.Fatalf("create on phone: %v", err)
	}
	h.Converge()

	// Each device pushed one event and pulled one; neither log may hold a
	// pull row for the device's own echo.
	for _, id := range []string{"laptop", "phone"} {
		entries, err := h.Device(id).Store.GetSyncHistoryTail(20)
		if err != nil {
			t.Fatalf("history on %s: %v", id, err)
		}
		var push, pull int
		for _, entry := range entries {
			switch entry.Direction {
			case db.HistoryPush:
				push++
				if entry.DeviceID != id {
					t.Errorf("%s push entry attributed to %q", id, entry.DeviceID)
				}
			case db.HistoryPull:
				pull++
				if entry.DeviceID == id {
					t.Errorf("%s pull entry attributed to itself", id)
				}
			}
		}
		if push != 1 || pull != 1 {
			t.Errorf("%s history = %d pushes / %d pulls, want 1/1", id, push, pull)
		}
	}
}

func TestMergeEventsShowUpInHistory(t *testing.T) {
	h := NewHarness(t, "laptop", "phone")
	laptop := h.Device("laptop").Store
	phone := h.Device("phone").Store

	p := &models.Pool{Name: "renovation", Members: []string{"elena"}}
	if err := laptop.CreatePoolLogged(p); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	h.Converge()

	lp, err := laptop.GetPool(p.ID)
	if err != nil {
		t.Fatalf("get on laptop: %v", err)
	}
	lp.Members = append(lp.Members, "marco")
	if err := laptop.UpdatePoolLogged(lp, models.ActionAddMember); err != nil {
		t.Fatalf("add on laptop: %v", err)
	}
	pp, err := phone.GetPool(p.ID)
	if err != nil {
		t.Fatalf("get on phone: %v", err)
	}
	pp.Members = append(pp.Members, "ana")
	if err := phone.UpdatePoolLogged(pp, models.ActionAddMember); err != nil {
		t.Fatalf("add on phone: %v", err)
	}

	h.Sync("laptop")
	h.Pull("phone") // blend happens here
	h.Push("phone") // original add plus the blended record
	h.Pull("laptop")

	// The laptop's pull log shows the phone's add and the blend it pushed.
	entries, err := laptop.GetSyncHistoryTail(20)
	if err != nil {
		t.Fatalf("history on laptop: %v", err)
	}
	var pulledFromPhone int
	for _, entry := range entries {
		if entry.Direction == db.HistoryPull && entry.DeviceID == "phone" && entry.EntityID == p.ID {
			pulledFromPhone++
		}
	}
	if pulledFromPhone != 2 {
		t.Errorf("laptop pulled %d pool events from the phone, want the add and the blend", pulledFromPhone)
	}
	h.AssertConverged()
}
