package db

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

func TestCreatePoolLogged(t *testing.T) {
	database := testDB(t)

	p := &models.Pool{Name: "Lisbon Trip", Members: []string{"elena", "sam"}, StartedOn: "2026-02-01"}
	if err := database.CreatePoolLogged(p); err != nil {
		t.Fatalf("CreatePoolLogged failed: %v", err)
	}
	if !strings.HasPrefix(p.ID, "pl-") {
		t.Errorf("Pool ID %q missing pl- prefix", p.ID)
	}
	if p.Currency != models.CurrencyUSD {
		t.Errorf("Currency: got %s, want USD default", p.Currency)
	}

	got, err := database.GetPool(p.ID)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if len(got.Members) != 2 {
		t.Fatalf("Members: got %v, want 2 entries", got.Members)
	}
	// Members are stored sorted
	if got.Members[0] != "elena" || got.Members[1] != "sam" {
		t.Errorf("Members: got %v, want [elena sam]", got.Members)
	}
}

func TestAddPoolMemberLogged(t *testing.T) {
	database := testDB(t)

	p := &models.Pool{Name: "Flat"}
	if err := database.CreatePoolLogged(p); err != nil {
		t.Fatalf("CreatePoolLogged failed: %v", err)
	}

	if err := database.AddPoolMemberLogged(p.ID, "jo"); err != nil {
		t.Fatalf("AddPoolMemberLogged failed: %v", err)
	}

	got, err := database.GetPool(p.ID)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if !got.HasMember("jo") {
		t.Errorf("Members: got %v, want jo present", got.Members)
	}

	var actionType string
	err = database.conn.QueryRow(
		`SELECT action_type FROM action_log WHERE entity_id = ? ORDER BY id DESC LIMIT 1`, p.ID,
	).Scan(&actionType)
	if err != nil {
		t.Fatalf("Query action_log failed: %v", err)
	}
	if actionType != "add_member" {
		t.Errorf("action_type: got %s, want add_member", actionType)
	}
}

func TestAddPoolMemberLogged_DuplicateIsNoop(t *testing.T) {
	database := testDB(t)

	p := &models.Pool{Name: "Flat", Members: []string{"jo"}}
	if err := database.CreatePoolLogged(p); err != nil {
		t.Fatalf("CreatePoolLogged failed: %v", err)
	}

	before, err := database.CountActions()
	if err != nil {
		t.Fatalf("CountActions failed: %v", err)
	}

	if err := database.AddPoolMemberLogged(p.ID, "jo"); err != nil {
		t.Fatalf("AddPoolMemberLogged failed: %v", err)
	}

	after, err := database.CountActions()
	if err != nil {
		t.Fatalf("CountActions failed: %v", err)
	}
	if after != before {
		t.Errorf("duplicate add logged an action: %d -> %d", before, after)
	}

	got, _ := database.GetPool(p.ID)
	if len(got.Members) != 1 {
		t.Errorf("Members: got %v, want single jo", got.Members)
	}
}

func TestRemovePoolMemberLogged(t *testing.T) {
	database := testDB(t)

	p := &models.Pool{Name: "Flat", Members: []string{"jo", "kim"}}
	if err := database.CreatePoolLogged(p); err != nil {
		t.Fatalf("CreatePoolLogged failed: %v", err)
	}

	if err := database.RemovePoolMemberLogged(p.ID, "jo"); err != nil {
		t.Fatalf("RemovePoolMemberLogged failed: %v", err)
	}

	got, err := database.GetPool(p.ID)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if got.HasMember("jo") {
		t.Errorf("Members: got %v, want jo removed", got.Members)
	}
	if !got.HasMember("kim") {
		t.Errorf("Members: got %v, want kim kept", got.Members)
	}

	// Removing an absent member is a no-op
	before, _ := database.CountActions()
	if err := database.RemovePoolMemberLogged(p.ID, "nobody"); err != nil {
		t.Fatalf("RemovePoolMemberLogged absent failed: %v", err)
	}
	after, _ := database.CountActions()
	if after != before {
		t.Errorf("absent remove logged an action: %d -> %d", before, after)
	}
}

func TestGetPoolByName(t *testing.T) {
	database := testDB(t)

	p := &models.Pool{Name: "Household"}
	if err := database.CreatePoolLogged(p); err != nil {
		t.Fatalf("CreatePoolLogged failed: %v", err)
	}

	got, err := database.GetPoolByName("household")
	if err != nil {
		t.Fatalf("GetPoolByName failed: %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Fatalf("GetPoolByName: got %+v, want id %s", got, p.ID)
	}

	if err := database.DeletePoolLogged(p.ID); err != nil {
		t.Fatalf("DeletePoolLogged failed: %v", err)
	}
	gone, err := database.GetPoolByName("household")
	if err != nil {
		t.Fatalf("GetPoolByName after delete failed: %v", err)
	}
	if gone != nil {
		t.Errorf("expected nil for deleted pool, got %+v", gone)
	}
}

func TestSetPoolTargetLogged(t *testing.T) {
	database := testDB(t)

	p := &models.Pool{Name: "Japan trip"}
	if err := database.CreatePoolLogged(p); err != nil {
		t.Fatalf("CreatePoolLogged failed: %v", err)
	}

	target := decimal.RequireFromString("2500.00")
	if err := database.SetPoolTargetLogged(p.ID, target); err != nil {
		t.Fatalf("SetPoolTargetLogged failed: %v", err)
	}

	got, err := database.GetPool(p.ID)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if !got.TargetTotal.Equal(target) {
		t.Errorf("target = %s, want %s", got.TargetTotal, target)
	}

	actions, err := database.GetRecentActions(1)
	if err != nil {
		t.Fatalf("GetRecentActions failed: %v", err)
	}
	if actions[0].ActionType != models.ActionSetBudget {
		t.Errorf("action type = %s, want %s", actions[0].ActionType, models.ActionSetBudget)
	}
}
