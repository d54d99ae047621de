package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

func testExpense(updatedAt time.Time, updatedBy string) models.Expense {
	return models.Expense{
		ID:         "xp-100",
		Amount:     decimal.RequireFromString("42.50"),
		Currency:   models.CurrencyEUR,
		CategoryID: "cat-groceries",
		Merchant:   "Corner Market",
		SpentOn:    "2026-03-10",
		CreatedAt:  updatedAt.Add(-time.Hour),
		UpdatedAt:  updatedAt,
		UpdatedBy:  updatedBy,
	}
}

func TestMergeExpense_RemoteNewerWins(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	local := testExpense(base, "dev-a")
	remote := testExpense(base.Add(time.Minute), "dev-b")
	remote.Amount = decimal.RequireFromString("55.00")
	remote.Merchant = "Other Market"

	got := MergeExpense(local, remote)
	if !got.Amount.Equal(remote.Amount) {
		t.Errorf("amount = %s, want remote's %s", got.Amount, remote.Amount)
	}
	if got.Merchant != "Other Market" {
		t.Errorf("merchant = %q, want remote's", got.Merchant)
	}
	if got.UpdatedBy != "dev-b" {
		t.Errorf("updated_by = %q, want dev-b", got.UpdatedBy)
	}
	if got.ID != local.ID {
		t.Errorf("id = %q, want local id %q", got.ID, local.ID)
	}
}

func TestMergeExpense_LocalNewerWins(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	local := testExpense(base.Add(time.Minute), "dev-a")
	remote := testExpense(base, "dev-b")
	remote.Amount = decimal.RequireFromString("99.99")

	got := MergeExpense(local, remote)
	if !got.Amount.Equal(local.Amount) {
		t.Errorf("amount = %s, want local's %s", got.Amount, local.Amount)
	}
	if got.UpdatedBy != "dev-a" {
		t.Errorf("updated_by = %q, want dev-a", got.UpdatedBy)
	}
}

func TestMergeExpense_TiebreakIsSymmetric(t *testing.T) {
	// Identical timestamps: the larger device id must win no matter which
	// side calls it local, or two devices would resolve differently.
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := testExpense(at, "dev-a")
	a.Merchant = "From A"
	b := testExpense(at, "dev-b")
	b.Merchant = "From B"

	fromA := MergeExpense(a, b)
	fromB := MergeExpense(b, a)
	if fromA.Merchant != "From B" || fromB.Merchant != "From B" {
		t.Errorf("tiebreak picked %q / %q, want From B on both sides", fromA.Merchant, fromB.Merchant)
	}
}

func TestMergeExpense_SelfMergeIsIdentity(t *testing.T) {
	x := testExpense(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), "dev-a")
	got := MergeExpense(x, x)
	if got.ID != x.ID || !got.Amount.Equal(x.Amount) || got.Merchant != x.Merchant || !got.UpdatedAt.Equal(x.UpdatedAt) {
		t.Errorf("self-merge changed the record: %+v", got)
	}
}

func TestMergeExpense_DeletionFollowsTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Newer tombstone beats older edit.
	local := testExpense(base, "dev-a")
	remote := testExpense(base.Add(time.Minute), "dev-b")
	deletedAt := base.Add(time.Minute)
	remote.DeletedAt = &deletedAt
	got := MergeExpense(local, remote)
	if got.DeletedAt == nil {
		t.Error("newer tombstone should win over older edit")
	}

	// Newer edit beats older tombstone.
	local = testExpense(base, "dev-a")
	tombAt := base
	local.DeletedAt = &tombAt
	remote = testExpense(base.Add(time.Minute), "dev-b")
	got = MergeExpense(local, remote)
	if got.DeletedAt != nil {
		t.Error("newer edit should win over older tombstone")
	}
}

func TestMergeCategory_FillsEmptyOptionalFields(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	local := models.Category{
		ID:        "cat-1",
		Name:      "Groceries",
		Icon:      "🛒",
		Color:     "#00aa55",
		Note:      "weekly shop",
		UpdatedAt: base,
		UpdatedBy: "dev-a",
	}
	remote := models.Category{
		ID:            "cat-1",
		Name:          "Groceries",
		MonthlyBudget: decimal.RequireFromString("400"),
		UpdatedAt:     base.Add(time.Minute),
		UpdatedBy:     "dev-b",
	}

	got := MergeCategory(local, remote)
	if got.Icon != "🛒" {
		t.Errorf("icon = %q, want loser's icon kept", got.Icon)
	}
	if got.Color != "#00aa55" {
		t.Errorf("color = %q, want loser's color kept", got.Color)
	}
	if got.Note != "weekly shop" {
		t.Errorf("note = %q, want loser's note kept", got.Note)
	}
	if !got.MonthlyBudget.Equal(remote.MonthlyBudget) {
		t.Errorf("budget = %s, want winner's %s", got.MonthlyBudget, remote.MonthlyBudget)
	}
	if got.UpdatedBy != "dev-b" {
		t.Errorf("updated_by = %q, want winner's", got.UpdatedBy)
	}
}

func TestMergeCategory_WinnerFieldBeatsLoserField(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	local := models.Category{ID: "cat-1", Name: "Food", Icon: "🍜", UpdatedAt: base.Add(time.Minute), UpdatedBy: "dev-a"}
	remote := models.Category{ID: "cat-1", Name: "Groceries", Icon: "🛒", UpdatedAt: base, UpdatedBy: "dev-b"}

	got := MergeCategory(local, remote)
	if got.Name != "Food" || got.Icon != "🍜" {
		t.Errorf("got name=%q icon=%q, want winner's fields", got.Name, got.Icon)
	}
}

func TestMergePool_MemberUnionIsCommutative(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := models.Pool{ID: "pl-1", Name: "Trip", Members: []string{"ana", "ben"}, UpdatedAt: base, UpdatedBy: "dev-a"}
	b := models.Pool{ID: "pl-1", Name: "Trip", Members: []string{"ben", "cleo"}, UpdatedAt: base.Add(time.Second), UpdatedBy: "dev-b"}

	ab := MergePool(a, b)
	ba := MergePool(b, a)

	want := []string{"ana", "ben", "cleo"}
	for _, got := range [][]string{ab.Members, ba.Members} {
		if len(got) != len(want) {
			t.Fatalf("members = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("members = %v, want %v", got, want)
			}
		}
	}
}

func TestMergePool_EarliestStartAndLargestTarget(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	local := models.Pool{
		ID:          "pl-1",
		Name:        "House fund",
		StartedOn:   "2026-02-01",
		TargetTotal: decimal.RequireFromString("5000"),
		UpdatedAt:   base.Add(time.Minute),
		UpdatedBy:   "dev-a",
	}
	remote := models.Pool{
		ID:          "pl-1",
		Name:        "House fund",
		StartedOn:   "2026-01-15",
		TargetTotal: decimal.RequireFromString("3000"),
		UpdatedAt:   base,
		UpdatedBy:   "dev-b",
	}

	got := MergePool(local, remote)
	if got.StartedOn != "2026-01-15" {
		t.Errorf("started_on = %q, want earliest 2026-01-15", got.StartedOn)
	}
	if !got.TargetTotal.Equal(decimal.RequireFromString("5000")) {
		t.Errorf("target_total = %s, want largest 5000", got.TargetTotal)
	}
}

func TestMergePool_EmptyStartDoesNotWin(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	local := models.Pool{ID: "pl-1", Name: "Trip", StartedOn: "", UpdatedAt: base.Add(time.Minute), UpdatedBy: "dev-a"}
	remote := models.Pool{ID: "pl-1", Name: "Trip", StartedOn: "2026-01-01", UpdatedAt: base, UpdatedBy: "dev-b"}

	if got := MergePool(local, remote); got.StartedOn != "2026-01-01" {
		t.Errorf("started_on = %q, want the only non-empty date", got.StartedOn)
	}
}

func TestMergeSnapshots_ResolutionLabels(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	local := testExpense(base, "dev-a")
	remote := testExpense(base.Add(time.Minute), "dev-b")
	remote.Amount = decimal.RequireFromString("70.00")

	localData, _ := json.Marshal(local)
	remoteData, _ := json.Marshal(remote)

	merged, resolution, err := mergeSnapshots("expenses", localData, remoteData)
	if err != nil {
		t.Fatalf("mergeSnapshots: %v", err)
	}
	if resolution != "remote" {
		t.Errorf("resolution = %q, want remote", resolution)
	}
	var out models.Expense
	if err := json.Unmarshal(merged, &out); err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}
	if !out.Amount.Equal(remote.Amount) {
		t.Errorf("merged amount = %s, want %s", out.Amount, remote.Amount)
	}

	// A pool blending members from both sides resolves as "merged".
	pa := models.Pool{ID: "pl-1", Name: "Trip", Members: []string{"ana"}, UpdatedAt: base, UpdatedBy: "dev-a"}
	pb := models.Pool{ID: "pl-1", Name: "Trip", Members: []string{"ben"}, UpdatedAt: base.Add(time.Second), UpdatedBy: "dev-b"}
	paData, _ := json.Marshal(pa)
	pbData, _ := json.Marshal(pb)

	_, resolution, err = mergeSnapshots("pools", paData, pbData)
	if err != nil {
		t.Fatalf("mergeSnapshots pool: %v", err)
	}
	if resolution != "merged" {
		t.Errorf("resolution = %q, want merged", resolution)
	}
}

func TestMergeSnapshots_UnsupportedType(t *testing.T) {
	if _, _, err := mergeSnapshots("widgets", []byte(`{}`), []byte(`{}`)); err == nil {
		t.Error("expected error for unsupported entity type")
	}
}
