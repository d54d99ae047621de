package cmd

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
)

func TestTryBootstrapSkipsWhenDisabled(t *testing.T) {
	t.Setenv("XP_SYNC_SNAPSHOT_THRESHOLD", "0")

	tmpDir := t.TempDir()
	database, err := db.Initialize(tmpDir)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	defer database.Close()

	if err := database.SetSyncState("ledger-test"); err != nil {
		t.Fatalf("set sync state: %v", err)
	}
	state, err := database.GetSyncState()
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}

	h := &db.Handle{DB: database, Dir: tmpDir}
	if err := tryBootstrap(h, nil, state); !errors.Is(err, errBootstrapNotNeeded) {
		t.Fatalf("expected errBootstrapNotNeeded, got %v", err)
	}
}

func TestTryBootstrapSkipsWithoutStoreDir(t *testing.T) {
	t.Setenv("XP_SYNC_SNAPSHOT_THRESHOLD", "1")

	database, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	defer database.Close()

	if err := database.SetSyncState("ledger-test"); err != nil {
		t.Fatalf("set sync state: %v", err)
	}
	state, err := database.GetSyncState()
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}

	// Memory-mode handles have no directory to swap.
	h := &db.Handle{DB: database, Dir: ""}
	if err := tryBootstrap(h, nil, state); !errors.Is(err, errBootstrapNotNeeded) {
		t.Fatalf("expected errBootstrapNotNeeded, got %v", err)
	}
}

func TestTryBootstrapSkipsWhenPendingActions(t *testing.T) {
	t.Setenv("XP_SYNC_SNAPSHOT_THRESHOLD", "1")

	tmpDir := t.TempDir()
	database, err := db.Initialize(tmpDir)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	defer database.Close()

	if err := database.SetSyncState("ledger-test"); err != nil {
		t.Fatalf("set sync state: %v", err)
	}

	// A logged write leaves an unpushed action behind.
	e := &models.Expense{Amount: decimal.RequireFromString("4.20"), Merchant: "kiosk"}
	if err := database.CreateExpenseLogged(e); err != nil {
		t.Fatalf("CreateExpenseLogged failed: %v", err)
	}
	pending, err := database.CountPendingActions()
	if err != nil || pending == 0 {
		t.Fatalf("expected pending actions, got %d (err=%v)", pending, err)
	}

	state, err := database.GetSyncState()
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}

	h := &db.Handle{DB: database, Dir: tmpDir}
	if err := tryBootstrap(h, nil, state); !errors.Is(err, errBootstrapNotNeeded) {
		t.Fatalf("expected errBootstrapNotNeeded, got %v", err)
	}

	// The store must stay usable after a skipped bootstrap.
	if _, err := database.Conn().Exec("SELECT 1"); err != nil {
		t.Fatalf("db unusable after bootstrap skip: %v", err)
	}
}
