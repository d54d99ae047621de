// Package syncharness runs multi-device replication scenarios against a
// real sync server over HTTP. Each simulated device owns a complete local
// store and pushes and pulls through the same client and runner the CLI
// uses, so scenarios cover the full path from action log to server event
// log and back.
package syncharness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elena/xp/internal/api"
	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/serverdb"
	xpsync "github.com/elena/xp/internal/sync"
	"github.com/elena/xp/internal/syncclient"
)

// Device is one simulated device: a local store linked to the shared
// ledger plus the runner that replicates it.
type Device struct {
	ID     string
	Store  *db.DB
	Runner *xpsync.StoreRunner
}

// Harness owns the server and a set of devices all linked to one ledger.
type Harness struct {
	t        *testing.T
	BaseURL  string
	LedgerID string
	Token    string

	devices map[string]*Device
	order   []string
}

// NewHarness starts a sync server on a loopback listener, creates a user,
// an API key, and a ledger, and links one local store per device ID.
func NewHarness(t *testing.T, deviceIDs ...string) *Harness {
	t.Helper()

	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	ledgerDir := filepath.Join(tmp, "ledgers")
	if err := os.MkdirAll(ledgerDir, 0755); err != nil {
		t.Fatalf("create ledger dir: %v", err)
	}

	srv, err := api.NewServer(api.Config{
		RateLimitAuth:  100000,
		RateLimitPush:  100000,
		RateLimitPull:  100000,
		RateLimitOther: 100000,
		ListenAddr:     ":0",
		ServerDBPath:   dbPath,
		LedgerDataDir:  ledgerDir,
	}, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		httpSrv.Close()
		srv.Shutdown(context.Background())
		store.Close()
	})

	user, err := store.CreateUser("elena@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _, err := store.GenerateAPIKey(user.ID, "harness", "sync", nil)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}

	h := &Harness{
		t:        t,
		BaseURL:  httpSrv.URL,
		Token:    token,
		devices:  make(map[string]*Device),
		order:    deviceIDs,
	}
	h.LedgerID = h.createLedger("household")

	for _, id := range deviceIDs {
		h.devices[id] = h.linkDevice(id)
	}
	return h
}

func (h *Harness) createLedger(name string) string {
	h.t.Helper()

	body, _ := json.Marshal(api.CreateLedgerRequest{Name: name})
	req, err := http.NewRequest("POST", h.BaseURL+"/v1/ledgers", bytes.NewReader(body))
	if err != nil {
		h.t.Fatalf("build ledger request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("create ledger: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		h.t.Fatalf("create ledger: status %d", resp.StatusCode)
	}

	var ledger api.LedgerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ledger); err != nil {
		h.t.Fatalf("decode ledger: %v", err)
	}
	return ledger.ID
}

// linkDevice initializes a fresh store in its own directory and points it
// at the harness ledger, the same state `xp link` leaves behind.
func (h *Harness) linkDevice(id string) *Device {
	h.t.Helper()

	store, err := db.Initialize(h.t.TempDir())
	if err != nil {
		h.t.Fatalf("init store for %s: %v", id, err)
	}
	h.t.Cleanup(func() { store.Close() })

	store.SetDeviceID(id)
	if err := store.SetSyncState(h.LedgerID); err != nil {
		h.t.Fatalf("link %s: %v", id, err)
	}

	client := syncclient.New(h.BaseURL, h.Token, id)
	return &Device{
		ID:     id,
		Store:  store,
		Runner: xpsync.NewStoreRunner(store, client),
	}
}

// Device returns the device registered under id.
func (h *Harness) Device(id string) *Device {
	h.t.Helper()
	d, ok := h.devices[id]
	if !ok {
		h.t.Fatalf("unknown device %q", id)
	}
	return d
}

// Push uploads the device's pending actions and returns how many the
// server acknowledged.
func (h *Harness) Push(id string) int {
	h.t.Helper()
	n, err := h.Device(id).Runner.Push(context.Background())
	if err != nil {
		h.t.Fatalf("push %s: %v", id, err)
	}
	return n
}

// Pull downloads and applies remote events on the device.
func (h *Harness) Pull(id string) xpsync.PullStats {
	h.t.Helper()
	stats, err := h.Device(id).Runner.Pull(context.Background())
	if err != nil {
		h.t.Fatalf("pull %s: %v", id, err)
	}
	return stats
}

// Sync runs one replication pass on the device: push, then pull, the same
// order a coordinator run uses.
func (h *Harness) Sync(id string) {
	h.t.Helper()
	h.Push(id)
	h.Pull(id)
}

// Converge syncs every device in rounds until a full round moves no data
// in either direction, then checks that no device still has pending
// actions. Conflict merges appended during a pull are pushed by the next
// round, so multi-round settling is normal.
func (h *Harness) Converge() {
	h.t.Helper()

	const maxRounds = 6
	for round := 0; round < maxRounds; round++ {
		moved := 0
		for _, id := range h.order {
			moved += h.Push(id)
			moved += h.Pull(id).Events
		}
		if moved == 0 {
			for _, id := range h.order {
				pending, err := h.Device(id).Store.CountPendingActions()
				if err != nil {
					h.t.Fatalf("count pending on %s: %v", id, err)
				}
				if pending != 0 {
					h.t.Fatalf("device %s settled with %d pending actions", id, pending)
				}
			}
			return
		}
	}
	h.t.Fatalf("devices still exchanging data after %d rounds", maxRounds)
}

// tableDumps lists, per table, the columns that must agree on every device
// once replication settles. Wall-clock columns are excluded: created_at
// and updated_at ride inside snapshots but local rounding differs from
// the JSON round-trip. deleted_at is reduced to a flag for the same
// reason.
var tableDumps = []struct {
	name  string
	query string
}{
	{"expenses", `SELECT id, amount, currency, category_id, pool_id, merchant, note, spent_on, updated_by,
		CASE WHEN deleted_at IS NULL THEN 0 ELSE 1 END FROM expenses ORDER BY id`},
	{"categories", `SELECT id, name, icon, color, monthly_budget, note, updated_by,
		CASE WHEN deleted_at IS NULL THEN 0 ELSE 1 END FROM categories ORDER BY id`},
	{"pools", `SELECT id, name, members, currency, started_on, target_total, note, updated_by,
		CASE WHEN deleted_at IS NULL THEN 0 ELSE 1 END FROM pools ORDER BY id`},
}

// AssertConverged fails the test unless every device holds identical
// replicated rows in all three entity tables.
func (h *Harness) AssertConverged() {
	h.t.Helper()

	for _, table := range tableDumps {
		var reference []string
		var refDevice string
		for _, id := range h.order {
			dump := h.dumpTable(id, table.query)
			if reference == nil {
				reference, refDevice = dump, id
				continue
			}
			if diff := diffDumps(reference, dump); diff != "" {
				h.t.Errorf("table %s diverged between %s and %s:\n%s", table.name, refDevice, id, diff)
			}
		}
	}
}

func (h *Harness) dumpTable(deviceID, query string) []string {
	h.t.Helper()

	rows, err := h.Device(deviceID).Store.Conn().Query(query)
	if err != nil {
		h.t.Fatalf("dump on %s: %v", deviceID, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		h.t.Fatalf("dump columns on %s: %v", deviceID, err)
	}

	var out []string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			h.t.Fatalf("dump scan on %s: %v", deviceID, err)
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			switch x := v.(type) {
			case []byte:
				parts[i] = string(x)
			case nil:
				parts[i] = "<nil>"
			default:
				parts[i] = fmt.Sprint(x)
			}
		}
		out = append(out, strings.Join(parts, "|"))
	}
	if err := rows.Err(); err != nil {
		h.t.Fatalf("dump rows on %s: %v", deviceID, err)
	}
	return out
}

func diffDumps(a, b []string) string {
	if len(a) != len(b) {
		return fmt.Sprintf("  %d rows vs %d rows\n  a: %v\n  b: %v", len(a), len(b), a, b)
	}
	var sb strings.Builder
	for i := range a {
		if a[i] != b[i] {
			fmt.Fprintf(&sb, "  row %d:\n    a: %s\n    b: %s\n", i, a[i], b[i])
		}
	}
	return sb.String()
}
