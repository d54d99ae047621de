package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/elena/xp/internal/serverdb"
)

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *serverdb.ServerDB
	BaseURL string
	client  *http.Client
	httpSrv *httptest.Server
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()

	tmpDir := t.TempDir()

	dbPath := filepath.Join(tmpDir, "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	ledgerDir := filepath.Join(tmpDir, "ledgers")
	if err := os.MkdirAll(ledgerDir, 0755); err != nil {
		t.Fatalf("create ledger dir: %v", err)
	}

	cfg := Config{
		RateLimitAuth:  100000,
		RateLimitPush:  100000,
		RateLimitPull:  100000,
		RateLimitOther: 100000,
		ListenAddr:     ":0",
		ServerDBPath:   dbPath,
		LedgerDataDir:  ledgerDir,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	httpSrv := httptest.NewServer(srv.routes())

	h := &TestHarness{
		t:       t,
		Server:  srv,
		Store:   store,
		BaseURL: httpSrv.URL,
		client:  &http.Client{},
		httpSrv: httpSrv,
	}

	t.Cleanup(func() {
		srv.hub.closeAll()
		httpSrv.Close()
		srv.dbPool.CloseAll()
		store.Close()
	})

	return h
}

// Do sends an HTTP request and returns the response.
// Caller must close resp.Body unless using assertion helpers (AssertStatus,
// AssertErrorResponse, ReadJSON) which close it automatically.
func (h *TestHarness) Do(method, path, token string, body any) *http.Response {
	h.t.Helper()

	url := h.BaseURL + path

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, url, &buf)
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("do request %s %s: %v", method, path, err)
	}

	return resp
}

// DoJSON sends an HTTP request and decodes the JSON response into out.
// Fatals if the response status is >= 400 or if JSON decoding fails.
func (h *TestHarness) DoJSON(method, path, token string, body any, out any) *http.Response {
	h.t.Helper()

	resp := h.Do(method, path, token, body)

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		h.t.Fatalf("DoJSON %s %s: expected success, got %d: %s", method, path, resp.StatusCode, respBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}

	return resp
}

// CreateUser creates a user with a sync-scoped API key.
func (h *TestHarness) CreateUser(email string) (userID, token string) {
	h.t.Helper()

	user, err := h.Store.CreateUser(email)
	if err != nil {
		h.t.Fatalf("create user: %v", err)
	}

	tok, _, err := h.Store.GenerateAPIKey(user.ID, "test", "sync", nil)
	if err != nil {
		h.t.Fatalf("generate api key: %v", err)
	}

	return user.ID, tok
}

// CreateLedger creates a ledger via the API. Returns the ledger ID.
func (h *TestHarness) CreateLedger(ownerToken, name string) string {
	h.t.Helper()

	var ledger LedgerResponse
	resp := h.DoJSON("POST", "/v1/ledgers", ownerToken, CreateLedgerRequest{Name: name}, &ledger)

	if resp.StatusCode != http.StatusCreated {
		h.t.Fatalf("create ledger: expected 201, got %d", resp.StatusCode)
	}

	return ledger.ID
}

// PushEvents pushes events to a ledger via the API.
func (h *TestHarness) PushEvents(token, ledgerID string, events []EventInput) {
	h.t.Helper()

	resp := h.Do("POST", fmt.Sprintf("/v1/ledgers/%s/sync/push", ledgerID), token, PushRequest{
		DeviceID:  "test-device",
		SessionID: "test-session",
		Events:    events,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("push events: expected 200, got %d", resp.StatusCode)
	}
}

// --- Response assertion helpers ---

// AssertStatus checks the HTTP status code matches expected. Reads and closes the body on failure.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, string(body))
	}
}

// AssertErrorResponse checks the response has the expected status and error code.
func AssertErrorResponse(t *testing.T, resp *http.Response, expectedStatus int, expectedCode string) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.StatusCode, string(body))
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q: %s", expectedCode, errResp.Error.Code, errResp.Error.Message)
	}
}

// ReadJSON decodes a JSON response body into the given type.
func ReadJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json response: %v", err)
	}
	return out
}

// AssertCORSHeaders checks the response has the expected CORS origin header.
func AssertCORSHeaders(t *testing.T, resp *http.Response, expectedOrigin string) {
	t.Helper()
	origin := resp.Header.Get("Access-Control-Allow-Origin")
	if origin != expectedOrigin {
		t.Fatalf("expected Access-Control-Allow-Origin %q, got %q", expectedOrigin, origin)
	}
}

// AssertNoCORSHeaders checks the response has no CORS origin header.
func AssertNoCORSHeaders(t *testing.T, resp *http.Response) {
	t.Helper()
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "" {
		t.Fatalf("expected no Access-Control-Allow-Origin header, got %q", origin)
	}
}

// ---------------------------------------------------------------------------
// State builder — fluent API for setting up complex test scenarios
// ---------------------------------------------------------------------------

// userEntry holds user state created during a build.
type userEntry struct {
	id    string
	token string
}

// ledgerEntry holds ledger state created during a build.
type ledgerEntry struct {
	id         string
	ownerEmail string
}

// TestState is the result of a StateBuilder.Done() call.
type TestState struct {
	h       *TestHarness
	users   map[string]userEntry   // email -> userEntry
	ledgers map[string]ledgerEntry // name -> ledgerEntry
}

// UserToken returns the API token for the given email. Fatals if not found.
func (s *TestState) UserToken(email string) string {
	s.h.t.Helper()
	u, ok := s.users[email]
	if !ok {
		s.h.t.Fatalf("UserToken: unknown user %q", email)
	}
	return u.token
}

// UserID returns the user ID for the given email. Fatals if not found.
func (s *TestState) UserID(email string) string {
	s.h.t.Helper()
	u, ok := s.users[email]
	if !ok {
		s.h.t.Fatalf("UserID: unknown user %q", email)
	}
	return u.id
}

// LedgerID returns the ledger ID for the given ledger name. Fatals if
// not found.
func (s *TestState) LedgerID(name string) string {
	s.h.t.Helper()
	l, ok := s.ledgers[name]
	if !ok {
		s.h.t.Fatalf("LedgerID: unknown ledger %q", name)
	}
	return l.id
}

// Harness returns the underlying TestHarness.
func (s *TestState) Harness() *TestHarness {
	return s.h
}

// StateBuilder accumulates deferred setup steps executed in order by Done().
type StateBuilder struct {
	h     *TestHarness
	steps []func(*TestState)
}

// Build returns a new StateBuilder for fluent test-state setup.
func (h *TestHarness) Build() *StateBuilder {
	return &StateBuilder{h: h}
}

// WithUser appends a step that creates a user with a sync-scoped API key.
func (b *StateBuilder) WithUser(email string) *StateBuilder {
	b.steps = append(b.steps, func(s *TestState) {
		id, tok := b.h.CreateUser(email)
		s.users[email] = userEntry{id: id, token: tok}
	})
	return b
}

// WithLedger appends a step that creates a ledger owned by ownerEmail.
func (b *StateBuilder) WithLedger(name, ownerEmail string) *StateBuilder {
	b.steps = append(b.steps, func(s *TestState) {
		u, ok := s.users[ownerEmail]
		if !ok {
			b.h.t.Fatalf("WithLedger: owner %q not created yet", ownerEmail)
		}
		lid := b.h.CreateLedger(u.token, name)
		s.ledgers[name] = ledgerEntry{id: lid, ownerEmail: ownerEmail}
	})
	return b
}

// WithMember appends a step that adds a user as a member of a ledger.
// The ledger owner's token is used for the API call.
func (b *StateBuilder) WithMember(ledgerName, email, role string) *StateBuilder {
	b.steps = append(b.steps, func(s *TestState) {
		l, ok := s.ledgers[ledgerName]
		if !ok {
			b.h.t.Fatalf("WithMember: ledger %q not created yet", ledgerName)
		}
		owner, ok := s.users[l.ownerEmail]
		if !ok {
			b.h.t.Fatalf("WithMember: owner %q not found", l.ownerEmail)
		}
		u, ok := s.users[email]
		if !ok {
			b.h.t.Fatalf("WithMember: user %q not created yet", email)
		}
		resp := b.h.Do("POST", fmt.Sprintf("/v1/ledgers/%s/members", l.id), owner.token,
			AddMemberRequest{UserID: u.id, Role: role})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b.h.t.Fatalf("WithMember: expected 201, got %d", resp.StatusCode)
		}
	})
	return b
}

// WithEvents appends a step that pushes count events to the named ledger
// using the given user's token. Entity types cycle through expenses,
// categories, and pools.
func (b *StateBuilder) WithEvents(ledgerName, userEmail string, count int) *StateBuilder {
	stepIdx := len(b.steps) // capture for unique device/session IDs
	b.steps = append(b.steps, func(s *TestState) {
		l, ok := s.ledgers[ledgerName]
		if !ok {
			b.h.t.Fatalf("WithEvents: ledger %q not created yet", ledgerName)
		}
		u, ok := s.users[userEmail]
		if !ok {
			b.h.t.Fatalf("WithEvents: user %q not created yet", userEmail)
		}

		entityTypes := []string{"expenses", "categories", "pools"}
		events := make([]EventInput, count)
		for i := 0; i < count; i++ {
			et := entityTypes[i%3]
			entityID := fmt.Sprintf("%s_%s_%03d", et[:1], ledgerName, i+1)

			// Payloads carry full row snapshots so a snapshot build over
			// this state replays cleanly.
			var newData string
			switch et {
			case "expenses":
				newData = fmt.Sprintf(`{"id":%q,"amount":"1.00","currency":"USD","spent_on":"2025-01-01","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}`, entityID)
			case "categories":
				newData = fmt.Sprintf(`{"id":%q,"name":"category %d","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}`, entityID, i+1)
			case "pools":
				newData = fmt.Sprintf(`{"id":%q,"name":"pool %d","currency":"USD","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}`, entityID, i+1)
			}

			events[i] = EventInput{
				ClientActionID:  int64(i + 1),
				ActionType:      "create",
				EntityType:      et,
				EntityID:        entityID,
				Payload:         json.RawMessage(fmt.Sprintf(`{"schema_version":1,"new_data":%s}`, newData)),
				ClientTimestamp: "2025-01-01T00:00:00Z",
			}
		}

		deviceID := fmt.Sprintf("dev-%s-%d", ledgerName, stepIdx)
		sessionID := fmt.Sprintf("ses-%s-%d", ledgerName, stepIdx)
		resp := b.h.Do("POST", fmt.Sprintf("/v1/ledgers/%s/sync/push", l.id), u.token, PushRequest{
			DeviceID:  deviceID,
			SessionID: sessionID,
			Events:    events,
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b.h.t.Fatalf("WithEvents: expected 200, got %d", resp.StatusCode)
		}
	})
	return b
}

// Done executes all accumulated steps in order and returns the resulting
// TestState.
func (b *StateBuilder) Done() *TestState {
	b.h.t.Helper()

	s := &TestState{
		h:       b.h,
		users:   make(map[string]userEntry),
		ledgers: make(map[string]ledgerEntry),
	}
	for _, step := range b.steps {
		step(s)
	}
	return s
}
