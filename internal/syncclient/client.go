package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrServer       = errors.New("server error")
)

// Client is an HTTP client for the xp-sync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Auth types (mirrors internal/api/auth.go, independently defined) ---

// LoginStartResponse is the response from POST /v1/auth/login/start.
type LoginStartResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// LoginPollResponse is the response from POST /v1/auth/login/poll.
type LoginPollResponse struct {
	Status    string  `json:"status"`
	APIKey    *string `json:"api_key,omitempty"`
	UserID    *string `json:"user_id,omitempty"`
	Email     *string `json:"email,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// WhoamiResponse identifies the authenticated user.
type WhoamiResponse struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	KeyName   string `json:"key_name,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// --- Ledger types ---

// LedgerResponse represents a ledger from the server.
type LedgerResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Note      string  `json:"note"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}

// --- Sync types (mirrors internal/api/sync.go, independently defined) ---

// PushRequest is the body for POST /v1/ledgers/{id}/sync/push.
type PushRequest struct {
	DeviceID  string       `json:"device_id"`
	SessionID string       `json:"session_id"`
	Events    []EventInput `json:"events"`
}

// EventInput is a single event in a push request.
type EventInput struct {
	ClientActionID  int64           `json:"client_action_id"`
	ActionType      string          `json:"action_type"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Payload         json.RawMessage `json:"payload"`
	ClientTimestamp string          `json:"client_timestamp"`
}

// PushResponse is the response from a push request.
type PushResponse struct {
	Accepted int              `json:"accepted"`
	Acks     []AckResponse    `json:"acks"`
	Rejected []RejectResponse `json:"rejected,omitempty"`
}

// AckResponse is a single acknowledged event.
type AckResponse struct {
	ClientActionID int64 `json:"client_action_id"`
	ServerSeq      int64 `json:"server_seq"`
}

// RejectResponse is a single rejected event.
type RejectResponse struct {
	ClientActionID int64  `json:"client_action_id"`
	Reason         string `json:"reason"`
	ServerSeq      int64  `json:"server_seq,omitempty"`
}

// PullResponse is the response from a pull request.
type PullResponse struct {
	Events        []PullEvent `json:"events"`
	LastServerSeq int64       `json:"last_server_seq"`
	HasMore       bool        `json:"has_more"`
}

// PullEvent is a single event in a pull response.
type PullEvent struct {
	ServerSeq       int64           `json:"server_seq"`
	DeviceID        string          `json:"device_id"`
	SessionID       string          `json:"session_id"`
	ClientActionID  int64           `json:"client_action_id"`
	ActionType      string          `json:"action_type"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Payload         json.RawMessage `json:"payload"`
	ClientTimestamp string          `json:"client_timestamp"`
}

// SyncStatusResponse is the response from GET /v1/ledgers/{id}/sync/status.
type SyncStatusResponse struct {
	EventCount    int64  `json:"event_count"`
	LastServerSeq int64  `json:"last_server_seq"`
	LastEventTime string `json:"last_event_time,omitempty"`
}

// Notification is a server push telling a device that new events exist.
type Notification struct {
	LedgerID      string   `json:"ledger_id"`
	EntityTypes   []string `json:"entity_types"`
	LastServerSeq int64    `json:"last_server_seq"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth("GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Auth methods ---

// LoginStart initiates device auth flow. No API key required.
func (c *Client) LoginStart(email string) (*LoginStartResponse, error) {
	body := map[string]string{"email": email}
	var resp LoginStartResponse
	if err := c.doNoAuth("POST", "/v1/auth/login/start", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginPoll checks the status of a device auth request. No API key required.
func (c *Client) LoginPoll(deviceCode string) (*LoginPollResponse, error) {
	body := map[string]string{"device_code": deviceCode}
	var resp LoginPollResponse
	if err := c.doNoAuth("POST", "/v1/auth/login/poll", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Whoami returns the identity behind the configured API key.
func (c *Client) Whoami() (*WhoamiResponse, error) {
	var resp WhoamiResponse
	if err := c.do("GET", "/v1/whoami", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Ledger methods ---

// CreateLedger creates a new ledger on the server.
func (c *Client) CreateLedger(name, note string) (*LedgerResponse, error) {
	body := map[string]string{"name": name, "note": note}
	var resp LedgerResponse
	if err := c.do("POST", "/v1/ledgers", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListLedgers lists all ledgers for the authenticated user.
func (c *Client) ListLedgers() ([]LedgerResponse, error) {
	var resp []LedgerResponse
	if err := c.do("GET", "/v1/ledgers", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- Member types ---

// MemberResponse represents a ledger member from the server.
type MemberResponse struct {
	LedgerID  string `json:"ledger_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	InvitedBy string `json:"invited_by"`
	CreatedAt string `json:"created_at"`
}

// --- Member methods ---

// AddMember invites a user to a ledger by email.
func (c *Client) AddMember(ledgerID, email, role string) (*MemberResponse, error) {
	body := map[string]string{"email": email, "role": role}
	var resp MemberResponse
	if err := c.do("POST", fmt.Sprintf("/v1/ledgers/%s/members", ledgerID), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMembers lists all members of a ledger.
func (c *Client) ListMembers(ledgerID string) ([]MemberResponse, error) {
	var resp []MemberResponse
	if err := c.do("GET", fmt.Sprintf("/v1/ledgers/%s/members", ledgerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateMemberRole changes a member's role in a ledger.
func (c *Client) UpdateMemberRole(ledgerID, userID, role string) error {
	body := map[string]string{"role": role}
	return c.do("PATCH", fmt.Sprintf("/v1/ledgers/%s/members/%s", ledgerID, userID), body, nil)
}

// RemoveMember removes a user from a ledger.
func (c *Client) RemoveMember(ledgerID, userID string) error {
	return c.do("DELETE", fmt.Sprintf("/v1/ledgers/%s/members/%s", ledgerID, userID), nil, nil)
}

// --- Sync methods ---

// Push sends local events to the server.
func (c *Client) Push(ledgerID string, req *PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do("POST", fmt.Sprintf("/v1/ledgers/%s/sync/push", ledgerID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches remote events from the server.
func (c *Client) Pull(ledgerID string, afterSeq int64, limit int, excludeDeviceID string) (*PullResponse, error) {
	params := url.Values{}
	params.Set("after_server_seq", strconv.FormatInt(afterSeq, 10))
	params.Set("limit", strconv.Itoa(limit))
	if excludeDeviceID != "" {
		params.Set("exclude_device", excludeDeviceID)
	}

	var resp PullResponse
	if err := c.do("GET", fmt.Sprintf("/v1/ledgers/%s/sync/pull?%s", ledgerID, params.Encode()), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncStatus gets the sync status for a ledger.
func (c *Client) SyncStatus(ledgerID string) (*SyncStatusResponse, error) {
	var resp SyncStatusResponse
	if err := c.do("GET", fmt.Sprintf("/v1/ledgers/%s/sync/status", ledgerID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SnapshotResponse holds the result of a snapshot download.
type SnapshotResponse struct {
	Data        []byte
	SnapshotSeq int64
}

// Snapshot downloads a snapshot database for bootstrap.
// Returns nil when the server has no events to snapshot.
func (c *Client) Snapshot(ledgerID string) (*SnapshotResponse, error) {
	path := fmt.Sprintf("/v1/ledgers/%s/sync/snapshot", ledgerID)
	req, err := http.NewRequest("GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // no events to snapshot
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrForbidden
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	seqStr := resp.Header.Get("X-Snapshot-Seq")
	if seqStr == "" {
		return nil, fmt.Errorf("snapshot response missing X-Snapshot-Seq header")
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse X-Snapshot-Seq %q: %w", seqStr, err)
	}
	if seq <= 0 {
		return nil, fmt.Errorf("snapshot seq must be positive")
	}

	return &SnapshotResponse{Data: data, SnapshotSeq: seq}, nil
}

// Notifications opens a websocket subscription for change notifications on a ledger.
// The returned channel closes when the connection drops or ctx is cancelled.
// Notifications carry no event data, only a hint that new events exist, so
// they are dropped rather than buffered when the consumer falls behind.
func (c *Client) Notifications(ctx context.Context, ledgerID string) (<-chan Notification, error) {
	wsURL := websocketURL(c.BaseURL) + fmt.Sprintf("/v1/ledgers/%s/sync/subscribe", ledgerID)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.APIKey}},
	})
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, ErrUnauthorized
			case http.StatusForbidden:
				return nil, ErrForbidden
			}
		}
		return nil, fmt.Errorf("dial notifications: %w", err)
	}

	ch := make(chan Notification, 8)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var n Notification
			if err := json.Unmarshal(data, &n); err != nil {
				continue
			}
			select {
			case ch <- n:
			default:
			}
		}
	}()
	return ch, nil
}

// websocketURL converts an http(s) base URL to its ws(s) equivalent.
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated HTTP request.
func (c *Client) do(method, path string, body, result any) error {
	return c.doRequest(method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(method, path string, body, result any) error {
	return c.doRequest(method, path, body, result, false)
}

func (c *Client) doRequest(method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// statusError maps an HTTP error status to a sentinel-wrapped error,
// preserving the server's message when the body parses as an apiError.
func (c *Client) statusError(status int, body []byte) error {
	msg := string(body)
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		msg = apiErr.Error()
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrServer, status, msg)
	default:
		if apiErr.Code != "" {
			return &apiErr
		}
		return fmt.Errorf("HTTP %d: %s", status, msg)
	}
}
