package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newAuthTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithConfig(t, func(cfg *Config) {
		cfg.AllowSignup = true
		cfg.BaseURL = "http://localhost:8080"
		cfg.KeyExpiry = 365 * 24 * time.Hour
	})
}

func submitUserCode(t *testing.T, srv *Server, userCode string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{"user_code": {userCode}}
	req := httptest.NewRequest("POST", "/auth/verify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func TestDeviceAuthFullFlow(t *testing.T) {
	srv := newAuthTestServer(t)

	// Step 1: the device asks for codes.
	rec := doRequest(t, srv, "POST", "/v1/auth/login/start", "", map[string]string{
		"email": "newuser@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login start status = %d, body %s", rec.Code, rec.Body.String())
	}

	var start loginStartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &start); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if start.DeviceCode == "" || start.UserCode == "" {
		t.Fatal("device_code or user_code is empty")
	}
	if start.VerificationURI != "http://localhost:8080/auth/verify" {
		t.Errorf("verification_uri = %q", start.VerificationURI)
	}
	if start.ExpiresIn != 900 {
		t.Errorf("expires_in = %d, want 900", start.ExpiresIn)
	}
	if start.Interval != 5 {
		t.Errorf("interval = %d, want 5", start.Interval)
	}

	// Step 2: polling before approval reports pending.
	rec = doRequest(t, srv, "POST", "/v1/auth/login/poll", "", map[string]string{
		"device_code": start.DeviceCode,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("poll status = %d, body %s", rec.Code, rec.Body.String())
	}
	var poll loginPollResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &poll); err != nil {
		t.Fatalf("decode poll response: %v", err)
	}
	if poll.Status != "pending" {
		t.Fatalf("poll status = %q, want pending", poll.Status)
	}

	// Step 3: the user enters the code in a browser.
	page := submitUserCode(t, srv, start.UserCode)
	if page.Code != http.StatusOK {
		t.Fatalf("verify submit status = %d, body %s", page.Code, page.Body.String())
	}
	if !strings.Contains(page.Body.String(), "Device linked") {
		t.Fatal("verify page missing success message")
	}

	// Step 4: the next poll hands over the key.
	rec = doRequest(t, srv, "POST", "/v1/auth/login/poll", "", map[string]string{
		"device_code": start.DeviceCode,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("final poll status = %d, body %s", rec.Code, rec.Body.String())
	}
	var complete loginPollResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &complete); err != nil {
		t.Fatalf("decode complete response: %v", err)
	}
	if complete.Status != "complete" {
		t.Fatalf("status = %q, want complete", complete.Status)
	}
	if complete.APIKey == nil || *complete.APIKey == "" {
		t.Fatal("api_key is empty")
	}
	if complete.UserID == nil || *complete.UserID == "" {
		t.Fatal("user_id is empty")
	}
	if complete.Email == nil || *complete.Email != "newuser@example.com" {
		t.Fatal("email missing or wrong in complete response")
	}
	if complete.ExpiresAt == nil || *complete.ExpiresAt == "" {
		t.Fatal("expires_at is empty")
	}

	// Step 5: the key works against authenticated endpoints.
	rec = doRequest(t, srv, "GET", "/v1/ledgers", *complete.APIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list ledgers with new key: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, "GET", "/v1/whoami", *complete.APIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("whoami with new key: status = %d", rec.Code)
	}
	var who whoamiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &who); err != nil {
		t.Fatalf("decode whoami: %v", err)
	}
	if who.Email != "newuser@example.com" {
		t.Errorf("whoami email = %q", who.Email)
	}
	if who.KeyName != "device-auth" {
		t.Errorf("whoami key_name = %q, want device-auth", who.KeyName)
	}
	if who.ExpiresAt == "" {
		t.Error("whoami expires_at is empty for a device-auth key")
	}

	// Step 6: the device code is single-use.
	rec = doRequest(t, srv, "POST", "/v1/auth/login/poll", "", map[string]string{
		"device_code": start.DeviceCode,
	})
	assertErrorCode(t, rec, http.StatusGone, "already_used")
}

func TestDeviceAuthExpiredCode(t *testing.T) {
	srv := newAuthTestServer(t)

	ar, err := srv.store.CreateAuthRequest("expired@example.com")
	if err != nil {
		t.Fatalf("create auth request: %v", err)
	}
	srv.store.ForceExpireAuthRequestForTest(ar.ID, time.Now().UTC().Add(-1*time.Hour))

	rec := doRequest(t, srv, "POST", "/v1/auth/login/poll", "", map[string]string{
		"device_code": ar.DeviceCode,
	})
	assertErrorCode(t, rec, http.StatusGone, "expired")
}

func TestDeviceAuthInvalidUserCode(t *testing.T) {
	srv := newAuthTestServer(t)

	// The page re-renders with an error; never a non-200.
	rec := submitUserCode(t, srv, "ZZZZZZ")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid or expired code") {
		t.Fatal("expected invalid code message")
	}

	rec = submitUserCode(t, srv, "")
	if !strings.Contains(rec.Body.String(), "Please enter a code") {
		t.Fatal("expected empty code message")
	}
}

func TestVerifyAcceptsDashedLowercaseCode(t *testing.T) {
	srv := newAuthTestServer(t)

	rec := doRequest(t, srv, "POST", "/v1/auth/login/start", "", map[string]string{
		"email": "dash@example.com",
	})
	var start loginStartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &start); err != nil {
		t.Fatalf("decode start response: %v", err)
	}

	// Users type what they see, often lowercased or with the display dash.
	code := strings.ToLower(start.UserCode[:3] + "-" + start.UserCode[3:])
	page := submitUserCode(t, srv, code)
	if !strings.Contains(page.Body.String(), "Device linked") {
		t.Fatalf("dashed lowercase code rejected: %s", page.Body.String())
	}
}

func TestLoginStartInvalidEmail(t *testing.T) {
	srv := newAuthTestServer(t)

	rec := doRequest(t, srv, "POST", "/v1/auth/login/start", "", map[string]string{
		"email": "notanemail",
	})
	assertErrorCode(t, rec, http.StatusBadRequest, "bad_request")
}

func TestLoginStartSignupDisabled(t *testing.T) {
	srv := newTestServerWithConfig(t, func(cfg *Config) {
		cfg.AllowSignup = false
		cfg.KeyExpiry = 24 * time.Hour
	})

	rec := doRequest(t, srv, "POST", "/v1/auth/login/start", "", map[string]string{
		"email": "nobody@example.com",
	})
	assertErrorCode(t, rec, http.StatusForbidden, "signup_disabled")

	// Existing accounts can still log in.
	createTestUser(t, srv, "resident@example.com")
	rec = doRequest(t, srv, "POST", "/v1/auth/login/start", "", map[string]string{
		"email": "resident@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("existing user login start status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLoginPollNotFound(t *testing.T) {
	srv := newAuthTestServer(t)

	rec := doRequest(t, srv, "POST", "/v1/auth/login/poll", "", map[string]string{
		"device_code": "nonexistent",
	})
	assertErrorCode(t, rec, http.StatusNotFound, "not_found")
}

func TestVerifyPageGET(t *testing.T) {
	srv := newAuthTestServer(t)

	req := httptest.NewRequest("GET", "/auth/verify", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("verify page status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content-type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), "Link a device") {
		t.Fatal("verify page missing heading")
	}
}
