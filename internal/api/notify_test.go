package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestNotifyHubBroadcast(t *testing.T) {
	hub := newNotifyHub()

	subA1 := hub.subscribe("ledger-a")
	subA2 := hub.subscribe("ledger-a")
	subB := hub.subscribe("ledger-b")

	sent := hub.broadcast("ledger-a", syncNotification{LedgerID: "ledger-a", LastServerSeq: 7})
	if sent != 2 {
		t.Fatalf("expected broadcast to reach 2 subscribers, got %d", sent)
	}

	for i, sub := range []*subscriber{subA1, subA2} {
		select {
		case n := <-sub.ch:
			if n.LastServerSeq != 7 {
				t.Fatalf("subscriber %d: expected seq 7, got %d", i+1, n.LastServerSeq)
			}
		default:
			t.Fatalf("subscriber %d: expected a queued notification", i+1)
		}
	}

	if len(subB.ch) != 0 {
		t.Fatal("expected ledger-b subscriber to receive nothing")
	}
}

func TestNotifyHubUnsubscribe(t *testing.T) {
	hub := newNotifyHub()

	sub := hub.subscribe("ledger-a")
	hub.unsubscribe("ledger-a", sub)

	if sent := hub.broadcast("ledger-a", syncNotification{}); sent != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", sent)
	}
}

func TestNotifyHubFullQueueSkipped(t *testing.T) {
	hub := newNotifyHub()

	sub := hub.subscribe("ledger-a")
	for i := 0; i < cap(sub.ch); i++ {
		if sent := hub.broadcast("ledger-a", syncNotification{LastServerSeq: int64(i)}); sent != 1 {
			t.Fatalf("broadcast %d: expected delivery, got %d", i, sent)
		}
	}

	// Queue is full now; the slow subscriber is skipped, not blocked on
	if sent := hub.broadcast("ledger-a", syncNotification{LastServerSeq: 99}); sent != 0 {
		t.Fatalf("expected full queue to be skipped, got %d", sent)
	}
}

func TestNotifyHubCloseAll(t *testing.T) {
	hub := newNotifyHub()

	sub := hub.subscribe("ledger-a")
	hub.closeAll()

	if _, ok := <-sub.ch; ok {
		t.Fatal("expected subscriber channel to be closed")
	}

	if hub.subscribe("ledger-a") != nil {
		t.Fatal("expected subscribe after shutdown to return nil")
	}

	// Second closeAll is a no-op
	hub.closeAll()
}

// waitForSubscriber polls until the hub has a registered subscriber for the
// ledger. The websocket handshake completes before the handler registers,
// so a push immediately after dial could otherwise miss the subscriber.
func waitForSubscriber(t *testing.T, srv *Server, ledgerID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		srv.hub.mu.Lock()
		n := len(srv.hub.subs[ledgerID])
		srv.hub.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for subscriber registration")
}

func dialSubscribe(t *testing.T, h *TestHarness, ledgerID, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, h.BaseURL+"/v1/ledgers/"+ledgerID+"/sync/subscribe",
		&websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
		})
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	return conn
}

func TestSyncSubscribePushNotifies(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("subscriber@test.com")
	ledgerID := h.CreateLedger(token, "notify-test")

	conn := dialSubscribe(t, h, ledgerID, token)
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitForSubscriber(t, h.Server, ledgerID)

	events := []EventInput{
		{
			ClientActionID:  1,
			ActionType:      "create",
			EntityType:      "expenses",
			EntityID:        "e_notify_1",
			Payload:         json.RawMessage(`{"schema_version":1,"new_data":{"id":"e_notify_1","amount":"5.00","currency":"USD","spent_on":"2025-02-01","created_at":"2025-02-01T00:00:00Z","updated_at":"2025-02-01T00:00:00Z"}}`),
			ClientTimestamp: "2025-02-01T00:00:00Z",
		},
		{
			ClientActionID:  2,
			ActionType:      "create",
			EntityType:      "expenses",
			EntityID:        "e_notify_2",
			Payload:         json.RawMessage(`{"schema_version":1,"new_data":{"id":"e_notify_2","amount":"8.50","currency":"USD","spent_on":"2025-02-01","created_at":"2025-02-01T00:00:00Z","updated_at":"2025-02-01T00:00:00Z"}}`),
			ClientTimestamp: "2025-02-01T00:00:00Z",
		},
	}
	h.PushEvents(token, ledgerID, events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n syncNotification
	if err := wsjson.Read(ctx, conn, &n); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if n.LedgerID != ledgerID {
		t.Fatalf("expected ledger %s, got %s", ledgerID, n.LedgerID)
	}
	if n.LastServerSeq != 2 {
		t.Fatalf("expected last_server_seq 2, got %d", n.LastServerSeq)
	}
	if len(n.EntityTypes) != 1 || n.EntityTypes[0] != "expenses" {
		t.Fatalf("expected entity_types [expenses], got %v", n.EntityTypes)
	}

	// A retry of the same batch is all duplicates; nothing new to announce
	h.PushEvents(token, ledgerID, events)

	quiet, cancelQuiet := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancelQuiet()
	var extra syncNotification
	if err := wsjson.Read(quiet, conn, &extra); err == nil {
		t.Fatalf("expected no notification for duplicate push, got %+v", extra)
	}
}

func TestSyncSubscribeRequiresAuth(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("subscriber@test.com")
	ledgerID := h.CreateLedger(token, "notify-auth")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := websocket.Dial(ctx, h.BaseURL+"/v1/ledgers/"+ledgerID+"/sync/subscribe", nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
}

func TestSyncSubscribeServerShutdown(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("subscriber@test.com")
	ledgerID := h.CreateLedger(token, "notify-shutdown")

	conn := dialSubscribe(t, h, ledgerID, token)
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitForSubscriber(t, h.Server, ledgerID)

	h.Server.hub.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n syncNotification
	err := wsjson.Read(ctx, conn, &n)
	if err == nil {
		t.Fatal("expected connection to close after shutdown")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("expected going away close status, got %v", status)
	}
}
