package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// syncNotification is pushed to subscribed devices when a ledger's event
// log grows. It carries no event data, only a hint to pull.
type syncNotification struct {
	LedgerID      string   `json:"ledger_id"`
	EntityTypes   []string `json:"entity_types"`
	LastServerSeq int64    `json:"last_server_seq"`
}

// notifyHub fans out change notifications to websocket subscribers, keyed
// by ledger ID.
type notifyHub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan syncNotification
}

func newNotifyHub() *notifyHub {
	return &notifyHub{subs: make(map[string]map[*subscriber]struct{})}
}

// subscribe registers a new subscriber for the ledger. Returns nil if the
// hub has been shut down.
func (h *notifyHub) subscribe(ledgerID string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	sub := &subscriber{ch: make(chan syncNotification, 4)}
	if h.subs[ledgerID] == nil {
		h.subs[ledgerID] = make(map[*subscriber]struct{})
	}
	h.subs[ledgerID][sub] = struct{}{}
	return sub
}

// unsubscribe removes a subscriber. The channel is left open; only closeAll
// closes subscriber channels.
func (h *notifyHub) unsubscribe(ledgerID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[ledgerID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, ledgerID)
		}
	}
}

// broadcast delivers a notification to every subscriber of the ledger and
// returns the number of queues it reached. Full queues are skipped.
func (h *notifyHub) broadcast(ledgerID string, n syncNotification) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for sub := range h.subs[ledgerID] {
		select {
		case sub.ch <- n:
			sent++
		default:
		}
	}
	return sent
}

// closeAll closes every subscriber channel so connection handlers unwind.
func (h *notifyHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
}

// notifyLedger pushes a change hint to the ledger's subscribers.
func (s *Server) notifyLedger(ledgerID string, entityTypes []string, lastSeq int64) {
	sent := s.hub.broadcast(ledgerID, syncNotification{
		LedgerID:      ledgerID,
		EntityTypes:   entityTypes,
		LastServerSeq: lastSeq,
	})
	if sent > 0 {
		s.metrics.RecordNotifications(int64(sent))
	}
}

// handleSyncSubscribe handles GET /v1/ledgers/{id}/sync/subscribe. It
// upgrades the connection to a websocket and streams change notifications
// until the client disconnects or the server shuts down.
func (s *Server) handleSyncSubscribe(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logFor(r.Context()).Warn("websocket accept", "err", err)
		return
	}

	sub := s.hub.subscribe(ledgerID)
	if sub == nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.hub.unsubscribe(ledgerID, sub)

	s.metrics.SubscriberConnected()
	defer s.metrics.SubscriberDisconnected()

	logFor(r.Context()).Info("subscriber connected")

	// Subscribers never send data frames; CloseRead watches for disconnect.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case n, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, n)
			cancel()
			if err != nil {
				logFor(r.Context()).Debug("notify write failed", "err", err)
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
