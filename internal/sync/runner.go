package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/syncclient"
)

// DefaultEventBatch caps events per push request and per pull page.
const DefaultEventBatch = 100

// historyKeep bounds the sync_history audit trail.
const historyKeep = 500

// StoreRunner executes the push and pull legs of a replication run against
// the local store. Network calls never happen inside a transaction: pending
// events are read and committed first, then each pushed or pulled batch gets
// its own write transaction for acks, history and cursor advance.
type StoreRunner struct {
	store  *db.DB
	client *syncclient.Client // nil when no endpoint is configured
	batch  int
}

// NewStoreRunner wires a runner over the local store and the sync client.
// Pass a nil client when no endpoint is configured; runs then fail with
// ErrNoEndpoint instead of a nil dereference.
func NewStoreRunner(store *db.DB, client *syncclient.Client) *StoreRunner {
	return &StoreRunner{store: store, client: client, batch: DefaultEventBatch}
}

// precondition loads the sync state and checks that this store is allowed
// to replicate right now.
func (r *StoreRunner) precondition() (*db.SyncState, error) {
	state, err := r.store.GetSyncState()
	if err != nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	if state == nil || state.LedgerID == "" {
		return nil, ErrNotLinked
	}
	if state.SyncDisabled {
		return nil, ErrDisabled
	}
	if r.client == nil {
		return nil, ErrNoEndpoint
	}
	return state, nil
}

// Push uploads pending local actions and marks them synced as the server
// acknowledges them. Returns the number of actions confirmed this call.
func (r *StoreRunner) Push(ctx context.Context) (int, error) {
	state, err := r.precondition()
	if err != nil {
		return 0, err
	}

	events, err := r.collectPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	pushed := 0
	for start := 0; start < len(events); start += r.batch {
		select {
		case <-ctx.Done():
			return pushed, ctx.Err()
		default:
		}

		end := start + r.batch
		if end > len(events) {
			end = len(events)
		}
		n, err := r.pushBatch(ctx, state.LedgerID, events[start:end])
		pushed += n
		if err != nil {
			return pushed, err
		}
	}
	return pushed, nil
}

// collectPending reads the outbound queue in its own transaction. The read
// must commit because GetPendingEvents may insert backfill rows.
func (r *StoreRunner) collectPending(ctx context.Context) ([]Event, error) {
	tx, err := r.store.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pending read: %w", err)
	}
	defer tx.Rollback()

	events, err := GetPendingEvents(tx, r.store.DeviceID(), r.store.Generation())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pending read: %w", err)
	}
	return events, nil
}

// pushBatch sends one batch over the wire and records the outcome. Duplicate
// rejections carry the server sequence of the original insert and are folded
// into the acks, so a retried push drains instead of looping.
func (r *StoreRunner) pushBatch(ctx context.Context, ledgerID string, events []Event) (int, error) {
	req := &syncclient.PushRequest{
		DeviceID:  r.store.DeviceID(),
		SessionID: r.store.Generation(),
		Events:    make([]syncclient.EventInput, 0, len(events)),
	}
	for _, ev := range events {
		req.Events = append(req.Events, syncclient.EventInput{
			ClientActionID:  ev.ClientActionID,
			ActionType:      ev.ActionType,
			EntityType:      ev.EntityType,
			EntityID:        ev.EntityID,
			Payload:         json.RawMessage(ev.Payload),
			ClientTimestamp: ev.ClientTimestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	resp, err := r.client.Push(ledgerID, req)
	if err != nil {
		return 0, fmt.Errorf("push batch: %w", err)
	}

	acks := make([]Ack, 0, len(resp.Acks)+len(resp.Rejected))
	for _, a := range resp.Acks {
		acks = append(acks, Ack{ClientActionID: a.ClientActionID, ServerSeq: a.ServerSeq})
	}
	for _, rej := range resp.Rejected {
		if rej.ServerSeq > 0 {
			acks = append(acks, Ack{ClientActionID: rej.ClientActionID, ServerSeq: rej.ServerSeq})
			continue
		}
		slog.Warn("server rejected event",
			"client_action_id", rej.ClientActionID,
			"reason", rej.Reason)
	}
	if len(acks) == 0 {
		return 0, nil
	}

	tx, err := r.store.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin push record: %w", err)
	}
	defer tx.Rollback()

	if err := MarkEventsSynced(tx, acks); err != nil {
		return 0, err
	}
	if err := db.RecordSyncHistoryTx(tx, pushHistory(r.store.DeviceID(), events, acks)); err != nil {
		return 0, fmt.Errorf("record push history: %w", err)
	}
	if err := db.PruneSyncHistory(tx, historyKeep); err != nil {
		return 0, fmt.Errorf("prune sync history: %w", err)
	}

	var lastActionID int64
	for _, a := range acks {
		if a.ClientActionID > lastActionID {
			lastActionID = a.ClientActionID
		}
	}
	if _, err := tx.Exec(`
		UPDATE sync_state
		SET last_pushed_action_id = MAX(last_pushed_action_id, ?), last_sync_at = CURRENT_TIMESTAMP
	`, lastActionID); err != nil {
		return 0, fmt.Errorf("advance push cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit push record: %w", err)
	}
	return len(acks), nil
}

// pushHistory builds audit entries for the acked subset of a pushed batch.
func pushHistory(deviceID string, events []Event, acks []Ack) []db.SyncHistoryEntry {
	byAction := make(map[int64]*Event, len(events))
	for i := range events {
		byAction[events[i].ClientActionID] = &events[i]
	}

	entries := make([]db.SyncHistoryEntry, 0, len(acks))
	for _, a := range acks {
		ev, ok := byAction[a.ClientActionID]
		if !ok {
			continue
		}
		entries = append(entries, db.SyncHistoryEntry{
			Direction:  db.HistoryPush,
			ActionType: ev.ActionType,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			ServerSeq:  a.ServerSeq,
			DeviceID:   deviceID,
			Timestamp:  ev.ClientTimestamp,
		})
	}
	return entries
}

// Pull downloads remote events page by page and applies each page in its own
// transaction, advancing the pull cursor as it goes. A mid-pull failure loses
// nothing: applied pages are committed and the next pull resumes after them.
func (r *StoreRunner) Pull(ctx context.Context) (PullStats, error) {
	var stats PullStats

	state, err := r.precondition()
	if err != nil {
		return stats, err
	}

	after := state.LastPulledServerSeq
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		resp, err := r.client.Pull(state.LedgerID, after, r.batch, r.store.DeviceID())
		if err != nil {
			return stats, fmt.Errorf("pull after seq %d: %w", after, err)
		}
		if len(resp.Events) == 0 && !resp.HasMore {
			return stats, nil
		}

		events := decodePullEvents(resp.Events)
		res, err := r.applyBatch(ctx, events)
		if err != nil {
			return stats, err
		}
		stats.Events += res.Applied
		stats.Conflicts += len(res.Conflicts)
		for _, f := range res.Failed {
			slog.Warn("remote event not applied", "server_seq", f.ServerSeq, "error", f.Error)
		}

		prev := after
		if res.LastAppliedSeq > after {
			after = res.LastAppliedSeq
		} else if resp.LastServerSeq > after {
			after = resp.LastServerSeq
		}
		if !resp.HasMore {
			return stats, nil
		}
		if after == prev {
			return stats, fmt.Errorf("pull cursor stalled at seq %d", after)
		}
	}
}

// applyBatch applies one page of remote events atomically with its history
// entries and cursor advance.
func (r *StoreRunner) applyBatch(ctx context.Context, events []Event) (*ApplyResult, error) {
	tx, err := r.store.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pull apply: %w", err)
	}
	defer tx.Rollback()

	res, err := ApplyRemoteEvents(tx, r.store.DeviceID(), r.store.Generation(), events)
	if err != nil {
		return nil, err
	}

	if err := db.RecordSyncHistoryTx(tx, pullHistory(r.store.DeviceID(), events)); err != nil {
		return nil, fmt.Errorf("record pull history: %w", err)
	}
	if err := db.PruneSyncHistory(tx, historyKeep); err != nil {
		return nil, fmt.Errorf("prune sync history: %w", err)
	}

	if res.LastAppliedSeq > 0 {
		if _, err := tx.Exec(`
			UPDATE sync_state
			SET last_pulled_server_seq = MAX(last_pulled_server_seq, ?), last_sync_at = CURRENT_TIMESTAMP
		`, res.LastAppliedSeq); err != nil {
			return nil, fmt.Errorf("advance pull cursor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pull apply: %w", err)
	}
	return res, nil
}

// pullHistory builds audit entries for a pulled page, skipping this device's
// own echoes.
func pullHistory(deviceID string, events []Event) []db.SyncHistoryEntry {
	entries := make([]db.SyncHistoryEntry, 0, len(events))
	for _, ev := range events {
		if ev.DeviceID == deviceID {
			continue
		}
		entries = append(entries, db.SyncHistoryEntry{
			Direction:  db.HistoryPull,
			ActionType: ev.ActionType,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			ServerSeq:  ev.ServerSeq,
			DeviceID:   ev.DeviceID,
			Timestamp:  ev.ClientTimestamp,
		})
	}
	return entries
}

// decodePullEvents converts wire events into engine events. A malformed
// client timestamp degrades merge ordering for that event but must not block
// the pull, so it is logged and zeroed instead of failing the page.
func decodePullEvents(wire []syncclient.PullEvent) []Event {
	events := make([]Event, 0, len(wire))
	for _, w := range wire {
		ev := Event{
			ServerSeq:      w.ServerSeq,
			DeviceID:       w.DeviceID,
			SessionID:      w.SessionID,
			ClientActionID: w.ClientActionID,
			ActionType:     w.ActionType,
			EntityType:     w.EntityType,
			EntityID:       w.EntityID,
			Payload:        []byte(w.Payload),
		}
		if w.ClientTimestamp != "" {
			ts, err := parseTimestamp(w.ClientTimestamp)
			if err != nil {
				slog.Warn("bad client timestamp on pulled event",
					"server_seq", w.ServerSeq, "value", w.ClientTimestamp)
			} else {
				ev.ClientTimestamp = ts
			}
		}
		events = append(events, ev)
	}
	return events
}

// Summary samples the local store for the convergence detector. Counts are
// local only; two devices converge when their summaries stop changing and
// nothing is left to push.
func (r *StoreRunner) Summary(ctx context.Context) (Summary, error) {
	counts, err := r.store.RecordCounts()
	if err != nil {
		return Summary{}, fmt.Errorf("record counts: %w", err)
	}
	pending, err := r.store.CountPendingActions()
	if err != nil {
		return Summary{}, fmt.Errorf("count pending actions: %w", err)
	}
	return Summary{PerKindCounts: counts, PendingActions: pending}, nil
}
