package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	xpdb "github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	xpsync "github.com/elena/xp/internal/sync"
)

// PushRequest is the JSON body for POST /v1/ledgers/{id}/sync/push.
type PushRequest struct {
	DeviceID  string       `json:"device_id"`
	SessionID string       `json:"session_id"`
	Events    []EventInput `json:"events"`
}

// EventInput represents a single event in a push request.
type EventInput struct {
	ClientActionID  int64           `json:"client_action_id"`
	ActionType      string          `json:"action_type"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Payload         json.RawMessage `json:"payload"`
	ClientTimestamp string          `json:"client_timestamp"`
}

const (
	maxPushBatch = 1000
	maxPullLimit = 10000
	defPullLimit = 1000
)

// PushResponse is the JSON response for a push request.
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

// PullResponse is the JSON response for a pull request.
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

// SyncStatusResponse is the JSON response for GET /v1/ledgers/{id}/sync/status.
type SyncStatusResponse struct {
	EventCount    int64  `json:"event_count"`
	LastServerSeq int64  `json:"last_server_seq"`
	LastEventTime string `json:"last_event_time,omitempty"`
}

// handleSyncPush handles POST /v1/ledgers/{id}/sync/push.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("id")

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "device_id is required")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session_id is required")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "events array is empty")
		return
	}
	if len(req.Events) > maxPushBatch {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("batch size %d exceeds max %d", len(req.Events), maxPushBatch))
		return
	}

	// Validate and normalize entity types so the log stores canonical names
	for i, ev := range req.Events {
		et, ok := models.NormalizeEntityType(ev.EntityType)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid entity_type: %s", ev.EntityType))
			return
		}
		req.Events[i].EntityType = et
	}

	// Convert to sync.Event
	events := make([]xpsync.Event, len(req.Events))
	for i, ev := range req.Events {
		ts, err := time.Parse(time.RFC3339, ev.ClientTimestamp)
		if err != nil {
			ts, err = time.Parse(time.RFC3339Nano, ev.ClientTimestamp)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid timestamp for action %d", ev.ClientActionID))
				return
			}
		}
		events[i] = xpsync.Event{
			ClientActionID:  ev.ClientActionID,
			DeviceID:        req.DeviceID,
			SessionID:       req.SessionID,
			ActionType:      ev.ActionType,
			EntityType:      ev.EntityType,
			EntityID:        ev.EntityID,
			Payload:         ev.Payload,
			ClientTimestamp: ts,
		}
	}

	db, err := s.dbPool.Get(ledgerID)
	if err != nil {
		logFor(r.Context()).Error("get ledger db", "ledger", ledgerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open ledger database")
		return
	}

	tx, err := db.Begin()
	if err != nil {
		logFor(r.Context()).Error("begin tx", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "database error")
		return
	}
	defer tx.Rollback()

	result, err := xpsync.InsertServerEvents(tx, events)
	if err != nil {
		logFor(r.Context()).Error("insert events", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert events")
		return
	}

	if err := tx.Commit(); err != nil {
		logFor(r.Context()).Error("commit tx", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to commit")
		return
	}

	s.metrics.RecordPushEvents(int64(result.Accepted))

	resp := PushResponse{Accepted: result.Accepted}
	var lastSeq int64
	for _, a := range result.Acks {
		resp.Acks = append(resp.Acks, AckResponse{
			ClientActionID: a.ClientActionID,
			ServerSeq:      a.ServerSeq,
		})
		if a.ServerSeq > lastSeq {
			lastSeq = a.ServerSeq
		}
	}
	for _, rej := range result.Rejected {
		resp.Rejected = append(resp.Rejected, RejectResponse{
			ClientActionID: rej.ClientActionID,
			Reason:         rej.Reason,
			ServerSeq:      rej.ServerSeq,
		})
	}

	if result.Accepted > 0 {
		s.notifyLedger(ledgerID, entityTypesOf(req.Events), lastSeq)
	}

	writeJSON(w, http.StatusOK, resp)
}

// entityTypesOf returns the distinct entity types in a push batch.
func entityTypesOf(events []EventInput) []string {
	seen := make(map[string]bool, 3)
	var out []string
	for _, ev := range events {
		if !seen[ev.EntityType] {
			seen[ev.EntityType] = true
			out = append(out, ev.EntityType)
		}
	}
	return out
}

// handleSyncPull handles GET /v1/ledgers/{id}/sync/pull.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordPullRequest()
	ledgerID := r.PathValue("id")

	afterSeq := int64(0)
	if v := r.URL.Query().Get("after_server_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid after_server_seq")
			return
		}
		afterSeq = n
	}

	limit := defPullLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		if n > maxPullLimit {
			n = maxPullLimit
		}
		limit = n
	}

	db, err := s.dbPool.Get(ledgerID)
	if err != nil {
		logFor(r.Context()).Error("get ledger db", "ledger", ledgerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open ledger database")
		return
	}

	tx, err := db.Begin()
	if err != nil {
		logFor(r.Context()).Error("begin tx", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "database error")
		return
	}
	defer tx.Rollback()

	excludeDevice := r.URL.Query().Get("exclude_device")
	result, err := xpsync.GetEventsSince(tx, afterSeq, limit, excludeDevice)
	if err != nil {
		logFor(r.Context()).Error("get events", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to query events")
		return
	}

	tx.Rollback() // read-only, just release

	// Track how far each device has pulled. The cursor is advisory; the
	// authoritative cursor lives on the device.
	if excludeDevice != "" {
		if err := s.store.UpsertSyncCursor(ledgerID, excludeDevice, result.LastServerSeq); err != nil {
			logFor(r.Context()).Warn("upsert sync cursor", "device", excludeDevice, "err", err)
		}
	}

	resp := PullResponse{
		LastServerSeq: result.LastServerSeq,
		HasMore:       result.HasMore,
		Events:        make([]PullEvent, len(result.Events)),
	}
	for i, ev := range result.Events {
		resp.Events[i] = PullEvent{
			ServerSeq:       ev.ServerSeq,
			DeviceID:        ev.DeviceID,
			SessionID:       ev.SessionID,
			ClientActionID:  ev.ClientActionID,
			ActionType:      ev.ActionType,
			EntityType:      ev.EntityType,
			EntityID:        ev.EntityID,
			Payload:         ev.Payload,
			ClientTimestamp: ev.ClientTimestamp.Format(time.RFC3339Nano),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSyncStatus handles GET /v1/ledgers/{id}/sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("id")

	db, err := s.dbPool.Get(ledgerID)
	if err != nil {
		logFor(r.Context()).Error("get ledger db", "ledger", ledgerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open ledger database")
		return
	}

	stats, err := xpsync.GetServerLogStats(db)
	if err != nil {
		logFor(r.Context()).Error("query log stats", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "database error")
		return
	}

	resp := SyncStatusResponse{
		EventCount:    stats.EventCount,
		LastServerSeq: stats.LastServerSeq,
	}
	if stats.EventCount > 0 {
		resp.LastEventTime = stats.LastEventTime.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSyncSnapshot handles GET /v1/ledgers/{id}/sync/snapshot.
// Builds a snapshot database by replaying all events, then streams it to the client.
func (s *Server) handleSyncSnapshot(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("id")

	eventsDB, err := s.dbPool.Get(ledgerID)
	if err != nil {
		logFor(r.Context()).Error("get ledger db", "ledger", ledgerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open ledger database")
		return
	}

	// Get the latest server_seq
	var lastSeq int64
	if err := eventsDB.QueryRow(`SELECT COALESCE(MAX(server_seq), 0) FROM events`).Scan(&lastSeq); err != nil {
		logFor(r.Context()).Error("query max seq", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "database error")
		return
	}

	if lastSeq == 0 {
		writeError(w, http.StatusNotFound, "no_events", "no events to snapshot")
		return
	}

	// Snapshots are cached per head seq. A snapshot at seq N never changes,
	// so a cache hit skips the replay entirely.
	cacheDir := filepath.Join(s.config.LedgerDataDir, "snapshots", ledgerID)
	cachePath := filepath.Join(cacheDir, fmt.Sprintf("%d.db", lastSeq))

	if _, err := os.Stat(cachePath); err != nil {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			logFor(r.Context()).Error("create snapshot dir", "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to create snapshot")
			return
		}

		// Build into a temp file in the same directory so the rename is atomic.
		tmpFile, err := os.CreateTemp(cacheDir, "build-*.db")
		if err != nil {
			logFor(r.Context()).Error("create temp file", "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to create snapshot")
			return
		}
		tmpPath := tmpFile.Name()
		tmpFile.Close()

		if err := buildSnapshot(eventsDB, tmpPath, lastSeq); err != nil {
			os.Remove(tmpPath)
			logFor(r.Context()).Error("build snapshot", "ledger", ledgerID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to build snapshot")
			return
		}

		if err := os.Rename(tmpPath, cachePath); err != nil {
			os.Remove(tmpPath)
			logFor(r.Context()).Error("cache snapshot", "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to cache snapshot")
			return
		}

		pruneSnapshotCache(cacheDir, cachePath)
		logFor(r.Context()).Info("snapshot built", "ledger", ledgerID, "seq", lastSeq)
	}

	// Stream the snapshot file
	f, err := os.Open(cachePath)
	if err != nil {
		logFor(r.Context()).Error("open snapshot", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read snapshot")
		return
	}
	defer f.Close()

	stat, _ := f.Stat()
	w.Header().Set("Content-Type", "application/x-sqlite3")
	w.Header().Set("X-Snapshot-Seq", strconv.FormatInt(lastSeq, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(stat.Size(), 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

// pruneSnapshotCache removes cached snapshots superseded by the one just
// built. In-flight build temp files are left alone.
func pruneSnapshotCache(dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "build-") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if p == keep {
			continue
		}
		os.Remove(p)
	}
}

// buildSnapshot replays events from the events DB into a new snapshot DB.
// The snapshot starts from the base store schema with no pending actions,
// so replay never takes the conflict merge path.
func buildSnapshot(eventsDB *sql.DB, snapshotPath string, upToSeq int64) error {
	snapDB, err := sql.Open("sqlite", snapshotPath)
	if err != nil {
		return fmt.Errorf("open snapshot db: %w", err)
	}
	defer snapDB.Close()

	if _, err := snapDB.Exec(xpdb.BaseSchema()); err != nil {
		return fmt.Errorf("init snapshot schema: %w", err)
	}

	afterSeq := int64(0)
	batchSize := 1000

	for {
		tx, err := eventsDB.Begin()
		if err != nil {
			return fmt.Errorf("begin event read tx: %w", err)
		}

		result, err := xpsync.GetEventsSince(tx, afterSeq, batchSize, "")
		tx.Rollback() // read-only

		if err != nil {
			return fmt.Errorf("get events after %d: %w", afterSeq, err)
		}
		if len(result.Events) == 0 {
			break
		}

		var batch []xpsync.Event
		for _, ev := range result.Events {
			if ev.ServerSeq > upToSeq {
				break
			}
			batch = append(batch, ev)
		}

		if len(batch) > 0 {
			snapTx, err := snapDB.Begin()
			if err != nil {
				return fmt.Errorf("begin snapshot tx: %w", err)
			}

			if _, err := xpsync.ApplyRemoteEvents(snapTx, "", "snapshot", batch); err != nil {
				snapTx.Rollback()
				return fmt.Errorf("apply events: %w", err)
			}

			if err := snapTx.Commit(); err != nil {
				return fmt.Errorf("commit snapshot: %w", err)
			}
		}

		afterSeq = result.LastServerSeq
		if !result.HasMore || afterSeq >= upToSeq {
			break
		}
	}

	return nil
}
