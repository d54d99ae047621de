package api

import (
	"encoding/json"
	"net/http"

	"github.com/elena/xp/internal/serverdb"
)

// CreateLedgerRequest is the JSON body for POST /v1/ledgers.
type CreateLedgerRequest struct {
	Name string `json:"name"`
	Note string `json:"note"`
}

// LedgerResponse is the JSON representation of a ledger.
type LedgerResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Note      string  `json:"note"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}

// handleCreateLedger handles POST /v1/ledgers.
func (s *Server) handleCreateLedger(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req CreateLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	// Generate the ledger ID and create the event DB first to avoid an
	// orphaned server record
	ledgerID := serverdb.NewID()
	if _, err := s.dbPool.Create(ledgerID); err != nil {
		logFor(r.Context()).Error("create ledger db", "ledger", ledgerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to initialize ledger database")
		return
	}

	ledger, err := s.store.CreateLedgerWithID(ledgerID, req.Name, req.Note, user.UserID)
	if err != nil {
		logFor(r.Context()).Error("create ledger", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create ledger")
		return
	}

	writeJSON(w, http.StatusCreated, ledgerToResponse(ledger))
}

// handleListLedgers handles GET /v1/ledgers.
func (s *Server) handleListLedgers(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	ledgers, err := s.store.ListLedgersForUser(user.UserID)
	if err != nil {
		logFor(r.Context()).Error("list ledgers", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list ledgers")
		return
	}

	resp := make([]LedgerResponse, 0, len(ledgers))
	for _, l := range ledgers {
		resp = append(resp, ledgerToResponse(l))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetLedger handles GET /v1/ledgers/{id}.
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("id")

	ledger, err := s.store.GetLedger(ledgerID, false)
	if err != nil {
		logFor(r.Context()).Error("get ledger", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get ledger")
		return
	}
	if ledger == nil {
		writeError(w, http.StatusNotFound, "not_found", "ledger not found")
		return
	}

	writeJSON(w, http.StatusOK, ledgerToResponse(ledger))
}

// UpdateLedgerRequest is the JSON body for PATCH /v1/ledgers/{id}.
type UpdateLedgerRequest struct {
	Name *string `json:"name"`
	Note *string `json:"note"`
}

// handleUpdateLedger handles PATCH /v1/ledgers/{id}.
func (s *Server) handleUpdateLedger(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("id")

	var req UpdateLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	// Get current ledger to fill in unchanged fields
	current, err := s.store.GetLedger(ledgerID, false)
	if err != nil {
		logFor(r.Context()).Error("get ledger for update", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get ledger")
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "not_found", "ledger not found")
		return
	}

	name := current.Name
	note := current.Note
	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "name cannot be empty")
			return
		}
		name = *req.Name
	}
	if req.Note != nil {
		note = *req.Note
	}

	updated, err := s.store.UpdateLedger(ledgerID, name, note)
	if err != nil {
		logFor(r.Context()).Error("update ledger", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update ledger")
		return
	}

	writeJSON(w, http.StatusOK, ledgerToResponse(updated))
}

// handleDeleteLedger handles DELETE /v1/ledgers/{id}.
func (s *Server) handleDeleteLedger(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("id")

	if err := s.store.SoftDeleteLedger(ledgerID); err != nil {
		logFor(r.Context()).Error("delete ledger", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete ledger")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func ledgerToResponse(l *serverdb.Ledger) LedgerResponse {
	resp := LedgerResponse{
		ID:        l.ID,
		Name:      l.Name,
		Note:      l.Note,
		CreatedAt: l.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: l.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if l.DeletedAt != nil {
		s := l.DeletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.DeletedAt = &s
	}
	return resp
}
