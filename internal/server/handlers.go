package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bobmcallan/provsync/internal/models"
)

// handleConnectionSync handles POST /api/connections/{id}/sync.
func (s *Server) handleConnectionSync(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	queued, err := s.app.RequestSync(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := "queued"
	if !queued {
		status = "already_queued"
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"connection_id": id,
		"status":        status,
	})
}

// handleConnectionSyncRuns handles GET /api/connections/{id}/sync-runs?limit=N.
func (s *Server) handleConnectionSyncRuns(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.app.ListSyncRuns(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.SyncRun{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"connection_id": id,
		"sync_runs":     runs,
	})
}

// handleConnectionDisconnect handles POST /api/connections/{id}/disconnect?dry_run=true.
func (s *Server) handleConnectionDisconnect(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "true"
	result, err := s.app.Disconnect(r.Context(), id, dryRun)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if result.Results == nil {
		result.Results = []models.UnlinkResult{}
	}
	WriteJSON(w, http.StatusOK, result)
}

type linkRequest struct {
	AccountID string `json:"account_id"`
}

// handleProviderAccountLink handles POST /api/provider-accounts/{id}/link.
func (s *Server) handleProviderAccountLink(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req linkRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	link, err := s.app.LinkAccount(r.Context(), id, req.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, link)
}

// handleSyncRunGet handles GET /api/sync-runs/{id}.
func (s *Server) handleSyncRunGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := PathParam(r, "/api/sync-runs/", "")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "sync run id is required in path")
		return
	}

	run, err := s.app.GetSyncRun(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// writeDomainError maps the model error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, "Not found", "not_found")
	case errors.Is(err, models.ErrUnauthorized):
		WriteErrorWithCode(w, http.StatusConflict, "Connection requires re-authentication", "requires_update")
	case errors.Is(err, models.ErrSyncInProgress):
		WriteErrorWithCode(w, http.StatusConflict, "A sync of this connection is in progress", "sync_in_progress")
	case errors.Is(err, models.ErrDuplicateRecord):
		WriteErrorWithCode(w, http.StatusConflict, "Already linked to a different account", "already_linked")
	default:
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
