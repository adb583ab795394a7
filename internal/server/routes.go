package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/telemetry"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.Handle("/metrics", telemetry.Handler())

	// Connections
	mux.HandleFunc("/api/connections/", s.routeConnections)

	// Provider accounts
	mux.HandleFunc("/api/provider-accounts/", s.routeProviderAccounts)

	// Sync runs
	mux.HandleFunc("/api/sync-runs/", s.handleSyncRunGet)
}

// routeConnections dispatches /api/connections/{id}/{action}.
func (s *Server) routeConnections(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/connections/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	id := parts[0]
	switch parts[1] {
	case "sync":
		s.handleConnectionSync(w, r, id)
	case "sync-runs":
		s.handleConnectionSyncRuns(w, r, id)
	case "disconnect":
		s.handleConnectionDisconnect(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// routeProviderAccounts dispatches /api/provider-accounts/{id}/{action}.
func (s *Server) routeProviderAccounts(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/provider-accounts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 2 && parts[0] != "" && parts[1] == "link" {
		s.handleProviderAccountLink(w, r, parts[0])
		return
	}
	WriteError(w, http.StatusNotFound, "Not found")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.CurrentBuild())
}
