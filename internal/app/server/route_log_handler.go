package server

import (
	"net/http"
	"strconv"
	"strings"

	"rota/internal/database"
	"rota/internal/registry"
)

func (s *Server) listRequestLogs(w http.ResponseWriter, r *http.Request) {
	filter := database.RequestLogFilter{
		ClientIP: strings.TrimSpace(r.URL.Query().Get("client_ip")),
	}

	if raw := r.URL.Query().Get("proxy_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, "Invalid proxy_id", http.StatusBadRequest)
			return
		}
		filter.ProxyID = id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = offset
	}
	switch r.URL.Query().Get("outcome") {
	case "":
	case "success":
		filter.OnlySuccess = true
	case "failure":
		filter.OnlyFailed = true
	default:
		writeError(w, "Invalid outcome filter", http.StatusBadRequest)
		return
	}

	rows, total, err := database.ListRequestLogs(filter)
	if err != nil {
		writeError(w, "Failed to load request logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  rows,
		"total": total,
	})
}

func (s *Server) getDashboard(w http.ResponseWriter, _ *http.Request) {
	stats, err := database.GetDashboardStats()
	if err != nil {
		writeError(w, "Failed to load dashboard stats", http.StatusInternalServerError)
		return
	}

	var active, inactive, unhealthy, checking, inflight int64
	for _, view := range s.registry.Snapshot() {
		inflight += view.ActiveConnections
		switch view.Status {
		case registry.StatusActive:
			active++
		case registry.StatusInactive:
			inactive++
		case registry.StatusUnhealthy:
			unhealthy++
		case registry.StatusChecking:
			checking++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": stats,
		"proxies": map[string]int64{
			"total":     int64(s.registry.Len()),
			"active":    active,
			"inactive":  inactive,
			"unhealthy": unhealthy,
			"checking":  checking,
		},
		"active_tunnels": inflight,
	})
}
