package server

import (
	"errors"
	"net/http"
	"strconv"

	"rota/internal/database"
)

func (s *Server) listDeletedProxies(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	rows, total, err := database.ListDeletedProxies(limit, offset)
	if err != nil {
		writeError(w, "Failed to load deleted proxies", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_proxies": rows,
		"total":           total,
	})
}

func (s *Server) restoreDeletedProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyIDFromRequest(w, r)
	if !ok {
		return
	}

	restored, err := database.RestoreDeletedProxy(id)
	if err != nil {
		writeDeletedProxyError(w, err)
		return
	}

	s.registry.Upsert(entryFromProxy(*restored))
	writeJSON(w, http.StatusOK, s.proxyInfo(*restored))
}

func (s *Server) purgeDeletedProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := database.PurgeDeletedProxy(id); err != nil {
		writeDeletedProxyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeDeletedProxyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrDeletedProxyNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, database.ErrProxyConflict):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
