package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"rota/internal/api/dto"
	"rota/internal/database"
	"rota/internal/domain"
	"rota/internal/registry"
)

func (s *Server) listProxies(w http.ResponseWriter, _ *http.Request) {
	proxies, err := database.GetAllProxies()
	if err != nil {
		writeError(w, "Failed to load proxies", http.StatusInternalServerError)
		return
	}

	infos := make([]dto.ProxyInfo, 0, len(proxies))
	for _, proxy := range proxies {
		infos = append(infos, s.proxyInfo(proxy))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proxies": infos})
}

func (s *Server) getProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyIDFromRequest(w, r)
	if !ok {
		return
	}

	proxy, err := database.GetProxyByID(id)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.proxyInfo(*proxy))
}

func (s *Server) createProxy(w http.ResponseWriter, r *http.Request) {
	var payload dto.ProxyUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	proxy := proxyFromRequest(payload)
	if proxy.Country == "" && s.geo != nil {
		proxy.Country = s.geo.Country(proxy.Host)
	}

	created, err := database.CreateProxy(proxy)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	s.registry.Upsert(entryFromProxy(*created))
	writeJSON(w, http.StatusCreated, s.proxyInfo(*created))
}

func (s *Server) updateProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyIDFromRequest(w, r)
	if !ok {
		return
	}

	var payload dto.ProxyUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	updated, err := database.UpdateProxy(id, proxyFromRequest(payload))
	if err != nil {
		writeProxyError(w, err)
		return
	}

	s.registry.Upsert(entryFromProxy(*updated))
	writeJSON(w, http.StatusOK, s.proxyInfo(*updated))
}

func (s *Server) deleteProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := database.DeleteProxy(id); err != nil {
		writeProxyError(w, err)
		return
	}

	s.registry.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateProxyStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyIDFromRequest(w, r)
	if !ok {
		return
	}

	var payload dto.ProxyStatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	updated, err := database.SetProxyStatus(id, payload.Status)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	if err := s.registry.SetStatus(id, registry.Status(updated.Status)); err != nil && !errors.Is(err, registry.ErrProxyNotFound) {
		writeError(w, "Failed to apply status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.proxyInfo(*updated))
}

func (s *Server) importProxies(w http.ResponseWriter, r *http.Request) {
	var payload dto.AddProxiesRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if len(payload.Proxies) == 0 {
		writeError(w, "No proxies provided", http.StatusBadRequest)
		return
	}

	inserted, rejected, err := database.ImportProxies(payload.Proxies, payload.Protocol)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	infos := make([]dto.ProxyInfo, 0, len(inserted))
	for _, proxy := range inserted {
		if proxy.Country == "" && s.geo != nil {
			if country := s.geo.Country(proxy.Host); country != "" {
				proxy.Country = country
				if updated, err := database.UpdateProxy(proxy.ID, proxy); err == nil {
					proxy = *updated
				}
			}
		}
		s.registry.Upsert(entryFromProxy(proxy))
		infos = append(infos, s.proxyInfo(proxy))
	}

	writeJSON(w, http.StatusCreated, dto.AddProxiesResponse{
		Imported: len(inserted),
		Rejected: rejected,
		Proxies:  infos,
	})
}

// proxyInfo merges the persisted row with the registry's runtime view.
func (s *Server) proxyInfo(proxy domain.Proxy) dto.ProxyInfo {
	info := dto.ProxyInfo{
		ID:            proxy.ID,
		Host:          proxy.Host,
		Port:          proxy.Port,
		Protocol:      proxy.Protocol,
		Username:      proxy.Username,
		HasAuth:       proxy.HasAuth(),
		Country:       proxy.Country,
		Status:        proxy.Status,
		LatencyMS:     proxy.LatencyMS,
		LastCheckedAt: proxy.LastCheckedAt,
		TotalRequests: proxy.TotalRequests,
		TotalFailures: proxy.TotalFailures,
		CreatedAt:     proxy.CreatedAt,
	}

	if view, err := s.registry.Get(proxy.ID); err == nil {
		info.Status = string(view.Status)
		info.ActiveConnections = view.ActiveConnections
		info.TotalRequests = view.TotalRequests
		info.TotalFailures = view.TotalFailures
		if view.LastLatency > 0 {
			info.LatencyMS = view.LastLatency.Milliseconds()
		}
	}
	return info
}

func proxyFromRequest(payload dto.ProxyUpsertRequest) domain.Proxy {
	return domain.Proxy{
		Host:     strings.TrimSpace(payload.Host),
		Port:     payload.Port,
		Protocol: payload.Protocol,
		Username: strings.TrimSpace(payload.Username),
		Password: payload.Password,
		Country:  payload.Country,
		Status:   payload.Status,
	}
}

func entryFromProxy(proxy domain.Proxy) registry.Entry {
	return registry.Entry{
		ID:       proxy.ID,
		Host:     proxy.Host,
		Port:     proxy.Port,
		Protocol: proxy.Protocol,
		Username: proxy.Username,
		Password: proxy.Password,
		Status:   registry.Status(proxy.Status),
	}
}

func proxyIDFromRequest(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	rawID := strings.TrimSpace(r.PathValue("id"))
	if rawID == "" {
		writeError(w, "Missing proxy id", http.StatusBadRequest)
		return 0, false
	}

	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		writeError(w, "Invalid proxy id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeProxyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrProxyHostRequired),
		errors.Is(err, database.ErrProxyPortInvalid),
		errors.Is(err, database.ErrProxyProtocolInvalid),
		errors.Is(err, database.ErrProxyStatusInvalid):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, database.ErrProxyConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, database.ErrProxyNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
