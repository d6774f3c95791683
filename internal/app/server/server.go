// Package server is the management API: admin auth, proxy CRUD, settings,
// request logs, dashboard aggregates, instances, live log streaming, and
// the prometheus endpoint. It runs beside the proxy listener on its own
// port.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"rota/internal/auth"
	"rota/internal/config"
	"rota/internal/domain"
	"rota/internal/geo"
	"rota/internal/metrics"
	"rota/internal/registry"
)

// Server wires the API routes to the shared runtime state.
type Server struct {
	cfg      config.Config
	registry *registry.Registry
	geo      *geo.Resolver
	hub      *Hub

	// applySettings pushes a validated settings row into the live
	// dispatcher, selector, limiter, and credentials.
	applySettings func(domain.Settings) error

	listener  net.Listener
	srv       *http.Server
	closeOnce sync.Once
}

func New(cfg config.Config, reg *registry.Registry, resolver *geo.Resolver, applySettings func(domain.Settings) error) *Server {
	return &Server{
		cfg:           cfg,
		registry:      reg,
		geo:           resolver,
		hub:           NewHub(),
		applySettings: applySettings,
	}
}

// BroadcastHub returns the websocket hub so the recorder can stream
// request outcomes into it.
func (s *Server) BroadcastHub() *Hub {
	return s.hub
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("GET /api/proxies", s.requireAuth(s.listProxies))
	mux.Handle("POST /api/proxies", s.requireAuth(s.createProxy))
	mux.Handle("POST /api/proxies/import", s.requireAuth(s.importProxies))
	mux.Handle("GET /api/proxies/{id}", s.requireAuth(s.getProxy))
	mux.Handle("PUT /api/proxies/{id}", s.requireAuth(s.updateProxy))
	mux.Handle("DELETE /api/proxies/{id}", s.requireAuth(s.deleteProxy))
	mux.Handle("PATCH /api/proxies/{id}/status", s.requireAuth(s.updateProxyStatus))

	mux.Handle("GET /api/proxies/deleted", s.requireAuth(s.listDeletedProxies))
	mux.Handle("POST /api/proxies/deleted/{id}/restore", s.requireAuth(s.restoreDeletedProxy))
	mux.Handle("DELETE /api/proxies/deleted/{id}", s.requireAuth(s.purgeDeletedProxy))

	mux.Handle("GET /api/settings", s.requireAuth(s.getSettings))
	mux.Handle("PUT /api/settings", s.requireAuth(s.updateSettings))

	mux.Handle("GET /api/logs", s.requireAuth(s.listRequestLogs))
	mux.Handle("GET /api/dashboard", s.requireAuth(s.getDashboard))
	mux.Handle("GET /api/instances", s.requireAuth(s.listInstances))

	mux.Handle("GET /api/ws", s.requireAuth(s.handleWebsocket))
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.APIPort))
	if err != nil {
		return fmt.Errorf("server: listen on api port %d: %w", s.cfg.APIPort, err)
	}
	s.listener = listener

	go s.hub.Run()

	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server: serve", "error", err)
		}
	}()

	log.Info("Management API listening", "addr", listener.Addr().String())
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return fmt.Sprintf(":%d", s.cfg.APIPort)
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		s.hub.Close()
		if s.srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			log.Warn("server: shutdown", "error", err)
		}
	})
}

// requireAuth validates the Bearer token on management routes.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if _, err := auth.ParseToken(s.cfg.JWTSecret, parts[1]); err != nil {
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("server: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
