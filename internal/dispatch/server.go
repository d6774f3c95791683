package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Server owns the proxy listener and its http.Server. Tunnels outlive any
// sane read/write timeout, so only the header read is bounded.
type Server struct {
	addr    string
	handler *Handler

	listener  net.Listener
	srv       *http.Server
	closeOnce sync.Once
}

func NewServer(port int, handler *Handler) *Server {
	return &Server{
		addr:    fmt.Sprintf(":%d", port),
		handler: handler,
	}
}

// Start binds the listener and serves until Stop is called. It returns once
// the listener is accepting; serve errors are logged from the background
// goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dispatch: listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("dispatch: serve", "addr", s.addr, "error", err)
		}
	}()

	log.Info("dispatch: proxy server listening", "addr", s.addr)
	return nil
}

// Addr returns the bound address, useful when port 0 was requested.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, allowing in-flight exchanges a short grace
// period. Safe to call more than once.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		if s.srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			log.Warn("dispatch: shutdown", "addr", s.addr, "error", err)
		}
	})
}
