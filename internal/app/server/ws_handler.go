package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"rota/internal/health"
	"rota/internal/logging"
)

// wsMessage is the envelope written to websocket clients.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// healthUpdate mirrors one probe result for dashboard consumers.
type healthUpdate struct {
	ProxyID   uint64    `json:"proxy_id"`
	Healthy   bool      `json:"healthy"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Hub maintains the set of websocket clients and fans request outcomes out
// to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Debug("Websocket client registered", "remote_addr", conn.RemoteAddr().String())
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Debug("Websocket write failed", "remote_addr", conn.RemoteAddr().String(), "error", err)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// BroadcastRecord streams one tunnel outcome to every connected client.
// Drops the message when the channel is full rather than slowing the
// dispatch path down.
func (h *Hub) BroadcastRecord(rec logging.Record) {
	payload, err := json.Marshal(wsMessage{Type: "request_log", Data: rec})
	if err != nil {
		log.Error("Failed to marshal websocket record", "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
	}
}

// BroadcastHealth streams a probe result to every connected client, with
// the same drop-on-full behaviour as BroadcastRecord.
func (h *Hub) BroadcastHealth(result health.Result) {
	payload, err := json.Marshal(wsMessage{Type: "health", Data: healthUpdate{
		ProxyID:   result.ProxyID,
		Healthy:   result.Healthy,
		LatencyMS: result.Latency.Milliseconds(),
		CheckedAt: result.CheckedAt,
	}})
	if err != nil {
		log.Error("Failed to marshal websocket health update", "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Websocket upgrade failed", "error", err)
		return
	}
	s.hub.register <- conn

	// Read pump, only there to notice the client going away.
	go func() {
		defer func() {
			s.hub.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
