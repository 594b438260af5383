// Package gateway exposes the monitor's event stream over WebSocket, for a
// dashboard or a second terminal following the bot remotely. Clients are
// read-only observers; nothing they send can influence the monitoring loop.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"twicket-botv1/internal/events"
)

const latestCap = 50

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway binds to localhost by default; origin checks add nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients and fans the event stream out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// Rolling tail of recent envelopes, replayed to new clients so a
	// freshly connected dashboard is not blank until the next cycle.
	latest [][]byte
	seq    int64
}

// NewHub creates a Hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// Run consumes the bus subscription and broadcasts every event. Blocks
// until ctx is cancelled or the channel is closed.
func (h *Hub) Run(ctx context.Context, eventCh <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

type envelope struct {
	Seq   int64        `json:"seq"`
	TS    string       `json:"ts"`
	Event events.Event `json:"event"`
}

func (h *Hub) broadcast(ev events.Event) {
	h.mu.Lock()
	h.seq++
	data, err := json.Marshal(envelope{
		Seq:   h.seq,
		TS:    ev.TS.Format(time.RFC3339Nano),
		Event: ev,
	})
	if err != nil {
		h.mu.Unlock()
		log.Printf("[gateway] marshal envelope: %v", err)
		return
	}
	h.latest = append(h.latest, data)
	if len(h.latest) > latestCap {
		h.latest = h.latest[len(h.latest)-latestCap:]
	}
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow client keeps its connection but loses this envelope;
			// the seq gap tells it a drop happened.
		}
	}
	h.mu.Unlock()
}

// HandleWS upgrades an HTTP connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	// Replay the recent tail before live traffic.
	for _, data := range h.latest {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// removeClient unregisters a client.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Server runs the HTTP listener carrying the /ws endpoint.
type Server struct {
	hub  *Hub
	addr string
	srv  *http.Server
}

// NewServer creates the gateway HTTP server.
func NewServer(addr string, hub *Hub) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)

	return &Server{
		hub:  hub,
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[gateway] listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[gateway] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
