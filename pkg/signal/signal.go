// Package signal carries execution signals from sandboxes to the
// orchestrator over a WebSocket channel.
package signal

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/runbox/runbox/pkg/model"
)

// Channel is what the orchestrator consumes: a stream of inbound signals
// plus the ability to acknowledge viewport requests back to a sandbox.
type Channel interface {
	Inbound() <-chan model.Signal
	Ack(sandboxID string, ack model.Ack) error
}

const inboundBuffer = 256

// Hub accepts WebSocket connections from sandboxes and fans their signals
// into a single inbound stream. One connection per sandbox identifier; a
// reconnect replaces the previous connection.
type Hub struct {
	mu      sync.Mutex
	conns   map[string]*conn
	inbound chan model.Signal
	opened  chan string // sandbox IDs as their connections come up
	closed  bool

	upgrader websocket.Upgrader
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:   make(map[string]*conn),
		inbound: make(chan model.Signal, inboundBuffer),
		opened:  make(chan string, inboundBuffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades an incoming request to a WebSocket and pumps its signals
// into the inbound stream. Sandboxes identify themselves with ?id= and
// &token= query parameters.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		token := r.URL.Query().Get("token")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}

		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("signal upgrade for %s: %v", id, err)
			return
		}

		c := &conn{ws: ws}
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			ws.Close()
			return
		}
		if old, ok := h.conns[id]; ok {
			old.ws.Close()
		}
		h.conns[id] = c
		h.mu.Unlock()

		select {
		case h.opened <- id:
		default:
		}

		h.readLoop(id, token, c)
	}
}

func (h *Hub) readLoop(id, token string, c *conn) {
	defer func() {
		h.mu.Lock()
		if h.conns[id] == c {
			delete(h.conns, id)
		}
		h.mu.Unlock()
		c.ws.Close()
	}()

	for {
		var sig model.Signal
		if err := c.ws.ReadJSON(&sig); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("signal read from %s: %v", id, err)
			}
			return
		}
		// The connection's identity wins over whatever the payload claims.
		if sig.SandboxID == "" {
			sig.SandboxID = id
		}
		if sig.Token == "" {
			sig.Token = token
		}
		select {
		case h.inbound <- sig:
		default:
			log.Printf("signal channel full, dropping %s from %s", sig.Type, id)
		}
	}
}

// Inbound returns the stream of signals received from all sandboxes.
func (h *Hub) Inbound() <-chan model.Signal {
	return h.inbound
}

// Opened returns a stream of sandbox identifiers as their connections come
// up. Used to trigger the bootstrap run when the first channel opens.
func (h *Hub) Opened() <-chan string {
	return h.opened
}

// Ack sends an acknowledgement to the named sandbox.
func (h *Hub) Ack(sandboxID string, ack model.Ack) error {
	h.mu.Lock()
	c, ok := h.conns[sandboxID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("no signal connection for %q", sandboxID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(ack); err != nil {
		return fmt.Errorf("acking %s to %q: %w", ack.Type, sandboxID, err)
	}
	return nil
}

// Close tears down every connection and stops accepting new ones. The
// inbound stream stays open so pending signals can still be drained.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("hub already closed")
	}
	h.closed = true
	for id, c := range h.conns {
		c.ws.Close()
		delete(h.conns, id)
	}
	return nil
}
