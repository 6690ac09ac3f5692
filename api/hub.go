package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventReply       = "reply"
	EventCapture     = "capture"
	EventEnvironment = "environment"
)

// Event is every message the server pushes over a websocket.
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data"`
}

// CallRequest is a method-channel call, over HTTP or websocket.
type CallRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method" binding:"required"`
	Args   json.RawMessage `json:"args,omitempty"`
}

const (
	sendBuffer = 32
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to connected websocket clients. A client whose
// buffer is full is dropped rather than stalling the broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("websocket: encode %s event: %v", ev.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Println("websocket: client too slow, dropping")
			h.removeLocked(c)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client connected. Total clients: %d", n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	if removed {
		log.Printf("Client disconnected. Total clients: %d", n)
	}
}

func (h *Hub) removeLocked(c *client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

// sendTo queues msg for c unless c is gone or full.
func (h *Hub) sendTo(c *client, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("websocket: encode %s event: %v", ev.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.removeLocked(c)
	}
}

// writePump is the only goroutine that writes to c.conn.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			log.Println("WebSocket write error:", err)
			// Closing unblocks the read loop, which unregisters c and
			// closes send; draining until then keeps senders moving.
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	// The peer may already be gone; the close frame is best effort.
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
