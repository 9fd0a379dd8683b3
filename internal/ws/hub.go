package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// JobEvent is pushed to dashboard clients whenever a job is created or
// transitions to a terminal status.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	ActionName string    `json:"action_name"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// client pairs a connection with its send queue. One writer goroutine drains
// the queue; the connection is never written from anywhere else, which is the
// single-writer rule gorilla/websocket requires.
type client struct {
	conn *websocket.Conn
	send chan JobEvent
}

// Hub tracks connected websocket clients and fans job events out to them.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Add registers a client connection and starts its writer and its
// disconnect-watching reader.
func (h *Hub) Add(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan JobEvent, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("ws client connected, %d total", n)

	go c.writeLoop(h)
	go c.readLoop(h)
}

// remove detaches the client and closes its queue exactly once; the
// membership check makes repeated calls safe.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		log.Printf("ws client disconnected, %d total", n)
	}
}

// Broadcast queues the event for every connected client. Delivery is
// best-effort: a client whose queue is full is dropped rather than letting a
// stalled connection block the action path.
func (h *Hub) Broadcast(ev JobEvent) {
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
			go c.conn.Close()
		}
	}
	h.mu.Unlock()
}

// ClientCount returns how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (c *client) writeLoop(h *Hub) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(c)
			return
		}
	}
}

func (c *client) readLoop(h *Hub) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
