package api

import (
	"encoding/json"
	"sync"
	"time"

	"callpipe/logger"
	"callpipe/metrics"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second
	// sendBuffer is how many messages a client may fall behind before it is dropped.
	sendBuffer = 16
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages live-feed websocket clients and broadcasts routed calls to them.
// Each client has its own writer goroutine so a stalled peer never blocks
// Broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]*client
}

func NewHub() *Hub { return &Hub{clients: make(map[*websocket.Conn]*client)} }

func (h *Hub) Add(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	metrics.IncWSConnections()
	logger.Info("websocket client connected", logger.FieldKV("remote_addr", conn.RemoteAddr().String()))
	go h.writePump(c)
}

func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Error("websocket write error", err, logger.FieldKV("remote_addr", c.conn.RemoteAddr().String()))
			h.Remove(c.conn)
			return
		}
	}
}

func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(conn)
}

// remove expects h.mu to be held.
func (h *Hub) remove(conn *websocket.Conn) {
	c, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	close(c.send)
	_ = conn.Close()
	metrics.DecWSConnections()
	logger.Info("websocket client disconnected", logger.FieldKV("remote_addr", conn.RemoteAddr().String()))
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast implements pipeline.Notifier. It only queues the message; clients
// whose queue is full are disconnected.
func (h *Hub) Broadcast(msg interface{}) {
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Error("websocket encode failed", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		select {
		case c.send <- b:
		default:
			logger.Warn("websocket client too slow, disconnecting", logger.FieldKV("remote_addr", conn.RemoteAddr().String()))
			h.remove(conn)
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		h.remove(conn)
	}
}
