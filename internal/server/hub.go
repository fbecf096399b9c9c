// File: internal/server/hub.go
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket Upgrader configuration. The API binds to loopback by
// default, so cross-origin handshakes are accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType defines the kind of bridge event being broadcast.
type EventType string

const (
	EventSnapshotTaken    EventType = "SnapshotTaken"
	EventActionDispatched EventType = "ActionDispatched"
)

// Event is the standardized structure pushed to every subscriber.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	// Timestamp formatted as ISO 8601 (RFC3339).
	Timestamp string `json:"timestamp"`
}

// Constants for WebSocket timeouts and limits (based on Gorilla
// WebSocket examples).
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 4096
	// Send buffer size per subscriber.
	sendChannelSize = 64
)

// Hub fans bridge events out to WebSocket subscribers. Subscribers are
// observers only; inbound frames beyond control messages are ignored.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*hubClient]bool
}

type hubClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Event
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("events"),
		clients: make(map[*hubClient]bool),
	}
}

// Publish queues the event to every connected subscriber. Slow
// subscribers get the event dropped rather than blocking the bridge.
func (h *Hub) Publish(eventType EventType, data map[string]any) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			h.logger.Warn("Subscriber send buffer full, dropping event",
				zap.String("type", string(eventType)))
		}
	}
}

// Subscribers reports the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and runs the pumps until the peer
// goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}
	h.logger.Info("Event subscriber connected", zap.String("remoteAddr", r.RemoteAddr))

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan Event, sendChannelSize),
	}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writePump()
	client.readPump()
}

// Close tears down every subscriber connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*hubClient]bool)
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// readPump consumes inbound frames so control messages (Pongs/Close)
// keep the connection responsive; payload frames are discarded.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket closed unexpectedly", zap.Error(err))
			} else {
				c.hub.logger.Info("Event subscriber disconnected")
			}
			return
		}
	}
}

// writePump centralizes all writes to the connection and keeps it
// alive with periodic pings.
func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("Failed to set write deadline", zap.Error(err))
				return
			}
			if !ok {
				// The hub closed the channel during shutdown.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.hub.logger.Error("Error writing event to WebSocket", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("Failed to set write deadline for PING", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
