package httpapi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doeshing/opsai/internal/domain"
	pkglogger "github.com/doeshing/opsai/internal/pkg/logger"
	"github.com/doeshing/opsai/internal/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Frame is the envelope used on the socket in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub fans events out to every socket a user has open. It implements
// ports.NotificationSink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	logger  ports.Logger
}

// NewHub creates an empty hub.
func NewHub(logger ports.Logger) *Hub {
	if logger == nil {
		logger = pkglogger.Nop{}
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
	}
}

// Notify queues event for the user's sockets. A socket whose buffer is full
// is dropped rather than allowed to stall the pipeline.
func (h *Hub) Notify(event domain.Event) {
	payload, err := encodeFrame(event.Name, event.Data)
	if err != nil {
		h.logger.Error("encode event", err, map[string]interface{}{"event": event.Name})
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients[event.UserID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", map[string]interface{}{"user_id": event.UserID})
		h.unregister(c)
	}
}

// Connected reports how many sockets userID has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every socket.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.user.ID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.user.ID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.user.ID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.user.ID)
	}
	close(c.send)
}

// client is one websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	user domain.User
	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, user domain.User) *client {
	return &client{hub: hub, conn: conn, user: user, send: make(chan []byte, sendBuffer)}
}

// reply sends a frame to this socket only.
func (c *client) reply(event string, data any) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.user.ID][c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

var _ ports.NotificationSink = (*Hub)(nil)
