package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"retreat-photos/pkg/logger"
)

// Message is the envelope of every frame pushed to clients.
type Message struct {
	Type      string                 `json:"type"`
	Room      string                 `json:"room,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type client struct {
	conn   *websocket.Conn
	userID uuid.UUID
	rooms  map[string]struct{}
	mu     sync.Mutex // serializes writes on conn
}

func (c *client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected admin dashboards. Rooms are event ids, so progress
// for one event only reaches the dashboards watching it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
	rooms   map[string]map[*websocket.Conn]*client
}

var Manager = NewHub()

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		rooms:   make(map[string]map[*websocket.Conn]*client),
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID uuid.UUID, roomID string) {
	c := &client{conn: conn, userID: userID, rooms: make(map[string]struct{})}

	h.mu.Lock()
	h.clients[conn] = c
	if roomID != "" {
		h.joinLocked(c, roomID)
	}
	h.mu.Unlock()

	logger.WebSocket("client_registered", "WebSocket client registered", map[string]interface{}{
		"user_id": userID.String(),
		"room":    roomID,
	})
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		for room := range c.rooms {
			h.leaveLocked(c, room)
		}
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	if ok {
		logger.WebSocket("client_unregistered", "WebSocket client unregistered", map[string]interface{}{"user_id": c.userID.String()})
	}
}

func (h *Hub) JoinRoom(conn *websocket.Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[conn]; ok {
		h.joinLocked(c, room)
	}
}

func (h *Hub) LeaveRoom(conn *websocket.Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[conn]; ok {
		h.leaveLocked(c, room)
	}
}

func (h *Hub) joinLocked(c *client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*websocket.Conn]*client)
		h.rooms[room] = members
	}
	members[c.conn] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c.conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// BroadcastToRoom pushes a message to every client in room. Write errors are logged, not returned.
func (h *Hub) BroadcastToRoom(room, messageType string, data map[string]interface{}) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := Message{Type: messageType, Room: room, Data: data, Timestamp: time.Now().UTC()}
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			logger.WebSocketError("broadcast_failed", "Failed to push message", err, map[string]interface{}{
				"room": room,
				"type": messageType,
			})
		}
	}
}

// PublishEvent implements services.ProgressPublisher.
func (h *Hub) PublishEvent(eventID uuid.UUID, messageType string, data map[string]interface{}) {
	h.BroadcastToRoom(eventID.String(), messageType, data)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type inbound struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// HandleMessage handles join, leave and ping frames from a client.
func (h *Hub) HandleMessage(conn *websocket.Conn, messageType int, payload []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.WebSocketError("invalid_message", "Invalid WebSocket message", err, nil)
		return
	}

	switch msg.Type {
	case "join":
		if msg.Room != "" {
			h.JoinRoom(conn, msg.Room)
		}
	case "leave":
		if msg.Room != "" {
			h.LeaveRoom(conn, msg.Room)
		}
	case "ping":
		h.mu.RLock()
		c, ok := h.clients[conn]
		h.mu.RUnlock()
		if ok {
			_ = c.send(Message{Type: "pong", Timestamp: time.Now().UTC()})
		}
	}
}
