package websocket

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	websocketManager "retreat-photos/infrastructure/websocket"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/utils"
)

type WebSocketHandler struct {
	hub *websocketManager.Hub
}

func NewWebSocketHandler(hub *websocketManager.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// WebSocketUpgrade admits dashboard users only. The optional "event" query
// parameter must be an event id; the connection starts in that event's room.
func (h *WebSocketHandler) WebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	if !utils.CallerFromContext(c).CanManagePhotos {
		return fiber.ErrUnauthorized
	}

	if event := c.Query("event"); event != "" {
		if _, err := uuid.Parse(event); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid event id")
		}
	}
	return c.Next()
}

func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	var userID uuid.UUID
	if user, ok := c.Locals("user").(*utils.UserContext); ok {
		userID = user.ID
	}

	room := c.Query("event", "")
	logger.WebSocket("connected", "Dashboard connected", map[string]interface{}{
		"user_id":  userID.String(),
		"event_id": room,
	})

	h.hub.RegisterClient(c, userID, room)
	defer h.hub.UnregisterClient(c)

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WebSocketError("read_message", "WebSocket read error", err, map[string]interface{}{"user_id": userID.String()})
			}
			break
		}

		h.hub.HandleMessage(c, messageType, message)
	}
}
