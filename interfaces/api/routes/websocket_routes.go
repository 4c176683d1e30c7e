package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	websocketManager "retreat-photos/infrastructure/websocket"
	"retreat-photos/interfaces/api/middleware"
	websocketHandler "retreat-photos/interfaces/api/websocket"
)

func SetupWebSocketRoutes(app *fiber.App, hub *websocketManager.Hub, jwtSecret string) {
	wsHandler := websocketHandler.NewWebSocketHandler(hub)

	// Browsers cannot set headers on WS connections, so the token may come as ?token=
	app.Use("/ws", middleware.OptionalWithQueryToken(jwtSecret), wsHandler.WebSocketUpgrade)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))
}
