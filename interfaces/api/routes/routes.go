package routes

import (
	"github.com/gofiber/fiber/v2"

	websocketManager "retreat-photos/infrastructure/websocket"
	"retreat-photos/interfaces/api/handlers"
	"retreat-photos/pkg/config"
)

func SetupRoutes(app *fiber.App, h *handlers.Handlers, health *handlers.HealthHandler, hub *websocketManager.Hub, cfg *config.Config) {
	// Setup health, root and metrics routes
	SetupHealthRoutes(app, health)
	SetupMetricsRoutes(app)

	// Bot updates arrive outside the versioned API
	SetupWebhookRoutes(app, h, &cfg.RateLimit)

	// API version group
	api := app.Group("/api/v1")

	SetupImageRoutes(api, h, cfg)
	SetupNotificationRoutes(api, h, cfg)
	SetupLogRoutes(api, h)

	// Setup WebSocket routes (needs app, not api group)
	SetupWebSocketRoutes(app, hub, cfg.JWT.Secret)
}
