package routes

import (
	"github.com/gofiber/fiber/v2"

	"retreat-photos/interfaces/api/handlers"
	"retreat-photos/interfaces/api/middleware"
	"retreat-photos/pkg/config"
)

// SetupWebhookRoutes registers the bot endpoint. It is authenticated by the
// secret token header, not by JWT.
func SetupWebhookRoutes(app *fiber.App, h *handlers.Handlers, rl *config.RateLimitConfig) {
	app.Post("/webhook/telegram", middleware.WebhookRateLimiter(rl), h.Webhook.HandleUpdate)
}
