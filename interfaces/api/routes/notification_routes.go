package routes

import (
	"github.com/gofiber/fiber/v2"

	"retreat-photos/interfaces/api/handlers"
	"retreat-photos/interfaces/api/middleware"
	"retreat-photos/pkg/config"
)

func SetupNotificationRoutes(router fiber.Router, h *handlers.Handlers, cfg *config.Config) {
	protected := middleware.Protected(cfg.JWT.Secret)

	router.Post("/events/:eventId/broadcast", protected, h.Notification.Broadcast)

	persons := router.Group("/persons/:personId", protected)
	persons.Post("/notify", h.Notification.SendSingle)
	persons.Post("/link-token", h.Notification.CreateLinkToken)

	router.Post("/notifications/digest", protected, h.Notification.TriggerDigest)
}
