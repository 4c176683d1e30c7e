package routes

import (
	"github.com/gofiber/fiber/v2"

	"retreat-photos/interfaces/api/handlers"
	"retreat-photos/interfaces/api/middleware"
	"retreat-photos/pkg/config"
)

func SetupImageRoutes(router fiber.Router, h *handlers.Handlers, cfg *config.Config) {
	events := router.Group("/events/:eventId", middleware.Protected(cfg.JWT.Secret), middleware.RateLimiter(&cfg.RateLimit))

	// Gallery and uploads
	events.Get("/images", h.Image.List)
	events.Post("/images", h.Image.Upload)
	events.Delete("/images", h.Image.Delete)
	events.Post("/images/reindex", h.Image.Reindex)

	// Indexing pipeline
	events.Post("/index", h.Image.IndexBatch)
	events.Get("/index/status", h.Image.Status)
	events.Get("/index/poll", h.Image.Poll) // ?session=<tab id>
	events.Post("/index/reset-stuck", h.Image.ResetStuck)

	// Face search
	events.Post("/search", h.Match.SearchFace)

	// Sweep every event
	router.Post("/index/reset-stuck", middleware.Protected(cfg.JWT.Secret), h.Image.ResetStuck)
}
