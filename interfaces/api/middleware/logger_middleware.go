package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"retreat-photos/pkg/logger"
)

// LoggerMiddleware writes one api log entry per request. Health probes and
// metrics scrapes are skipped.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		switch c.Path() {
		case "/health", "/metrics":
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		data := map[string]interface{}{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.IP(),
			"request_id": c.Locals(requestid.ConfigDefault.ContextKey),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Warn(logger.CategoryAPI, "request", "Request failed", data)
		} else {
			logger.API("request", "Request handled", data)
		}
		return err
	}
}

// RequestID tags each request so log lines can be correlated.
func RequestID() fiber.Handler {
	return requestid.New()
}

func CorsMiddleware(origins string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}
