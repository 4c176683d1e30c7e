package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"retreat-photos/interfaces/api/handlers"
	"retreat-photos/interfaces/api/middleware"
	"retreat-photos/interfaces/api/routes"
	"retreat-photos/pkg/di"
	"retreat-photos/pkg/logger"
)

func main() {
	// Initialize DI container (loads config and the logger first)
	container := di.NewContainer()

	if err := container.Initialize(); err != nil {
		logger.StartupError("container_init_failed", "Failed to initialize container", err, nil)
		container.Cleanup()
		os.Exit(1)
	}

	cfg := container.GetConfig()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		AppName:      cfg.App.Name,
		BodyLimit:    cfg.App.BodyLimitMB * 1024 * 1024,
	})

	// Setup middleware
	app.Use(middleware.RequestID())
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.CorsMiddleware(cfg.App.CORSOrigins))

	// Create handlers from services
	h := handlers.NewHandlers(container.GetHandlerServices(), cfg)

	// Setup routes
	routes.SetupRoutes(app, h, container.GetHealthHandler(), container.Hub, cfg)

	// Setup graceful shutdown
	done := setupGracefulShutdown(app, container)

	// Start server
	port := cfg.App.Port
	logger.Startup("server_starting", "Server starting", map[string]interface{}{
		"port":        port,
		"environment": cfg.App.Env,
		"health":      fmt.Sprintf("http://localhost:%s/health", port),
		"api":         fmt.Sprintf("http://localhost:%s/api/v1", port),
		"webhook":     fmt.Sprintf("http://localhost:%s/webhook/telegram", port),
		"websocket":   fmt.Sprintf("ws://localhost:%s/ws", port),
		"metrics":     fmt.Sprintf("http://localhost:%s/metrics", port),
		"logs_api":    fmt.Sprintf("http://localhost:%s/api/v1/admin/logs", port),
	})

	if err := app.Listen(":" + port); err != nil {
		logger.StartupError("server_failed", "Server failed to start", err, nil)
		container.Cleanup()
		os.Exit(1)
	}

	<-done
}

// setupGracefulShutdown stops accepting requests, lets in-flight ones finish,
// then stops the worker and scheduler and closes connections.
func setupGracefulShutdown(app *fiber.App, container *di.Container) <-chan struct{} {
	done := make(chan struct{})
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Startup("shutdown_started", "Gracefully shutting down", nil)

		if err := app.Shutdown(); err != nil {
			logger.StartupError("server_shutdown_failed", "Error stopping server", err, nil)
		}

		if err := container.Cleanup(); err != nil {
			logger.StartupError("cleanup_failed", "Error during cleanup", err, nil)
		}

		logger.Startup("shutdown_complete", "Shutdown complete", nil)
		close(done)
	}()

	return done
}
