package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"retreat-photos/domain/repositories"
)

// Pinger is any dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db          *gorm.DB
	components  map[string]Pinger
	images      repositories.ImageRepository
	stuckAfter  time.Duration
	checkTimout time.Duration
}

// NewHealthHandler creates a new health handler. components are optional
// dependencies; their failure degrades the service but does not make it
// unhealthy. A nil entry is reported as unavailable.
func NewHealthHandler(db *gorm.DB, components map[string]Pinger, images repositories.ImageRepository, stuckAfter time.Duration) *HealthHandler {
	return &HealthHandler{
		db:          db,
		components:  components,
		images:      images,
		stuckAfter:  stuckAfter,
		checkTimout: 10 * time.Second,
	}
}

// ComponentHealth represents health status of a component
type ComponentHealth struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// DetailedHealthResponse represents detailed health check response
type DetailedHealthResponse struct {
	Status     string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Metrics    *HealthMetrics             `json:"metrics,omitempty"`
}

// HealthMetrics is the indexing backlog across all events
type HealthMetrics struct {
	PendingImages    int64 `json:"pending_images"`
	ProcessingImages int64 `json:"processing_images"`
	StuckImages      int64 `json:"stuck_images"`
	FailedImages     int64 `json:"failed_images"`
}

// Health is the liveness probe.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "Server is running",
		"service": "Retreat Photos API",
	})
}

// DetailedHealth returns the status of every component plus the indexing backlog.
// GET /health/detailed
func (h *HealthHandler) DetailedHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.checkTimout)
	defer cancel()

	response := DetailedHealthResponse{
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	allHealthy := true
	hasCriticalFailure := false

	dbHealth := h.checkDatabase(ctx)
	response.Components["database"] = dbHealth
	if dbHealth.Status != "ok" {
		hasCriticalFailure = true
	}

	for name, p := range h.components {
		health := check(ctx, name, p)
		response.Components[name] = health
		if health.Status == "error" {
			allHealthy = false
		}
	}

	if dbHealth.Status == "ok" && h.images != nil {
		totals, err := h.images.PipelineTotals(ctx, h.stuckAfter)
		if err == nil {
			response.Metrics = &HealthMetrics{
				PendingImages:    totals.Pending,
				ProcessingImages: totals.Processing,
				StuckImages:      totals.Stuck,
				FailedImages:     totals.Failed,
			}
			if totals.Stuck > 0 {
				allHealthy = false
			}
		}
	}

	switch {
	case hasCriticalFailure:
		response.Status = "unhealthy"
	case !allHealthy:
		response.Status = "degraded"
	default:
		response.Status = "healthy"
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.db == nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Database not configured",
		}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Failed to get database connection: " + err.Error(),
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return ComponentHealth{
		Status:  "ok",
		Message: "Connected",
		Latency: time.Since(start).String(),
	}
}

func check(ctx context.Context, name string, p Pinger) ComponentHealth {
	if p == nil {
		return ComponentHealth{
			Status:  "unavailable",
			Message: name + " not configured",
		}
	}

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: name + " check failed: " + err.Error(),
		}
	}

	return ComponentHealth{
		Status:  "ok",
		Message: "Connected",
		Latency: time.Since(start).String(),
	}
}
