package handlers

import (
	"crypto/subtle"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"retreat-photos/pkg/config"
	"retreat-photos/pkg/logger"
)

// LogHandler handles log-related API requests
type LogHandler struct {
	adminToken string
}

// NewLogHandler creates a new log handler
func NewLogHandler(cfg *config.Config) *LogHandler {
	return &LogHandler{
		adminToken: cfg.AdminToken(),
	}
}

func (h *LogHandler) authorized(c *fiber.Ctx) bool {
	token := c.Get("X-Admin-Token")
	if token == "" {
		token = c.Query("token")
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func (h *LogHandler) unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   "Invalid admin token",
	})
}

// GetLogs returns log entries. Filters: lines, level, category, search.
// GET /api/v1/admin/logs
func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return h.unauthorized(c)
	}

	// Parse options
	opts := logger.ReadLogsOptions{
		Lines:    c.QueryInt("lines", 100),
		Level:    logger.Level(c.Query("level")),
		Category: logger.Category(c.Query("category")),
		Search:   c.Query("search"),
	}

	// Read logs
	entries, err := logger.ReadLogs(opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"entries": entries,
			"count":   len(entries),
			"filters": fiber.Map{
				"lines":    opts.Lines,
				"level":    opts.Level,
				"category": opts.Category,
				"search":   opts.Search,
			},
		},
	})
}

// GetEventLogs returns the entries that mention one event, across all categories.
// GET /api/v1/admin/logs/events/:eventId
func (h *LogHandler) GetEventLogs(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return h.unauthorized(c)
	}

	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid event ID",
		})
	}

	entries, err := logger.ReadLogs(logger.ReadLogsOptions{
		Lines:   c.QueryInt("lines", 200),
		Level:   logger.Level(c.Query("level")),
		EventID: eventID.String(),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"event_id": eventID,
			"entries":  entries,
			"count":    len(entries),
		},
	})
}

// GetLogFiles returns list of log files
func (h *LogHandler) GetLogFiles(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return h.unauthorized(c)
	}

	files, err := logger.ListLogFiles()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"files":  files,
			"logDir": logger.GetLogDir(),
		},
	})
}

// GetLogStats returns log statistics
func (h *LogHandler) GetLogStats(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return h.unauthorized(c)
	}

	// Get all logs for today
	allLogs, _ := logger.ReadLogs(logger.ReadLogsOptions{Lines: 1000})

	// Count by level
	levelCounts := map[string]int{
		"DEBUG": 0,
		"INFO":  0,
		"WARN":  0,
		"ERROR": 0,
	}

	// Count by category
	categoryCounts := map[string]int{}

	for _, entry := range allLogs {
		levelCounts[string(entry.Level)]++
		categoryCounts[string(entry.Category)]++
	}

	// Get log directory size
	var totalSize int64
	files, _ := logger.ListLogFiles()
	logDir := logger.GetLogDir()
	for _, f := range files {
		if info, err := os.Stat(filepath.Join(logDir, f)); err == nil {
			totalSize += info.Size()
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_entries":    len(allLogs),
			"by_level":         levelCounts,
			"by_category":      categoryCounts,
			"total_files":      len(files),
			"total_size_bytes": totalSize,
		},
	})
}
