package handlers

import (
	"errors"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"retreat-photos/domain/dto"
	"retreat-photos/domain/models"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/utils"
)

type ImageHandler struct {
	indexService    services.IndexService
	progressService services.ProgressService
	deletionService services.DeletionService
	publicURL       func(string) string
}

func NewImageHandler(
	indexService services.IndexService,
	progressService services.ProgressService,
	deletionService services.DeletionService,
	publicURL func(string) string,
) *ImageHandler {
	return &ImageHandler{
		indexService:    indexService,
		progressService: progressService,
		deletionService: deletionService,
		publicURL:       publicURL,
	}
}

// Upload stores one image for an event and queues it for indexing.
// POST /api/v1/events/:eventId/images  (multipart field "image")
func (h *ImageHandler) Upload(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	file, err := c.FormFile("image")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Image file is required", err)
	}

	contentType := file.Header.Get("Content-Type")
	if !isValidImageType(contentType) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid image type. Allowed: jpeg, png, webp", nil)
	}

	data, err := readFormFile(file)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read file", err)
	}

	image, err := h.indexService.Upload(c.UserContext(), utils.CallerFromContext(c), eventID, file.Filename, contentType, data)
	if err != nil {
		return serviceError(c, "upload_image", err)
	}

	return utils.CreatedResponse(c, "Image uploaded", dto.EventImageToResponse(image, h.publicURL))
}

// List returns an event's images, optionally filtered by index status.
func (h *ImageHandler) List(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	status := models.IndexStatus(c.Query("status"))

	images, total, err := h.indexService.List(c.UserContext(), utils.CallerFromContext(c), eventID, status, page, limit)
	if err != nil {
		return serviceError(c, "list_images", err)
	}

	return utils.SuccessResponse(c, "Images retrieved", dto.EventImageListResponse{
		Images: dto.EventImagesToResponse(images, h.publicURL),
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

// IndexBatch claims and indexes one batch of pending images.
// The poller passes its session id so failures count against its error budget.
func (h *ImageHandler) IndexBatch(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	var req dto.IndexBatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := h.indexService.IndexBatch(c.UserContext(), utils.CallerFromContext(c), eventID, req.Limit)
	if req.SessionID != "" && !errors.Is(err, services.ErrForbidden) && !errors.Is(err, services.ErrValidation) {
		h.progressService.RecordBatch(c.UserContext(), eventID, req.SessionID, result.Outcome(err))
	}
	if err != nil {
		return serviceError(c, "index_batch", err)
	}

	return utils.SuccessResponse(c, "Batch processed", result)
}

// Status returns the index_status distribution for an event.
func (h *ImageHandler) Status(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	counts, err := h.indexService.Status(c.UserContext(), utils.CallerFromContext(c), eventID)
	if err != nil {
		return serviceError(c, "index_status", err)
	}

	return utils.SuccessResponse(c, "Index status retrieved", counts)
}

// Poll is one tick of an admin tab's progress poller. The session query
// parameter identifies the tab.
func (h *ImageHandler) Poll(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	status, err := h.progressService.Poll(c.UserContext(), utils.CallerFromContext(c), eventID, c.Query("session"))
	if err != nil {
		return serviceError(c, "poll_progress", err)
	}

	return utils.SuccessResponse(c, "Progress retrieved", status)
}

// ResetStuck puts processing images older than the stuck threshold back to
// pending. Without an eventId route param it sweeps every event.
func (h *ImageHandler) ResetStuck(c *fiber.Ctx) error {
	var eventID *uuid.UUID
	if raw := c.Params("eventId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
		}
		eventID = &id
	}

	n, err := h.indexService.ResetStuck(c.UserContext(), utils.CallerFromContext(c), eventID)
	if err != nil {
		return serviceError(c, "reset_stuck", err)
	}

	return utils.SuccessResponse(c, "Stuck images reset", dto.ResetStuckResponse{Reset: n})
}

// Reindex requeues indexed or failed images of an event.
func (h *ImageHandler) Reindex(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	var req dto.ReindexRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	n, err := h.indexService.Reindex(c.UserContext(), utils.CallerFromContext(c), eventID, req.ImageIDs)
	if err != nil {
		return serviceError(c, "reindex", err)
	}

	return utils.SuccessResponse(c, "Images requeued", dto.ReindexResponse{Requeued: n})
}

// Delete removes images, their face records and their files.
func (h *ImageHandler) Delete(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	var req dto.DeleteImagesRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := h.deletionService.DeleteImages(c.UserContext(), utils.CallerFromContext(c), eventID, req.ImageIDs)
	if err != nil {
		return serviceError(c, "delete_images", err)
	}

	return utils.SuccessResponse(c, "Images deleted", result)
}

func readFormFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isValidImageType(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}
