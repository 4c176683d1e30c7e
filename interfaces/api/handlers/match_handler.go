package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"retreat-photos/domain/dto"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/utils"
)

type MatchHandler struct {
	matchService services.MatchService
}

func NewMatchHandler(matchService services.MatchService) *MatchHandler {
	return &MatchHandler{
		matchService: matchService,
	}
}

// SearchFace finds the event's images containing a person.
// The optional "image" part is a reference photo; without it the person's
// profile photo is used.
// POST /api/v1/events/:eventId/search
func (h *MatchHandler) SearchFace(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	var req dto.SearchFaceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	personID, _ := uuid.Parse(req.PersonID)

	var reference []byte
	if file, err := c.FormFile("image"); err == nil {
		if !isValidImageType(file.Header.Get("Content-Type")) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid image type. Allowed: jpeg, png, webp", nil)
		}
		if reference, err = readFormFile(file); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read file", err)
		}
	}

	result, err := h.matchService.SearchFace(c.UserContext(), utils.CallerFromContext(c), services.SearchFaceRequest{
		EventID:        eventID,
		PersonID:       personID,
		ReferenceImage: reference,
		Threshold:      req.Threshold,
		MaxResults:     req.MaxResults,
	})
	if err != nil {
		return serviceError(c, "search_face", err)
	}

	return utils.SuccessResponse(c, "Search completed", fiber.Map{
		"image_ids": result.ImageIDs,
		"matches":   result.Matches,
		"threshold": result.Threshold,
		"count":     len(result.ImageIDs),
	})
}
