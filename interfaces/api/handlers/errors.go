package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/utils"
)

// serviceError maps a service failure onto the response the UI expects.
func serviceError(c *fiber.Ctx, action string, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return utils.ErrorResponse(c, fiber.StatusForbidden, "You are not allowed to do this", nil)
	case errors.Is(err, services.ErrValidation):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, services.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Not found", err)
	case errors.Is(err, services.ErrNoProfilePhoto):
		return utils.CodedErrorResponse(c, fiber.StatusUnprocessableEntity, "NO_PROFILE_PHOTO", "Upload a reference photo or add a profile photo first", nil)
	case errors.Is(err, services.ErrImageTooLarge):
		return utils.ErrorResponse(c, fiber.StatusRequestEntityTooLarge, "Image is too large", err)
	case errors.Is(err, services.ErrCollectionUnavailable):
		return utils.CodedErrorResponse(c, fiber.StatusServiceUnavailable, "RECOGNITION_UNAVAILABLE", "Face recognition is temporarily unavailable", err)
	case errors.Is(err, services.ErrBlobDeleteFailed):
		return utils.CodedErrorResponse(c, fiber.StatusBadGateway, "STORAGE_DELETE_FAILED", "Could not delete image files, nothing was removed", err)
	}

	logger.Error(logger.CategoryAPI, action, "Request failed", err, map[string]interface{}{
		"path":   c.Path(),
		"method": c.Method(),
	})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Internal server error", nil)
}
