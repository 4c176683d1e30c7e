package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/utils"
)

func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		data := map[string]interface{}{"status_code": code, "path": c.Path(), "method": c.Method()}
		if code >= fiber.StatusInternalServerError {
			logger.Error(logger.CategoryAPI, "error_handler", "Request error occurred", err, data)
			return utils.ErrorResponse(c, code, "An error occurred", nil)
		}

		logger.Warn(logger.CategoryAPI, "error_handler", err.Error(), data)
		return utils.ErrorResponse(c, code, "An error occurred", err)
	}
}
