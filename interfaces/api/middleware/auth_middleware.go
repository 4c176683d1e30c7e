package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/utils"
)

// Protected validates the bearer token and stores the user in fiber locals.
// Handlers turn the user into a services.Caller with utils.CallerFromContext.
func Protected(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return utils.UnauthorizedResponse(c, "Missing authorization header")
		}

		token := utils.ExtractTokenFromHeader(authHeader)
		if token == "" {
			return utils.UnauthorizedResponse(c, "Invalid authorization header format")
		}

		userCtx, err := utils.ValidateTokenStringToUUID(token, jwtSecret)
		if err != nil {
			logger.AuthError("token_invalid", "Token validation failed", err, map[string]interface{}{
				"path": c.Path(),
				"ip":   c.IP(),
			})
			return tokenError(c, err)
		}

		c.Locals("user", userCtx)
		return c.Next()
	}
}

// RequireRole lets the request through when the user has one of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := utils.GetUserFromContext(c)
		if err != nil {
			return utils.UnauthorizedResponse(c, "User not authenticated")
		}

		for _, role := range roles {
			if user.Role == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Insufficient permissions",
			"error":   "Access denied",
		})
	}
}

// OptionalWithQueryToken sets the user when a valid token is present in the
// Authorization header or the token query parameter, and continues as
// anonymous otherwise. Used for WebSocket connections where browsers cannot
// send headers.
func OptionalWithQueryToken(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var token string

		if authHeader := c.Get("Authorization"); authHeader != "" {
			token = utils.ExtractTokenFromHeader(authHeader)
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Next()
		}

		userCtx, err := utils.ValidateTokenStringToUUID(token, jwtSecret)
		if err != nil {
			return c.Next()
		}

		c.Locals("user", userCtx)
		return c.Next()
	}
}

func tokenError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, utils.ErrExpiredToken):
		return utils.UnauthorizedResponse(c, "Token has expired")
	case errors.Is(err, utils.ErrInvalidToken):
		return utils.UnauthorizedResponse(c, "Invalid token")
	case errors.Is(err, utils.ErrMissingToken):
		return utils.UnauthorizedResponse(c, "Missing token")
	default:
		return utils.UnauthorizedResponse(c, "Token validation failed")
	}
}
