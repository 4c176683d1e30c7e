package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"retreat-photos/domain/dto"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/utils"
)

type NotificationHandler struct {
	notificationService services.NotificationService
	webhookService      services.WebhookService
	digestService       services.DigestService
	botUsername         string
}

func NewNotificationHandler(
	notificationService services.NotificationService,
	webhookService services.WebhookService,
	digestService services.DigestService,
	botUsername string,
) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		webhookService:      webhookService,
		digestService:       digestService,
		botUsername:         botUsername,
	}
}

// SetBotUsername is used when the username is only known after getMe.
func (h *NotificationHandler) SetBotUsername(username string) {
	h.botUsername = username
}

// SendSingle messages one guest.
// POST /api/v1/persons/:personId/notify
func (h *NotificationHandler) SendSingle(c *fiber.Ctx) error {
	personID, err := uuid.Parse(c.Params("personId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid person ID", err)
	}

	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := h.notificationService.SendSingle(c.UserContext(), utils.CallerFromContext(c), personID, req.Text, req.Format)
	if err != nil {
		return serviceError(c, "send_single", err)
	}

	message := "Message sent"
	switch {
	case result.NotSubscribed:
		message = "Guest has not connected the bot"
	case result.Blocked:
		message = "Guest has blocked the bot"
	case !result.Sent:
		message = "Message could not be delivered"
	}
	return utils.SuccessResponse(c, message, result)
}

// Broadcast messages every subscribed guest registered for an event.
// POST /api/v1/events/:eventId/broadcast
func (h *NotificationHandler) Broadcast(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", err)
	}

	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := h.notificationService.Broadcast(c.UserContext(), utils.CallerFromContext(c), eventID, req.Text, req.Format)
	if err != nil {
		return serviceError(c, "broadcast", err)
	}

	return utils.SuccessResponse(c, "Broadcast finished", result)
}

// CreateLinkToken issues a one-time token for the bot's /start deep link.
// POST /api/v1/persons/:personId/link-token
func (h *NotificationHandler) CreateLinkToken(c *fiber.Ctx) error {
	personID, err := uuid.Parse(c.Params("personId"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid person ID", err)
	}

	var req dto.LinkTokenRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	token, err := h.webhookService.CreateLinkToken(c.UserContext(), utils.CallerFromContext(c), personID, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		return serviceError(c, "create_link_token", err)
	}

	return utils.CreatedResponse(c, "Link token created", dto.LinkTokenToResponse(token, h.botUsername))
}

// TriggerDigest runs today's digest now. A second run on the same day sends nothing.
// POST /api/v1/notifications/digest
func (h *NotificationHandler) TriggerDigest(c *fiber.Ctx) error {
	if !utils.CallerFromContext(c).CanBroadcast {
		return serviceError(c, "trigger_digest", services.ErrForbidden)
	}

	result, err := h.digestService.SendDailyDigest(c.UserContext(), time.Now())
	if err != nil {
		return serviceError(c, "trigger_digest", err)
	}

	return utils.SuccessResponse(c, "Digest processed", result)
}
