package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"retreat-photos/domain/services"
	"retreat-photos/infrastructure/telegram"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/metrics"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type TelegramWebhookHandler struct {
	webhookService services.WebhookService
	secret         string
}

func NewTelegramWebhookHandler(webhookService services.WebhookService, secret string) *TelegramWebhookHandler {
	return &TelegramWebhookHandler{
		webhookService: webhookService,
		secret:         secret,
	}
}

// HandleUpdate receives bot updates. Once the secret matches the update is
// always acknowledged with 200, otherwise Telegram keeps redelivering it.
// POST /webhook/telegram
func (h *TelegramWebhookHandler) HandleUpdate(c *fiber.Ctx) error {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(c.Get(secretTokenHeader)), []byte(h.secret)) != 1 {
		logger.Webhook("rejected", "Webhook secret mismatch", map[string]interface{}{
			"ip": c.IP(),
		})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false})
	}

	var update telegram.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		logger.WebhookError("parse_update", "Malformed update body", err, nil)
		metrics.WebhookUpdates.WithLabelValues("malformed").Inc()
		return c.JSON(fiber.Map{"ok": true})
	}

	chatID, text, ok := update.ChatAndText()
	if !ok {
		metrics.WebhookUpdates.WithLabelValues("ignored").Inc()
		return c.JSON(fiber.Map{"ok": true})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()

	reply, err := h.webhookService.HandleMessage(ctx, services.InboundMessage{ChatID: chatID, Text: text})
	if err != nil {
		logger.WebhookError("handle_message", "Failed to handle update", err, map[string]interface{}{
			"update_id": update.UpdateID,
			"chat_id":   chatID,
		})
	}

	resp := fiber.Map{"ok": true}
	if reply != nil {
		resp["command"] = reply.Command
		resp["outcome"] = reply.Outcome
	}
	return c.JSON(resp)
}
