package handlers

import (
	"retreat-photos/domain/services"
	"retreat-photos/pkg/config"
)

// Services contains all the services needed for handlers
type Services struct {
	IndexService        services.IndexService
	ProgressService     services.ProgressService
	MatchService        services.MatchService
	DeletionService     services.DeletionService
	NotificationService services.NotificationService
	WebhookService      services.WebhookService
	DigestService       services.DigestService

	// PublicURL resolves a storage path to the URL the gallery loads.
	PublicURL func(path string) string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	ImageHandler        *ImageHandler
	MatchHandler        *MatchHandler
	NotificationHandler *NotificationHandler
	WebhookHandler      *TelegramWebhookHandler
	LogHandler          *LogHandler

	// Short accessors for routes
	Image        *ImageHandler
	Match        *MatchHandler
	Notification *NotificationHandler
	Webhook      *TelegramWebhookHandler
	Log          *LogHandler
}

// NewHandlers creates a new instance of Handlers with all dependencies
func NewHandlers(svc *Services, cfg *config.Config) *Handlers {
	imageHandler := NewImageHandler(svc.IndexService, svc.ProgressService, svc.DeletionService, svc.PublicURL)
	matchHandler := NewMatchHandler(svc.MatchService)
	notificationHandler := NewNotificationHandler(svc.NotificationService, svc.WebhookService, svc.DigestService, cfg.Telegram.BotUsername)
	webhookHandler := NewTelegramWebhookHandler(svc.WebhookService, cfg.Telegram.WebhookSecret)
	logHandler := NewLogHandler(cfg)

	return &Handlers{
		ImageHandler:        imageHandler,
		MatchHandler:        matchHandler,
		NotificationHandler: notificationHandler,
		WebhookHandler:      webhookHandler,
		LogHandler:          logHandler,

		// Short accessors
		Image:        imageHandler,
		Match:        matchHandler,
		Notification: notificationHandler,
		Webhook:      webhookHandler,
		Log:          logHandler,
	}
}
