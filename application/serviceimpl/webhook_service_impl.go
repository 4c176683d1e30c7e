package serviceimpl

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/metrics"
)

// Webhook reply outcomes.
const (
	OutcomeLinked        = "linked"
	OutcomeWelcome       = "welcome"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeTokenUsed     = "token_used"
	OutcomeTokenExpired  = "token_expired"
	OutcomeUnsubscribed  = "unsubscribed"
	OutcomeNotSubscribed = "not_subscribed"
	OutcomeHelp          = "help"
	OutcomeUnknown       = "unknown"
	OutcomeError         = "error"
)

const (
	replyWelcome = "👋 Welcome! Open the link from your registration page to connect this chat and get notified when you appear in new photos.\n\nSend /help to see what I can do."
	replyLinked  = "✅ Hi %s, this chat is now connected. I will message you when new photos of you are found.\n\nSend /stop at any time to unsubscribe."

	replyInvalidToken = "❌ This link is not valid. Please open the link from your registration page again."
	replyTokenUsed    = "⚠️ This link has already been used. If this is not your chat, generate a new link from your registration page."
	replyTokenExpired = "⌛ This link has expired. Please generate a new one from your registration page."

	replyStopped       = "👋 You are unsubscribed and will no longer receive photo notifications. Use your registration link to connect again."
	replyNotSubscribed = "ℹ️ This chat is not connected to any guest, so there is nothing to stop."

	replyHelp = "<b>Commands</b>\n/start &lt;code&gt; connect this chat to your registration\n/stop stop notifications\n/help show this message"

	replyUnknown = "🤔 I did not understand that. Send /help to see the available commands."
	replyError   = "Something went wrong on our side. Please try again in a few minutes."

	DefaultLinkTokenTTL = 24 * time.Hour
)

type WebhookServiceImpl struct {
	persons repositories.PersonRepository
	tokens  repositories.LinkTokenRepository
	sender  services.ChatSender
	now     func() time.Time
}

func NewWebhookService(persons repositories.PersonRepository, tokens repositories.LinkTokenRepository, sender services.ChatSender) services.WebhookService {
	return &WebhookServiceImpl{persons: persons, tokens: tokens, sender: sender, now: time.Now}
}

// HandleMessage runs one inbound message through the command table and
// sends the reply. The returned error reports internal failures for logging
// only; the platform must be acknowledged either way.
func (s *WebhookServiceImpl) HandleMessage(ctx context.Context, msg services.InboundMessage) (*services.WebhookReply, error) {
	command, arg := parseCommand(msg.Text)

	reply := &services.WebhookReply{ChatID: msg.ChatID, Command: command}
	var err error

	switch command {
	case "/start":
		if arg == "" {
			reply.Outcome, reply.Text = OutcomeWelcome, replyWelcome
		} else {
			reply.Outcome, reply.Text, err = s.link(ctx, msg.ChatID, arg)
		}
	case "/stop":
		reply.Outcome, reply.Text, err = s.stop(ctx, msg.ChatID)
	case "/help":
		reply.Outcome, reply.Text = OutcomeHelp, replyHelp
	default:
		reply.Command = "unknown"
		reply.Outcome, reply.Text = OutcomeUnknown, replyUnknown
	}

	metrics.WebhookUpdates.WithLabelValues(reply.Command).Inc()

	if sendErr := s.sender.SendMessage(ctx, msg.ChatID, reply.Text, "HTML"); sendErr != nil {
		logger.WebhookError("reply_failed", "Failed to send webhook reply", sendErr, map[string]interface{}{
			"chat_id": msg.ChatID,
			"command": reply.Command,
		})
	}

	logger.Webhook("message_handled", "Bot message handled", map[string]interface{}{
		"chat_id": msg.ChatID,
		"command": reply.Command,
		"outcome": reply.Outcome,
	})
	return reply, err
}

// parseCommand splits "/start@SomeBot abc" into "/start" and "abc".
func parseCommand(text string) (string, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", ""
	}
	command := strings.ToLower(fields[0])
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	return command, arg
}

func (s *WebhookServiceImpl) link(ctx context.Context, chatID, token string) (string, string, error) {
	lt, err := s.tokens.GetByToken(ctx, token)
	if errors.Is(err, repositories.ErrNotFound) {
		return OutcomeInvalidToken, replyInvalidToken, nil
	}
	if err != nil {
		return OutcomeError, replyError, err
	}
	if lt.Used {
		return OutcomeTokenUsed, replyTokenUsed, nil
	}
	if !s.now().Before(lt.ExpiresAt) {
		return OutcomeTokenExpired, replyTokenExpired, nil
	}

	person, err := s.tokens.Redeem(ctx, token, chatID)
	if errors.Is(err, repositories.ErrTokenUsed) {
		return OutcomeTokenUsed, replyTokenUsed, nil
	}
	if err != nil {
		return OutcomeError, replyError, err
	}

	logger.Webhook("chat_linked", "Chat linked to guest", map[string]interface{}{
		"person_id": person.ID.String(),
		"chat_id":   chatID,
	})
	return OutcomeLinked, fmt.Sprintf(replyLinked, html.EscapeString(person.FullName)), nil
}

func (s *WebhookServiceImpl) stop(ctx context.Context, chatID string) (string, string, error) {
	person, err := s.persons.GetByChatID(ctx, chatID)
	if errors.Is(err, repositories.ErrNotFound) {
		return OutcomeNotSubscribed, replyNotSubscribed, nil
	}
	if err != nil {
		return OutcomeError, replyError, err
	}

	if err := s.persons.ClearChatID(ctx, person.ID); err != nil {
		return OutcomeError, replyError, err
	}
	return OutcomeUnsubscribed, replyStopped, nil
}

// CreateLinkToken issues the one-time code a guest sends with /start.
func (s *WebhookServiceImpl) CreateLinkToken(ctx context.Context, caller services.Caller, personID uuid.UUID, ttl time.Duration) (*models.LinkToken, error) {
	if !caller.CanManagePhotos && caller.UserID != personID {
		return nil, services.ErrForbidden
	}
	if ttl <= 0 {
		ttl = DefaultLinkTokenTTL
	}

	if _, err := s.persons.GetByID(ctx, personID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("person %s: %w", personID, services.ErrNotFound)
		}
		return nil, err
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &models.LinkToken{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		PersonID:  personID,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}
