package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/metrics"
	"retreat-photos/pkg/retry"
)

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeBlocked = "blocked"
)

type NotificationConfig struct {
	// BatchSize messages go out concurrently, then the dispatcher waits
	// BatchDelay before the next batch.
	BatchSize    int
	BatchDelay   time.Duration
	AsyncTimeout time.Duration
}

type NotificationServiceImpl struct {
	persons repositories.PersonRepository
	sender  services.ChatSender
	cfg     NotificationConfig
	wg      sync.WaitGroup
}

func NewNotificationService(persons repositories.PersonRepository, sender services.ChatSender, cfg NotificationConfig) services.NotificationService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = time.Minute
	}
	return &NotificationServiceImpl{persons: persons, sender: sender, cfg: cfg}
}

func (s *NotificationServiceImpl) SendSingle(ctx context.Context, caller services.Caller, personID uuid.UUID, text, format string) (*services.SingleResult, error) {
	if !caller.CanBroadcast {
		return nil, services.ErrForbidden
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", services.ErrValidation)
	}
	return s.sendSingle(ctx, "single", personID, text, format)
}

func (s *NotificationServiceImpl) sendSingle(ctx context.Context, kind string, personID uuid.UUID, text, format string) (*services.SingleResult, error) {
	person, err := s.persons.GetByID(ctx, personID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("person %s: %w", personID, services.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	result := &services.SingleResult{}
	if person.TelegramChatID == nil || *person.TelegramChatID == "" {
		result.NotSubscribed = true
		return result, nil
	}

	outcome, err := s.deliver(ctx, kind, services.Message{
		PersonID: person.ID,
		ChatID:   *person.TelegramChatID,
		Text:     text,
		Format:   format,
	})
	switch outcome {
	case outcomeSent:
		result.Sent = true
	case outcomeBlocked:
		result.Blocked = true
	default:
		return result, err
	}
	return result, nil
}

// deliver sends one message. The sender retries on its own; a blocked
// outcome unlinks the recipient so later sends skip them.
func (s *NotificationServiceImpl) deliver(ctx context.Context, kind string, msg services.Message) (string, error) {
	err := s.sender.SendMessage(ctx, msg.ChatID, msg.Text, msg.Format)

	outcome := outcomeSent
	switch {
	case err == nil:
	case retry.OutcomeOf(err) == retry.Blocked:
		outcome = outcomeBlocked
		if clearErr := s.persons.ClearChatID(ctx, msg.PersonID); clearErr != nil {
			logger.NotifyError("unlink_failed", "Failed to clear chat of blocked recipient", clearErr, map[string]interface{}{"person_id": msg.PersonID.String()})
		}
		logger.NotifyWarn("recipient_blocked", "Recipient blocked the bot, chat unlinked", map[string]interface{}{
			"person_id": msg.PersonID.String(),
			"kind":      kind,
		})
	default:
		outcome = outcomeFailed
		logger.NotifyError("send_failed", "Notification send failed", err, map[string]interface{}{
			"person_id": msg.PersonID.String(),
			"kind":      kind,
			"outcome":   retry.OutcomeOf(err).String(),
		})
	}

	metrics.NotificationsSent.WithLabelValues(kind, outcome).Inc()
	return outcome, err
}

func (s *NotificationServiceImpl) Broadcast(ctx context.Context, caller services.Caller, eventID uuid.UUID, text, format string) (*services.BroadcastResult, error) {
	if !caller.CanBroadcast {
		return nil, services.ErrForbidden
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", services.ErrValidation)
	}

	subscribers, err := s.persons.SubscribersForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	messages := make([]services.Message, 0, len(subscribers))
	for _, p := range subscribers {
		if p.TelegramChatID == nil || *p.TelegramChatID == "" {
			continue
		}
		messages = append(messages, services.Message{PersonID: p.ID, ChatID: *p.TelegramChatID, Text: text, Format: format})
	}

	result := s.Dispatch(ctx, "broadcast", messages)
	logger.Notify("broadcast_done", "Broadcast finished", map[string]interface{}{
		"event_id": eventID.String(),
		"total":    result.Total,
		"sent":     result.Sent,
		"failed":   result.Failed,
		"blocked":  result.Blocked,
	})
	return result, nil
}

// Dispatch sends messages in batches of BatchSize. A batch goes out
// concurrently; batches run one after another with BatchDelay between them
// to stay under the platform's rate limit. If ctx ends, unsent messages
// count as failed.
func (s *NotificationServiceImpl) Dispatch(ctx context.Context, kind string, messages []services.Message) *services.BroadcastResult {
	result := &services.BroadcastResult{Total: len(messages)}

	for start := 0; start < len(messages); start += s.cfg.BatchSize {
		if start > 0 && !s.pause(ctx) {
			result.Failed += len(messages) - start
			logger.NotifyWarn("dispatch_cancelled", "Dispatch cancelled, remaining messages dropped", map[string]interface{}{
				"kind":      kind,
				"remaining": len(messages) - start,
			})
			break
		}

		batch := messages[start:min(start+s.cfg.BatchSize, len(messages))]
		outcomes := make([]string, len(batch))

		var wg sync.WaitGroup
		for i, msg := range batch {
			wg.Add(1)
			go func(i int, msg services.Message) {
				defer wg.Done()
				outcomes[i], _ = s.deliver(ctx, kind, msg)
			}(i, msg)
		}
		wg.Wait()

		for _, o := range outcomes {
			switch o {
			case outcomeSent:
				result.Sent++
			case outcomeBlocked:
				result.Blocked++
			default:
				result.Failed++
			}
		}
	}

	return result
}

func (s *NotificationServiceImpl) pause(ctx context.Context) bool {
	if s.cfg.BatchDelay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.cfg.BatchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SendSingleAsync is fire and forget. The send outlives the request that
// triggered it, bounded by AsyncTimeout.
func (s *NotificationServiceImpl) SendSingleAsync(personID uuid.UUID, text, format string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AsyncTimeout)
		defer cancel()

		result, err := s.sendSingle(ctx, "single", personID, text, format)
		if err != nil {
			logger.NotifyError("async_send_failed", "Background notification failed", err, map[string]interface{}{"person_id": personID.String()})
			return
		}
		if result.NotSubscribed {
			logger.Notify("async_not_subscribed", "Person has no linked chat, notification skipped", map[string]interface{}{"person_id": personID.String()})
		}
	}()
}

// Wait blocks until background sends finish.
func (s *NotificationServiceImpl) Wait() {
	s.wg.Wait()
}
