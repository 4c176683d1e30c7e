package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
)

const completionKind = "completion"

const DefaultCompletionMessage = "📸 %d new photos from %s are ready. Open the gallery to find yourself!"

type CompletionWatcherImpl struct {
	images   repositories.ImageRepository
	events   repositories.EventRepository
	ledger   repositories.NotificationLedgerRepository
	notifier services.NotificationService
	message  string
}

func NewCompletionWatcher(
	images repositories.ImageRepository,
	events repositories.EventRepository,
	ledger repositories.NotificationLedgerRepository,
	notifier services.NotificationService,
	message string,
) services.CompletionWatcher {
	if message == "" {
		message = DefaultCompletionMessage
	}
	return &CompletionWatcherImpl{
		images:   images,
		events:   events,
		ledger:   ledger,
		notifier: notifier,
		message:  message,
	}
}

// completionKey identifies one completion of an event. Any later upload,
// failure or re-index changes it, so the next completion notifies again.
func completionKey(eventID uuid.UUID, counts models.StatusCounts) string {
	var last int64
	if counts.LastIndexedAt != nil {
		last = counts.LastIndexedAt.UnixNano()
	}
	return fmt.Sprintf("%s:%s:%d:%d:%d", completionKind, eventID, counts.Indexed, counts.Failed, last)
}

// CheckAndNotify broadcasts once per completion. The ledger row is reserved
// before sending and released if the broadcast cannot start, so concurrent
// batches finishing together notify exactly once.
func (w *CompletionWatcherImpl) CheckAndNotify(ctx context.Context, eventID uuid.UUID) (*services.CompletionResult, error) {
	counts, err := w.images.StatusCounts(ctx, eventID)
	if err != nil {
		return nil, err
	}

	result := &services.CompletionResult{
		Complete: counts.Complete(),
		Indexed:  counts.Indexed,
		Failed:   counts.Failed,
	}
	if !result.Complete {
		return result, nil
	}

	previous, err := w.ledger.LatestIndexed(ctx, eventID, completionKind)
	if err != nil {
		return result, err
	}

	key := completionKey(eventID, counts)
	err = w.ledger.Reserve(ctx, &models.NotificationLedger{
		Key:     key,
		EventID: eventID,
		Kind:    completionKind,
		Indexed: counts.Indexed,
	})
	if errors.Is(err, repositories.ErrLedgerTaken) {
		result.AlreadyNotified = true
		return result, nil
	}
	if err != nil {
		return result, err
	}

	newlyIndexed := counts.Indexed - previous
	if newlyIndexed <= 0 {
		newlyIndexed = counts.Indexed
	}

	eventName := "the event"
	if event, err := w.events.GetByID(ctx, eventID); err == nil && event.Name != "" {
		eventName = html.EscapeString(event.Name)
	}

	broadcast, err := w.notifier.Broadcast(ctx, services.SystemCaller(), eventID, fmt.Sprintf(w.message, newlyIndexed, eventName), "HTML")
	if err != nil {
		if relErr := w.ledger.Release(ctx, key); relErr != nil {
			logger.NotifyError("ledger_release_failed", "Failed to release completion ledger entry", relErr, map[string]interface{}{"key": key})
		}
		return result, err
	}

	if err := w.ledger.Complete(ctx, key, broadcast.Sent, broadcast.Failed, broadcast.Blocked); err != nil {
		logger.NotifyError("ledger_complete_failed", "Failed to record completion broadcast", err, map[string]interface{}{"key": key})
	}

	logger.Notify("completion_broadcast", "Event indexing complete, subscribers notified", map[string]interface{}{
		"event_id":      eventID.String(),
		"indexed":       counts.Indexed,
		"newly_indexed": newlyIndexed,
		"failed":        counts.Failed,
		"sent":          broadcast.Sent,
		"blocked":       broadcast.Blocked,
	})

	result.Notified = true
	result.Broadcast = broadcast
	return result, nil
}
