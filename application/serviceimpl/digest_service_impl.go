package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
)

const digestKind = "digest"

type DigestServiceImpl struct {
	tags     repositories.FaceTagRepository
	persons  repositories.PersonRepository
	ledger   repositories.NotificationLedgerRepository
	notifier services.NotificationService
	loc      *time.Location
}

// NewDigestService builds the daily digest. loc fixes what "today" means
// for every guest regardless of server time zone.
func NewDigestService(
	tags repositories.FaceTagRepository,
	persons repositories.PersonRepository,
	ledger repositories.NotificationLedgerRepository,
	notifier services.NotificationService,
	loc *time.Location,
) services.DigestService {
	if loc == nil {
		loc = time.UTC
	}
	return &DigestServiceImpl{tags: tags, persons: persons, ledger: ledger, notifier: notifier, loc: loc}
}

// SendDailyDigest messages every subscriber tagged in new images since local
// midnight. One run per local day; a repeated trigger is a no-op.
func (s *DigestServiceImpl) SendDailyDigest(ctx context.Context, now time.Time) (*services.BroadcastResult, error) {
	local := now.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	day := midnight.Format("2006-01-02")

	counts, err := s.tags.CountNewSince(ctx, midnight)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		logger.Notify("digest_empty", "No new matches today, digest skipped", map[string]interface{}{"day": day})
		return &services.BroadcastResult{}, nil
	}

	ids := make([]uuid.UUID, len(counts))
	perPerson := make(map[uuid.UUID]int64, len(counts))
	for i, c := range counts {
		ids[i] = c.PersonID
		perPerson[c.PersonID] = c.Images
	}

	persons, err := s.persons.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	messages := make([]services.Message, 0, len(persons))
	for _, p := range persons {
		n := perPerson[p.ID]
		if p.TelegramChatID == nil || *p.TelegramChatID == "" || n == 0 {
			continue
		}
		messages = append(messages, services.Message{
			PersonID: p.ID,
			ChatID:   *p.TelegramChatID,
			Text:     digestMessage(n),
			Format:   "HTML",
		})
	}
	if len(messages) == 0 {
		return &services.BroadcastResult{}, nil
	}

	key := fmt.Sprintf("%s:%s", digestKind, day)
	err = s.ledger.Reserve(ctx, &models.NotificationLedger{Key: key, Kind: digestKind})
	if errors.Is(err, repositories.ErrLedgerTaken) {
		logger.Notify("digest_already_sent", "Digest already sent today", map[string]interface{}{"day": day})
		return &services.BroadcastResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	result := s.notifier.Dispatch(ctx, digestKind, messages)
	if err := s.ledger.Complete(ctx, key, result.Sent, result.Failed, result.Blocked); err != nil {
		logger.NotifyError("ledger_complete_failed", "Failed to record digest", err, map[string]interface{}{"key": key})
	}

	logger.Notify("digest_sent", "Daily digest sent", map[string]interface{}{
		"day":     day,
		"total":   result.Total,
		"sent":    result.Sent,
		"failed":  result.Failed,
		"blocked": result.Blocked,
	})
	return result, nil
}

func digestMessage(n int64) string {
	if n == 1 {
		return "🗓 Today you appeared in <b>1</b> new photo. Open the gallery to see it."
	}
	return fmt.Sprintf("🗓 Today you appeared in <b>%d</b> new photos. Open the gallery to see them.", n)
}
