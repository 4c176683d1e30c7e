package serviceimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
)

// ProgressServiceImpl answers dashboard polls. Each poller gets its own
// session so stuck detection and the error budget are never shared between tabs.
type ProgressServiceImpl struct {
	images   repositories.ImageRepository
	sessions repositories.PollSessionRepository
	indexer  services.IndexService
	policy   models.PollPolicy
	now      func() time.Time
}

func NewProgressService(
	images repositories.ImageRepository,
	sessions repositories.PollSessionRepository,
	indexer services.IndexService,
	policy models.PollPolicy,
) services.ProgressService {
	return &ProgressServiceImpl{images: images, sessions: sessions, indexer: indexer, policy: policy, now: time.Now}
}

func sessionKey(eventID uuid.UUID, sessionID string) string {
	return eventID.String() + ":" + sessionID
}

// Poll reads the event's status, advances the caller's session and, when the
// session says the batch is stuck, resets stuck images right away.
func (s *ProgressServiceImpl) Poll(ctx context.Context, caller services.Caller, eventID uuid.UUID, sessionID string) (*services.PollStatus, error) {
	if !caller.CanManagePhotos {
		return nil, services.ErrForbidden
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", services.ErrValidation)
	}

	key := sessionKey(eventID, sessionID)
	session, err := s.sessions.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	counts, err := s.images.StatusCounts(ctx, eventID)
	if err != nil {
		return nil, err
	}

	status := &services.PollStatus{
		EventID:  eventID,
		Counts:   counts,
		Advice:   session.Observe(counts, s.now(), s.policy),
		Complete: counts.Complete(),
	}

	if status.Advice == models.AdviceResetStuck {
		n, err := s.indexer.ResetStuck(ctx, caller, &eventID)
		if err != nil {
			return nil, err
		}
		status.Reset = n
	}
	if status.Advice == models.AdviceAlert {
		logger.IndexWarn("poll_alert", "Indexing keeps failing, auto retrigger stopped", map[string]interface{}{
			"event_id":           eventID.String(),
			"session_id":         sessionID,
			"consecutive_errors": session.ConsecutiveErrors,
		})
	}

	if err := s.sessions.Save(ctx, key, session); err != nil {
		return nil, err
	}
	status.Session = *session
	return status, nil
}

// RecordBatch feeds an index-batch outcome into the poller's error budget.
func (s *ProgressServiceImpl) RecordBatch(ctx context.Context, eventID uuid.UUID, sessionID string, batchErr error) {
	if sessionID == "" {
		return
	}
	key := sessionKey(eventID, sessionID)

	session, err := s.sessions.Load(ctx, key)
	if err != nil {
		logger.IndexError("session_load_failed", "Failed to load poll session", err, map[string]interface{}{"key": key})
		return
	}
	session.RecordBatch(batchErr)
	if err := s.sessions.Save(ctx, key, session); err != nil {
		logger.IndexError("session_save_failed", "Failed to save poll session", err, map[string]interface{}{"key": key})
	}
}
