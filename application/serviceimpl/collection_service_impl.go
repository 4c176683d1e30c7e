package serviceimpl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
)

type CollectionServiceImpl struct {
	provider services.RecognitionProvider
	prefix   string
}

func NewCollectionService(provider services.RecognitionProvider, prefix string) services.CollectionService {
	return &CollectionServiceImpl{provider: provider, prefix: prefix}
}

// CollectionID is derived from the event id alone, so every worker agrees on it without a lookup.
func (s *CollectionServiceImpl) CollectionID(eventID uuid.UUID) string {
	return s.prefix + eventID.String()
}

// EnsureCollection creates the event's collection on first use. Losing a
// creation race to another worker counts as success.
func (s *CollectionServiceImpl) EnsureCollection(ctx context.Context, eventID uuid.UUID) (string, error) {
	id := s.CollectionID(eventID)

	err := s.provider.DescribeCollection(ctx, id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, services.ErrCollectionNotFound) {
		return "", fmt.Errorf("%w: %w", services.ErrCollectionUnavailable, err)
	}

	err = s.provider.CreateCollection(ctx, id)
	switch {
	case err == nil:
		logger.Index("collection_created", "Recognition collection created", map[string]interface{}{
			"event_id":      eventID.String(),
			"collection_id": id,
		})
		return id, nil
	case errors.Is(err, services.ErrCollectionExists):
		return id, nil
	default:
		return "", fmt.Errorf("%w: %w", services.ErrCollectionUnavailable, err)
	}
}
