package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
)

type ImageRepository interface {
	Create(ctx context.Context, image *models.EventImage) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EventImage, error)
	GetByIDsForEvent(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) ([]models.EventImage, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, status models.IndexStatus, offset, limit int) ([]models.EventImage, int64, error)

	// Indexing state machine
	ListClaimCandidates(ctx context.Context, eventID uuid.UUID, limit int) ([]uuid.UUID, error)
	// ClaimForProcessing moves the given images from pending/failed to processing in one
	// conditional write, stamps them with claimID and returns only the rows this call moved.
	ClaimForProcessing(ctx context.Context, ids []uuid.UUID, claimID uuid.UUID) ([]models.EventImage, error)
	// TouchClaim refreshes updated_at while the image is still processing under claimID.
	// It reports false once the claim was lost to stuck recovery.
	TouchClaim(ctx context.Context, id, claimID uuid.UUID) (bool, error)
	// MarkIndexed replaces the image's face rows and moves it to indexed in one
	// transaction. It returns ErrClaimLost when claimID no longer holds the image.
	MarkIndexed(ctx context.Context, id, claimID uuid.UUID, faces []*models.Face) error
	MarkFailed(ctx context.Context, id, claimID uuid.UUID, message string) error
	ResetStuckProcessing(ctx context.Context, eventID *uuid.UUID, olderThan time.Duration) (int64, error)
	RequeueForReindex(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (int64, error)
	StatusCounts(ctx context.Context, eventID uuid.UUID) (models.StatusCounts, error)
	// EventsWithPending lists events that have images never attempted since upload,
	// reindex or stuck reset. Failed images alone do not qualify.
	EventsWithPending(ctx context.Context, limit int) ([]uuid.UUID, error)
	PipelineTotals(ctx context.Context, stuckAfter time.Duration) (models.PipelineTotals, error)

	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}
