package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
)

type FaceRepository interface {
	GetByImage(ctx context.Context, imageID uuid.UUID) ([]models.Face, error)
	ImageIDsByProviderFaceIDs(ctx context.Context, eventID uuid.UUID, providerFaceIDs []string) (map[string]uuid.UUID, error)
	ProviderFaceIDsByImages(ctx context.Context, imageIDs []uuid.UUID) ([]string, error)
	// DeleteByImages removes face tags and faces of the images.
	DeleteByImages(ctx context.Context, imageIDs []uuid.UUID) (faces int64, tags int64, err error)
}

// PersonMatchCount is one row of the daily digest.
type PersonMatchCount struct {
	PersonID uuid.UUID
	Images   int64
}

type FaceTagRepository interface {
	Upsert(ctx context.Context, tags []*models.FaceTag) error
	GetByPerson(ctx context.Context, eventID, personID uuid.UUID) ([]models.FaceTag, error)
	CountNewSince(ctx context.Context, since time.Time) ([]PersonMatchCount, error)
}
