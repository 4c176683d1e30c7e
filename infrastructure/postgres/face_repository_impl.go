package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
)

type FaceRepositoryImpl struct {
	db *gorm.DB
}

func NewFaceRepository(db *gorm.DB) repositories.FaceRepository {
	return &FaceRepositoryImpl{db: db}
}

func (r *FaceRepositoryImpl) GetByImage(ctx context.Context, imageID uuid.UUID) ([]models.Face, error) {
	var faces []models.Face
	err := r.db.WithContext(ctx).
		Where("image_id = ?", imageID).
		Order("confidence DESC").
		Find(&faces).Error
	return faces, err
}

func (r *FaceRepositoryImpl) ImageIDsByProviderFaceIDs(ctx context.Context, eventID uuid.UUID, providerFaceIDs []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(providerFaceIDs))
	if len(providerFaceIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		ProviderFaceID string
		ImageID        uuid.UUID
	}
	err := r.db.WithContext(ctx).
		Model(&models.Face{}).
		Select("provider_face_id, image_id").
		Where("event_id = ? AND provider_face_id IN ?", eventID, providerFaceIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		out[row.ProviderFaceID] = row.ImageID
	}
	return out, nil
}

func (r *FaceRepositoryImpl) ProviderFaceIDsByImages(ctx context.Context, imageIDs []uuid.UUID) ([]string, error) {
	var ids []string
	if len(imageIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Face{}).
		Where("image_id IN ?", imageIDs).
		Pluck("provider_face_id", &ids).Error
	return ids, err
}

func (r *FaceRepositoryImpl) DeleteByImages(ctx context.Context, imageIDs []uuid.UUID) (int64, int64, error) {
	if len(imageIDs) == 0 {
		return 0, 0, nil
	}

	var faces, tags int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("image_id IN ?", imageIDs).Delete(&models.FaceTag{})
		if res.Error != nil {
			return res.Error
		}
		tags = res.RowsAffected

		res = tx.Where("image_id IN ?", imageIDs).Delete(&models.Face{})
		if res.Error != nil {
			return res.Error
		}
		faces = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return faces, tags, nil
}

type FaceTagRepositoryImpl struct {
	db *gorm.DB
}

func NewFaceTagRepository(db *gorm.DB) repositories.FaceTagRepository {
	return &FaceTagRepositoryImpl{db: db}
}

// Upsert keeps one tag per (image, person); a repeat search refreshes the confidence.
func (r *FaceTagRepositoryImpl) Upsert(ctx context.Context, tags []*models.FaceTag) error {
	if len(tags) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "image_id"}, {Name: "person_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"confidence", "updated_at"}),
		}).
		Create(&tags).Error
}

func (r *FaceTagRepositoryImpl) GetByPerson(ctx context.Context, eventID, personID uuid.UUID) ([]models.FaceTag, error) {
	var tags []models.FaceTag
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND person_id = ?", eventID, personID).
		Order("confidence DESC").
		Find(&tags).Error
	return tags, err
}

// CountNewSince counts images first tagged for each person at or after since.
func (r *FaceTagRepositoryImpl) CountNewSince(ctx context.Context, since time.Time) ([]repositories.PersonMatchCount, error) {
	var rows []repositories.PersonMatchCount
	err := r.db.WithContext(ctx).
		Model(&models.FaceTag{}).
		Select("person_id, COUNT(DISTINCT image_id) AS images").
		Where("created_at >= ?", since.UTC()).
		Group("person_id").
		Order("person_id").
		Scan(&rows).Error
	return rows, err
}
