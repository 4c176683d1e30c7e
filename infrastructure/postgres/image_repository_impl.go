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

type ImageRepositoryImpl struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) repositories.ImageRepository {
	return &ImageRepositoryImpl{db: db}
}

func claimable() []string {
	out := make([]string, len(models.ClaimableStatuses))
	for i, s := range models.ClaimableStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *ImageRepositoryImpl) Create(ctx context.Context, image *models.EventImage) error {
	return r.db.WithContext(ctx).Create(image).Error
}

func (r *ImageRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.EventImage, error) {
	var image models.EventImage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&image).Error; err != nil {
		return nil, notFound(err)
	}
	return &image, nil
}

func (r *ImageRepositoryImpl) GetByIDsForEvent(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) ([]models.EventImage, error) {
	var images []models.EventImage
	if len(ids) == 0 {
		return images, nil
	}
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND id IN ?", eventID, ids).
		Find(&images).Error
	return images, err
}

func (r *ImageRepositoryImpl) ListByEvent(ctx context.Context, eventID uuid.UUID, status models.IndexStatus, offset, limit int) ([]models.EventImage, int64, error) {
	var images []models.EventImage
	var total int64

	query := r.db.WithContext(ctx).Model(&models.EventImage{}).Where("event_id = ?", eventID)
	if status != "" {
		query = query.Where("index_status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&images).Error

	return images, total, err
}

func (r *ImageRepositoryImpl) ListClaimCandidates(ctx context.Context, eventID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.EventImage{}).
		Where("event_id = ? AND index_status IN ?", eventID, claimable()).
		Order(clause.Expr{SQL: "CASE WHEN index_status = ? THEN 0 ELSE 1 END, updated_at ASC", Vars: []interface{}{models.IndexStatusPending}}).
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ClaimForProcessing is a single UPDATE ... WHERE index_status IN (pending, failed)
// RETURNING *. Rows another worker already moved are simply not returned.
func (r *ImageRepositoryImpl) ClaimForProcessing(ctx context.Context, ids []uuid.UUID, claimID uuid.UUID) ([]models.EventImage, error) {
	var claimed []models.EventImage
	if len(ids) == 0 {
		return claimed, nil
	}

	err := r.db.WithContext(ctx).
		Model(&claimed).
		Clauses(clause.Returning{}).
		Where("id IN ? AND index_status IN ?", ids, claimable()).
		Updates(map[string]interface{}{
			"index_status": models.IndexStatusProcessing,
			"claim_id":     claimID,
			"updated_at":   time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// held scopes a write to an image still processing under claimID.
func held(tx *gorm.DB, id, claimID uuid.UUID) *gorm.DB {
	return tx.Model(&models.EventImage{}).
		Where("id = ? AND index_status = ? AND claim_id = ?", id, models.IndexStatusProcessing, claimID)
}

func (r *ImageRepositoryImpl) TouchClaim(ctx context.Context, id, claimID uuid.UUID) (bool, error) {
	result := held(r.db.WithContext(ctx), id, claimID).
		Update("updated_at", time.Now().UTC())
	return result.RowsAffected > 0, result.Error
}

func (r *ImageRepositoryImpl) MarkIndexed(ctx context.Context, id, claimID uuid.UUID, faces []*models.Face) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := held(tx, id, claimID).Updates(map[string]interface{}{
			"index_status": models.IndexStatusIndexed,
			"faces_count":  len(faces),
			"index_error":  nil,
			"claim_id":     nil,
			"indexed_at":   now,
			"updated_at":   now,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repositories.ErrClaimLost
		}

		if err := tx.Where("image_id = ?", id).Delete(&models.Face{}).Error; err != nil {
			return err
		}
		if len(faces) == 0 {
			return nil
		}
		return tx.CreateInBatches(faces, 50).Error
	})
}

func (r *ImageRepositoryImpl) MarkFailed(ctx context.Context, id, claimID uuid.UUID, message string) error {
	result := held(r.db.WithContext(ctx), id, claimID).
		Updates(map[string]interface{}{
			"index_status": models.IndexStatusFailed,
			"index_error":  message,
			"claim_id":     nil,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrClaimLost
	}
	return nil
}

// ResetStuckProcessing puts images that sat in processing longer than olderThan back to pending.
func (r *ImageRepositoryImpl) ResetStuckProcessing(ctx context.Context, eventID *uuid.UUID, olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan)

	query := r.db.WithContext(ctx).
		Model(&models.EventImage{}).
		Where("index_status = ? AND updated_at < ?", models.IndexStatusProcessing, threshold)
	if eventID != nil {
		query = query.Where("event_id = ?", *eventID)
	}

	result := query.Updates(map[string]interface{}{
		"index_status": models.IndexStatusPending,
		"index_error":  models.StuckResetMarker,
		"claim_id":     nil,
		"updated_at":   time.Now().UTC(),
	})
	return result.RowsAffected, result.Error
}

func (r *ImageRepositoryImpl) RequeueForReindex(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.EventImage{}).
		Where("event_id = ? AND id IN ? AND index_status IN ?", eventID, ids,
			[]string{string(models.IndexStatusIndexed), string(models.IndexStatusFailed)}).
		Updates(map[string]interface{}{
			"index_status": models.IndexStatusPending,
			"index_error":  nil,
			"updated_at":   time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *ImageRepositoryImpl) StatusCounts(ctx context.Context, eventID uuid.UUID) (models.StatusCounts, error) {
	var counts models.StatusCounts

	var rows []struct {
		IndexStatus models.IndexStatus
		Count       int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.EventImage{}).
		Select("index_status, COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("index_status").
		Scan(&rows).Error
	if err != nil {
		return counts, err
	}

	for _, row := range rows {
		switch row.IndexStatus {
		case models.IndexStatusPending:
			counts.Pending = row.Count
		case models.IndexStatusProcessing:
			counts.Processing = row.Count
		case models.IndexStatusIndexed:
			counts.Indexed = row.Count
		case models.IndexStatusFailed:
			counts.Failed = row.Count
		}
	}

	var agg struct {
		LastIndexedAt *time.Time
	}
	err = r.db.WithContext(ctx).
		Model(&models.EventImage{}).
		Select("MAX(indexed_at) AS last_indexed_at").
		Where("event_id = ? AND index_status = ?", eventID, models.IndexStatusIndexed).
		Scan(&agg).Error
	if err != nil {
		return counts, err
	}
	counts.LastIndexedAt = agg.LastIndexedAt

	return counts, nil
}

func (r *ImageRepositoryImpl) EventsWithPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.EventImage{}).
		Where("index_status = ?", models.IndexStatusPending).
		Distinct("event_id").
		Limit(limit).
		Pluck("event_id", &ids).Error
	return ids, err
}

func (r *ImageRepositoryImpl) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.EventImage{})
	return result.RowsAffected, result.Error
}

func (r *ImageRepositoryImpl) PipelineTotals(ctx context.Context, stuckAfter time.Duration) (models.PipelineTotals, error) {
	var totals models.PipelineTotals
	err := r.db.WithContext(ctx).
		Model(&models.EventImage{}).
		Select(`COUNT(*) FILTER (WHERE index_status = ?) AS pending,
			COUNT(*) FILTER (WHERE index_status = ?) AS processing,
			COUNT(*) FILTER (WHERE index_status = ?) AS failed,
			COUNT(*) FILTER (WHERE index_status = ? AND updated_at < ?) AS stuck`,
			models.IndexStatusPending, models.IndexStatusProcessing, models.IndexStatusFailed,
			models.IndexStatusProcessing, time.Now().Add(-stuckAfter)).
		Scan(&totals).Error
	return totals, err
}
