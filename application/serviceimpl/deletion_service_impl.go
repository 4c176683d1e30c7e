package serviceimpl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/metrics"
)

const maxProviderDeleteBatch = 4096

type DeletionServiceImpl struct {
	images      repositories.ImageRepository
	faces       repositories.FaceRepository
	collections services.CollectionService
	provider    services.RecognitionProvider
	storage     services.BlobStorage
	progress    services.ProgressPublisher
	batchSize   int
}

func NewDeletionService(
	images repositories.ImageRepository,
	faces repositories.FaceRepository,
	collections services.CollectionService,
	provider services.RecognitionProvider,
	storage services.BlobStorage,
	progress services.ProgressPublisher,
	batchSize int,
) services.DeletionService {
	if batchSize <= 0 || batchSize > maxProviderDeleteBatch {
		batchSize = maxProviderDeleteBatch
	}
	return &DeletionServiceImpl{
		images:      images,
		faces:       faces,
		collections: collections,
		provider:    provider,
		storage:     storage,
		progress:    progress,
		batchSize:   batchSize,
	}
}

// DeleteImages removes images everywhere they live. Provider cleanup is best
// effort; blob removal must succeed before any row is deleted, so a failure
// leaves the images fully restorable. Unknown ids are ignored.
func (s *DeletionServiceImpl) DeleteImages(ctx context.Context, caller services.Caller, eventID uuid.UUID, imageIDs []uuid.UUID) (*services.DeleteImagesResult, error) {
	if !caller.CanManagePhotos {
		return nil, services.ErrForbidden
	}
	if len(imageIDs) == 0 {
		return nil, fmt.Errorf("%w: image_ids must not be empty", services.ErrValidation)
	}

	result := &services.DeleteImagesResult{}

	images, err := s.images.GetByIDsForEvent(ctx, eventID, dedupe(imageIDs))
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return result, nil
	}

	ids := make([]uuid.UUID, 0, len(images))
	paths := make([]string, 0, len(images)*2)
	for _, img := range images {
		ids = append(ids, img.ID)
		paths = append(paths, img.OriginalPath)
		if img.ThumbnailPath != "" {
			paths = append(paths, img.ThumbnailPath)
		}
	}

	faceIDs, err := s.faces.ProviderFaceIDsByImages(ctx, ids)
	if err != nil {
		return nil, err
	}

	result.ProviderFacesRemoved, result.ProviderCleanupFailed = s.deleteProviderFaces(ctx, eventID, faceIDs)

	if err := s.storage.Remove(ctx, paths); err != nil {
		logger.DeletionError("blob_delete_failed", "Blob deletion failed, keeping image rows", err, map[string]interface{}{
			"event_id": eventID.String(),
			"images":   len(ids),
		})
		return nil, fmt.Errorf("%w: %w", services.ErrBlobDeleteFailed, err)
	}

	faceRows, tagRows, err := s.faces.DeleteByImages(ctx, ids)
	if err != nil {
		return nil, err
	}

	removed, err := s.images.DeleteByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	result.ImagesRemoved = int(removed)
	metrics.ImagesDeleted.Add(float64(removed))

	logger.Deletion("images_deleted", "Images deleted", map[string]interface{}{
		"event_id":                eventID.String(),
		"images":                  removed,
		"face_rows":               faceRows,
		"tag_rows":                tagRows,
		"provider_faces":          result.ProviderFacesRemoved,
		"provider_cleanup_failed": result.ProviderCleanupFailed,
	})

	if s.progress != nil {
		deleted := make([]string, len(ids))
		for i, id := range ids {
			deleted[i] = id.String()
		}
		s.progress.PublishEvent(eventID, "images:deleted", map[string]interface{}{"imageIds": deleted})
	}

	return result, nil
}

func (s *DeletionServiceImpl) deleteProviderFaces(ctx context.Context, eventID uuid.UUID, faceIDs []string) (int, bool) {
	collectionID := s.collections.CollectionID(eventID)
	removed := 0
	failed := false

	for start := 0; start < len(faceIDs); start += s.batchSize {
		end := min(start+s.batchSize, len(faceIDs))

		n, err := s.provider.DeleteFaces(ctx, collectionID, faceIDs[start:end])
		if errors.Is(err, services.ErrCollectionNotFound) {
			return removed, false
		}
		if err != nil {
			failed = true
			logger.DeletionWarn("provider_delete_failed", "Provider face cleanup failed, continuing", map[string]interface{}{
				"collection_id": collectionID,
				"batch":         end - start,
				"error":         err.Error(),
			})
			continue
		}
		removed += n
	}
	return removed, failed
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
