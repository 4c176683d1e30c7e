package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/metrics"
)

const (
	MaxBatchLimit = 50

	maxIndexErrorLength = 500
)

type IndexConfig struct {
	DefaultBatchLimit int
	MaxFaces          int
	StuckThreshold    time.Duration
}

type IndexServiceImpl struct {
	images      repositories.ImageRepository
	faces       repositories.FaceRepository
	events      repositories.EventRepository
	collections services.CollectionService
	provider    services.RecognitionProvider
	storage     services.BlobStorage
	fetcher     services.ImageFetcher
	thumbs      services.Thumbnailer
	completion  services.CompletionWatcher
	progress    services.ProgressPublisher
	cfg         IndexConfig
}

func NewIndexService(
	images repositories.ImageRepository,
	faces repositories.FaceRepository,
	events repositories.EventRepository,
	collections services.CollectionService,
	provider services.RecognitionProvider,
	storage services.BlobStorage,
	fetcher services.ImageFetcher,
	thumbs services.Thumbnailer,
	completion services.CompletionWatcher,
	progress services.ProgressPublisher,
	cfg IndexConfig,
) services.IndexService {
	if cfg.DefaultBatchLimit <= 0 {
		cfg.DefaultBatchLimit = 10
	}
	if cfg.MaxFaces <= 0 {
		cfg.MaxFaces = 15
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 5 * time.Minute
	}
	return &IndexServiceImpl{
		images:      images,
		faces:       faces,
		events:      events,
		collections: collections,
		provider:    provider,
		storage:     storage,
		fetcher:     fetcher,
		thumbs:      thumbs,
		completion:  completion,
		progress:    progress,
		cfg:         cfg,
	}
}

func (s *IndexServiceImpl) requireEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("event %s: %w", eventID, services.ErrNotFound)
	}
	return event, err
}

func (s *IndexServiceImpl) publish(eventID uuid.UUID, messageType string, data map[string]interface{}) {
	if s.progress != nil {
		s.progress.PublishEvent(eventID, messageType, data)
	}
}

// Upload stores the original and its thumbnail, then registers the image as pending.
func (s *IndexServiceImpl) Upload(ctx context.Context, caller services.Caller, eventID uuid.UUID, fileName, contentType string, data []byte) (*models.EventImage, error) {
	if !caller.CanManagePhotos {
		return nil, services.ErrForbidden
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", services.ErrValidation)
	}
	if _, err := s.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}

	imageID := uuid.New()
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".jpg"
	}
	originalPath := fmt.Sprintf("events/%s/original/%s%s", eventID, imageID, ext)

	if err := s.storage.Put(ctx, originalPath, data, contentType); err != nil {
		return nil, err
	}
	written := []string{originalPath}

	thumbPath := ""
	if s.thumbs != nil {
		thumb, err := s.thumbs.Thumbnail(data)
		if err != nil {
			logger.IndexWarn("thumbnail_failed", "Could not render thumbnail, keeping original only", map[string]interface{}{
				"image_id": imageID.String(),
				"error":    err.Error(),
			})
		} else {
			thumbPath = fmt.Sprintf("events/%s/thumb/%s.jpg", eventID, imageID)
			if err := s.storage.Put(ctx, thumbPath, thumb, "image/jpeg"); err != nil {
				s.discard(ctx, written)
				return nil, err
			}
			written = append(written, thumbPath)
		}
	}

	image := &models.EventImage{
		ID:            imageID,
		EventID:       eventID,
		OriginalPath:  originalPath,
		ThumbnailPath: thumbPath,
		IndexStatus:   models.IndexStatusPending,
	}
	if err := s.images.Create(ctx, image); err != nil {
		s.discard(ctx, written)
		return nil, err
	}

	logger.Index("image_uploaded", "Image uploaded", map[string]interface{}{
		"event_id": eventID.String(),
		"image_id": imageID.String(),
		"bytes":    len(data),
	})
	s.publish(eventID, "image:uploaded", map[string]interface{}{"imageId": imageID.String()})

	return image, nil
}

func (s *IndexServiceImpl) discard(ctx context.Context, paths []string) {
	if err := s.storage.Remove(ctx, paths); err != nil {
		logger.IndexError("upload_cleanup_failed", "Failed to remove files of an aborted upload", err, map[string]interface{}{"paths": paths})
	}
}

// IndexBatch claims up to limit claimable images of the event and indexes
// them one at a time. Per-image failures are recorded on the image; only
// batch-level faults are returned.
func (s *IndexServiceImpl) IndexBatch(ctx context.Context, caller services.Caller, eventID uuid.UUID, limit int) (*services.IndexBatchResult, error) {
	if !caller.CanManagePhotos {
		return nil, services.ErrForbidden
	}
	if limit == 0 {
		limit = s.cfg.DefaultBatchLimit
	}
	if limit < 1 || limit > MaxBatchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", services.ErrValidation, MaxBatchLimit)
	}
	if _, err := s.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}

	collectionID, err := s.collections.EnsureCollection(ctx, eventID)
	if err != nil {
		logger.IndexError("collection_unavailable", "Cannot index batch without a collection", err, map[string]interface{}{"event_id": eventID.String()})
		return nil, err
	}

	result := &services.IndexBatchResult{EventID: eventID, Items: []services.IndexItemResult{}}

	candidates, err := s.images.ListClaimCandidates(ctx, eventID, limit)
	if err != nil {
		return nil, err
	}

	claimID := uuid.New()
	var claimed []models.EventImage
	if len(candidates) > 0 {
		claimed, err = s.images.ClaimForProcessing(ctx, candidates, claimID)
		if err != nil {
			return nil, err
		}
		if len(claimed) == 0 {
			logger.Index("claim_lost", "Candidates were claimed by another worker", map[string]interface{}{
				"event_id":   eventID.String(),
				"candidates": len(candidates),
			})
		}
	}
	result.Claimed = len(claimed)
	metrics.ImagesClaimed.Add(float64(len(claimed)))

	if len(claimed) > 0 {
		s.publish(eventID, "index:batch_started", map[string]interface{}{"claimed": len(claimed)})
	}

	for _, image := range claimed {
		// Stop early on shutdown; whatever is left stays in processing until
		// stuck recovery puts it back.
		if ctx.Err() != nil {
			logger.IndexWarn("batch_interrupted", "Batch interrupted, remaining images left for stuck recovery", map[string]interface{}{
				"event_id":  eventID.String(),
				"processed": result.Processed,
			})
			break
		}

		item := s.indexOne(ctx, collectionID, claimID, image)
		result.Items = append(result.Items, item)
		switch item.Status {
		case string(models.IndexStatusIndexed):
			result.Indexed++
		case string(models.IndexStatusFailed):
			result.Failed++
		default:
			result.Skipped++
			continue
		}
		result.Processed++
	}

	if len(claimed) > 0 {
		logger.Index("batch_done", "Index batch finished", map[string]interface{}{
			"event_id": eventID.String(),
			"claimed":  result.Claimed,
			"indexed":  result.Indexed,
			"failed":   result.Failed,
			"skipped":  result.Skipped,
		})
		s.publish(eventID, "index:batch_done", map[string]interface{}{
			"indexed": result.Indexed,
			"failed":  result.Failed,
		})
	}

	if s.completion != nil && ctx.Err() == nil {
		completion, err := s.completion.CheckAndNotify(ctx, eventID)
		if err != nil {
			logger.IndexError("completion_check_failed", "Completion check failed", err, map[string]interface{}{"event_id": eventID.String()})
		}
		result.Completion = completion
	}

	return result, nil
}

// itemSkipped marks an image whose claim was taken over by stuck recovery.
const itemSkipped = "skipped"

func (s *IndexServiceImpl) indexOne(ctx context.Context, collectionID string, claimID uuid.UUID, image models.EventImage) services.IndexItemResult {
	item := services.IndexItemResult{ImageID: image.ID}

	// Earlier images of the batch may have taken long enough for stuck
	// recovery to hand this one to another worker.
	held, err := s.images.TouchClaim(ctx, image.ID, claimID)
	if err == nil && !held {
		err = repositories.ErrClaimLost
	}
	if err == nil {
		item.FacesCount, err = s.indexImage(ctx, collectionID, claimID, image)
	}

	if err != nil && !errors.Is(err, repositories.ErrClaimLost) {
		msg := truncateError(err.Error())
		markErr := s.images.MarkFailed(ctx, image.ID, claimID, msg)
		if markErr == nil {
			return s.failed(item, image, msg)
		}
		if !errors.Is(markErr, repositories.ErrClaimLost) {
			logger.IndexError("mark_failed_error", "Failed to record image failure", markErr, map[string]interface{}{"image_id": image.ID.String()})
			return s.failed(item, image, msg)
		}
		err = markErr
	}

	if errors.Is(err, repositories.ErrClaimLost) {
		logger.IndexWarn("claim_lost", "Image was reclaimed by another worker, skipping", map[string]interface{}{
			"event_id": image.EventID.String(),
			"image_id": image.ID.String(),
		})
		item.Status = itemSkipped
		item.FacesCount = 0
		return item
	}

	metrics.ImagesIndexed.WithLabelValues("indexed").Inc()
	s.publish(image.EventID, "image:updated", map[string]interface{}{
		"imageId":     image.ID.String(),
		"indexStatus": models.IndexStatusIndexed,
		"facesCount":  item.FacesCount,
	})

	item.Status = string(models.IndexStatusIndexed)
	return item
}

func (s *IndexServiceImpl) failed(item services.IndexItemResult, image models.EventImage, msg string) services.IndexItemResult {
	logger.IndexWarn("image_failed", "Image indexing failed", map[string]interface{}{
		"event_id": image.EventID.String(),
		"image_id": image.ID.String(),
		"error":    msg,
	})
	metrics.ImagesIndexed.WithLabelValues("failed").Inc()
	s.publish(image.EventID, "image:updated", map[string]interface{}{
		"imageId":     image.ID.String(),
		"indexStatus": models.IndexStatusFailed,
		"error":       msg,
	})

	item.Status = string(models.IndexStatusFailed)
	item.FacesCount = 0
	item.Error = msg
	return item
}

func (s *IndexServiceImpl) indexImage(ctx context.Context, collectionID string, claimID uuid.UUID, image models.EventImage) (int, error) {
	maxBytes := s.provider.MaxImageBytes()

	data, err := s.fetcher.Fetch(ctx, s.storage.PublicURL(image.OriginalPath), maxBytes)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return 0, fmt.Errorf("%w: %d bytes", services.ErrImageTooLarge, len(data))
	}

	// Faces of a previous indexing run are replaced below and must leave the collection too.
	previous, err := s.faces.ProviderFaceIDsByImages(ctx, []uuid.UUID{image.ID})
	if err != nil {
		return 0, fmt.Errorf("load previous faces: %w", err)
	}

	detected, err := s.provider.IndexFaces(ctx, collectionID, data, image.ID.String(), s.cfg.MaxFaces)
	if err != nil {
		return 0, fmt.Errorf("index faces: %w", err)
	}

	faces := make([]*models.Face, 0, len(detected))
	fresh := make([]string, 0, len(detected))
	for _, d := range detected {
		faces = append(faces, &models.Face{
			ImageID:        image.ID,
			EventID:        image.EventID,
			ProviderFaceID: d.ProviderFaceID,
			BboxLeft:       d.Left,
			BboxTop:        d.Top,
			BboxWidth:      d.Width,
			BboxHeight:     d.Height,
			Confidence:     d.Confidence,
		})
		fresh = append(fresh, d.ProviderFaceID)
	}

	if err := s.images.MarkIndexed(ctx, image.ID, claimID, faces); err != nil {
		s.dropProviderFaces(ctx, collectionID, fresh)
		if errors.Is(err, repositories.ErrClaimLost) {
			return 0, err
		}
		return 0, fmt.Errorf("save faces: %w", err)
	}

	s.dropProviderFaces(ctx, collectionID, staleFaces(previous, fresh))
	return len(faces), nil
}

// staleFaces returns the ids in previous that the new run did not report again.
func staleFaces(previous, fresh []string) []string {
	if len(previous) == 0 {
		return nil
	}
	keep := make(map[string]bool, len(fresh))
	for _, id := range fresh {
		keep[id] = true
	}
	var stale []string
	for _, id := range previous {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

// dropProviderFaces removes provider faces that no face row points to. It is
// best effort: a leftover face only costs a search slot until the image is deleted.
func (s *IndexServiceImpl) dropProviderFaces(ctx context.Context, collectionID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if _, err := s.provider.DeleteFaces(ctx, collectionID, ids); err != nil {
		logger.IndexWarn("orphan_faces", "Could not remove provider faces", map[string]interface{}{
			"collection_id": collectionID,
			"faces":         len(ids),
			"error":         err.Error(),
		})
	}
}

func truncateError(msg string) string {
	if len(msg) <= maxIndexErrorLength {
		return msg
	}
	return msg[:maxIndexErrorLength]
}

// ResetStuck puts images stuck in processing longer than the stuck threshold back to pending.
func (s *IndexServiceImpl) ResetStuck(ctx context.Context, caller services.Caller, eventID *uuid.UUID) (int64, error) {
	if !caller.CanManagePhotos {
		return 0, services.ErrForbidden
	}

	n, err := s.images.ResetStuckProcessing(ctx, eventID, s.cfg.StuckThreshold)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.StuckResets.Add(float64(n))
		data := map[string]interface{}{"reset": n, "threshold": s.cfg.StuckThreshold.String()}
		if eventID != nil {
			data["event_id"] = eventID.String()
			s.publish(*eventID, "index:stuck_reset", map[string]interface{}{"reset": n})
		}
		logger.IndexWarn("stuck_reset", "Stuck images reset to pending", data)
	}
	return n, nil
}

// Reindex sends indexed or failed images back to pending.
func (s *IndexServiceImpl) Reindex(ctx context.Context, caller services.Caller, eventID uuid.UUID, imageIDs []uuid.UUID) (int64, error) {
	if !caller.CanManagePhotos {
		return 0, services.ErrForbidden
	}
	if len(imageIDs) == 0 {
		return 0, fmt.Errorf("%w: image_ids is required", services.ErrValidation)
	}

	n, err := s.images.RequeueForReindex(ctx, eventID, imageIDs)
	if err != nil {
		return 0, err
	}
	logger.Index("reindex_requested", "Images requeued for indexing", map[string]interface{}{
		"event_id":  eventID.String(),
		"requested": len(imageIDs),
		"requeued":  n,
	})
	return n, nil
}

func (s *IndexServiceImpl) Status(ctx context.Context, caller services.Caller, eventID uuid.UUID) (models.StatusCounts, error) {
	if !caller.CanManagePhotos {
		return models.StatusCounts{}, services.ErrForbidden
	}
	return s.images.StatusCounts(ctx, eventID)
}

// List pages through an event's images, optionally filtered by status.
func (s *IndexServiceImpl) List(ctx context.Context, caller services.Caller, eventID uuid.UUID, status models.IndexStatus, page, limit int) ([]models.EventImage, int64, error) {
	if !caller.CanManagePhotos {
		return nil, 0, services.ErrForbidden
	}
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", services.ErrValidation, status)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.images.ListByEvent(ctx, eventID, status, (page-1)*limit, limit)
}
