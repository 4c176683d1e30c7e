package serviceimpl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/metrics"
)

const (
	DefaultSearchThreshold  = 80.0
	DefaultSearchMaxResults = 100
	maxSearchResults        = 4096
)

type MatchConfig struct {
	DefaultThreshold  float64
	DefaultMaxResults int
}

type MatchServiceImpl struct {
	persons     repositories.PersonRepository
	faces       repositories.FaceRepository
	tags        repositories.FaceTagRepository
	collections services.CollectionService
	provider    services.RecognitionProvider
	storage     services.BlobStorage
	fetcher     services.ImageFetcher
	notifier    services.NotificationService
	cfg         MatchConfig
}

func NewMatchService(
	persons repositories.PersonRepository,
	faces repositories.FaceRepository,
	tags repositories.FaceTagRepository,
	collections services.CollectionService,
	provider services.RecognitionProvider,
	storage services.BlobStorage,
	fetcher services.ImageFetcher,
	notifier services.NotificationService,
	cfg MatchConfig,
) services.MatchService {
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = DefaultSearchThreshold
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = DefaultSearchMaxResults
	}
	return &MatchServiceImpl{
		persons:     persons,
		faces:       faces,
		tags:        tags,
		collections: collections,
		provider:    provider,
		storage:     storage,
		fetcher:     fetcher,
		notifier:    notifier,
		cfg:         cfg,
	}
}

// SearchFace finds the person's images in the event and tags them. It
// writes tags, so it needs the manage photos capability like indexing.
func (s *MatchServiceImpl) SearchFace(ctx context.Context, caller services.Caller, req services.SearchFaceRequest) (*services.SearchFaceResult, error) {
	if !caller.CanManagePhotos {
		return nil, services.ErrForbidden
	}

	threshold := req.Threshold
	if threshold == 0 {
		threshold = s.cfg.DefaultThreshold
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: threshold must be between 0 and 100", services.ErrValidation)
	}
	maxResults := req.MaxResults
	if maxResults == 0 {
		maxResults = s.cfg.DefaultMaxResults
	}
	if maxResults < 1 || maxResults > maxSearchResults {
		return nil, fmt.Errorf("%w: max_results must be between 1 and %d", services.ErrValidation, maxSearchResults)
	}

	person, err := s.persons.GetByID(ctx, req.PersonID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("person %s: %w", req.PersonID, services.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	reference, err := s.referenceImage(ctx, person, req.ReferenceImage)
	if err != nil {
		metrics.FaceSearches.WithLabelValues(searchOutcome(err)).Inc()
		return nil, err
	}

	result := &services.SearchFaceResult{ImageIDs: []uuid.UUID{}, Matches: []services.ImageMatch{}, Threshold: threshold}

	matches, err := s.provider.SearchFacesByImage(ctx, s.collections.CollectionID(req.EventID), reference, threshold, maxResults)
	if errors.Is(err, services.ErrCollectionNotFound) {
		// Nothing indexed for this event yet.
		metrics.FaceSearches.WithLabelValues("no_match").Inc()
		return result, nil
	}
	if err != nil {
		metrics.FaceSearches.WithLabelValues("error").Inc()
		logger.MatchError("search_failed", "Face search failed", err, map[string]interface{}{
			"event_id":  req.EventID.String(),
			"person_id": req.PersonID.String(),
		})
		return nil, err
	}

	best, err := s.bestPerImage(ctx, req.EventID, matches)
	if err != nil {
		return nil, err
	}
	if len(best) == 0 {
		metrics.FaceSearches.WithLabelValues("no_match").Inc()
		return result, nil
	}

	previous, err := s.tags.GetByPerson(ctx, req.EventID, req.PersonID)
	if err != nil {
		return nil, err
	}
	known := make(map[uuid.UUID]struct{}, len(previous))
	for _, t := range previous {
		known[t.ImageID] = struct{}{}
	}

	tags := make([]*models.FaceTag, 0, len(best))
	newMatches := 0
	for _, m := range best {
		result.ImageIDs = append(result.ImageIDs, m.ImageID)
		result.Matches = append(result.Matches, m)
		tags = append(tags, &models.FaceTag{
			ImageID:    m.ImageID,
			PersonID:   req.PersonID,
			EventID:    req.EventID,
			Confidence: m.Confidence,
		})
		if _, ok := known[m.ImageID]; !ok {
			newMatches++
		}
	}

	if err := s.tags.Upsert(ctx, tags); err != nil {
		return nil, err
	}

	metrics.FaceSearches.WithLabelValues("matched").Inc()
	logger.Match("search_matched", "Face search matched images", map[string]interface{}{
		"event_id":    req.EventID.String(),
		"person_id":   req.PersonID.String(),
		"matched":     len(best),
		"new_matches": newMatches,
		"threshold":   threshold,
	})

	if newMatches > 0 && s.notifier != nil {
		s.notifier.SendSingleAsync(req.PersonID, matchMessage(newMatches), "HTML")
	}

	return result, nil
}

func (s *MatchServiceImpl) referenceImage(ctx context.Context, person *models.Person, supplied []byte) ([]byte, error) {
	maxBytes := s.provider.MaxImageBytes()

	if len(supplied) > 0 {
		if int64(len(supplied)) > maxBytes {
			return nil, services.ErrImageTooLarge
		}
		return supplied, nil
	}

	if person.ProfilePhotoPath == nil || *person.ProfilePhotoPath == "" {
		return nil, services.ErrNoProfilePhoto
	}

	data, err := s.fetcher.Fetch(ctx, s.storage.PublicURL(*person.ProfilePhotoPath), maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch profile photo: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, services.ErrImageTooLarge
	}
	return data, nil
}

// bestPerImage keeps the highest similarity per image, in first-seen order.
// A later face with equal similarity does not replace the first.
func (s *MatchServiceImpl) bestPerImage(ctx context.Context, eventID uuid.UUID, matches []services.FaceMatch) ([]services.ImageMatch, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	faceIDs := make([]string, len(matches))
	for i, m := range matches {
		faceIDs[i] = m.ProviderFaceID
	}
	owners, err := s.faces.ImageIDsByProviderFaceIDs(ctx, eventID, faceIDs)
	if err != nil {
		return nil, err
	}

	index := make(map[uuid.UUID]int)
	var best []services.ImageMatch
	for _, m := range matches {
		imageID, ok := owners[m.ProviderFaceID]
		if !ok {
			continue
		}
		if i, seen := index[imageID]; seen {
			if m.Similarity > best[i].Confidence {
				best[i].Confidence = m.Similarity
			}
			continue
		}
		index[imageID] = len(best)
		best = append(best, services.ImageMatch{ImageID: imageID, Confidence: m.Similarity})
	}
	return best, nil
}

func matchMessage(n int) string {
	if n == 1 {
		return "🔎 We found you in <b>1</b> new photo. Open the gallery to see it."
	}
	return fmt.Sprintf("🔎 We found you in <b>%d</b> new photos. Open the gallery to see them.", n)
}

func searchOutcome(err error) string {
	if errors.Is(err, services.ErrNoProfilePhoto) {
		return "no_profile_photo"
	}
	return "error"
}
