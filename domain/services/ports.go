package services

import (
	"context"

	"github.com/google/uuid"
)

// DetectedFace is one face the provider stored while indexing an image.
type DetectedFace struct {
	ProviderFaceID string
	Confidence     float64
	Left           float64
	Top            float64
	Width          float64
	Height         float64
}

// FaceMatch is one provider face similar to a searched reference image.
type FaceMatch struct {
	ProviderFaceID string
	Similarity     float64
}

// RecognitionProvider is the external face collection service.
type RecognitionProvider interface {
	// DescribeCollection returns ErrCollectionNotFound when the collection does not exist.
	DescribeCollection(ctx context.Context, collectionID string) error
	// CreateCollection returns ErrCollectionExists when it lost a creation race.
	CreateCollection(ctx context.Context, collectionID string) error
	IndexFaces(ctx context.Context, collectionID string, image []byte, externalID string, maxFaces int) ([]DetectedFace, error)
	SearchFacesByImage(ctx context.Context, collectionID string, image []byte, threshold float64, maxResults int) ([]FaceMatch, error)
	DeleteFaces(ctx context.Context, collectionID string, faceIDs []string) (int, error)
	MaxImageBytes() int64
}

// BlobStorage holds original and thumbnail files.
type BlobStorage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Remove(ctx context.Context, paths []string) error
	PublicURL(path string) string
}

// ImageFetcher downloads a stored image through its public URL.
// It returns ErrImageTooLarge when the body exceeds maxBytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}

// ChatSender delivers one bot message. Failures carry a retry classification
// (see pkg/retry): blocked, retry-after, retryable or fatal.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID, text, format string) error
}

// ProgressPublisher pushes live progress to dashboards watching an event.
type ProgressPublisher interface {
	PublishEvent(eventID uuid.UUID, messageType string, data map[string]interface{})
}

// Thumbnailer renders a preview image for the gallery.
type Thumbnailer interface {
	Thumbnail(data []byte) ([]byte, error)
}
