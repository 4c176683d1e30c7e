package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
)

// CollectionService owns the per-event recognition collection.
type CollectionService interface {
	CollectionID(eventID uuid.UUID) string
	EnsureCollection(ctx context.Context, eventID uuid.UUID) (string, error)
}

type IndexItemResult struct {
	ImageID    uuid.UUID `json:"image_id"`
	Status     string    `json:"status"`
	FacesCount int       `json:"faces_count"`
	Error      string    `json:"error,omitempty"`
}

type IndexBatchResult struct {
	EventID    uuid.UUID         `json:"event_id"`
	Claimed    int               `json:"claimed"`
	Indexed    int               `json:"indexed"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Processed  int               `json:"processed"`
	Items      []IndexItemResult `json:"items"`
	Completion *CompletionResult `json:"completion,omitempty"`
}

// Outcome folds a batch where every claimed image failed into the batch
// error, so pollers spend their error budget on events that cannot progress.
func (r *IndexBatchResult) Outcome(err error) error {
	if err == nil && r != nil && r.Claimed > 0 && r.Indexed == 0 && r.Failed == r.Claimed {
		return ErrBatchAllFailed
	}
	return err
}

type IndexService interface {
	Upload(ctx context.Context, caller Caller, eventID uuid.UUID, fileName, contentType string, data []byte) (*models.EventImage, error)
	IndexBatch(ctx context.Context, caller Caller, eventID uuid.UUID, limit int) (*IndexBatchResult, error)
	ResetStuck(ctx context.Context, caller Caller, eventID *uuid.UUID) (int64, error)
	Reindex(ctx context.Context, caller Caller, eventID uuid.UUID, imageIDs []uuid.UUID) (int64, error)
	Status(ctx context.Context, caller Caller, eventID uuid.UUID) (models.StatusCounts, error)
	List(ctx context.Context, caller Caller, eventID uuid.UUID, status models.IndexStatus, page, limit int) ([]models.EventImage, int64, error)
}

type SearchFaceRequest struct {
	EventID        uuid.UUID
	PersonID       uuid.UUID
	ReferenceImage []byte
	Threshold      float64
	MaxResults     int
}

type ImageMatch struct {
	ImageID    uuid.UUID `json:"image_id"`
	Confidence float64   `json:"confidence"`
}

type SearchFaceResult struct {
	ImageIDs  []uuid.UUID  `json:"image_ids"`
	Matches   []ImageMatch `json:"matches"`
	Threshold float64      `json:"threshold"`
}

type MatchService interface {
	SearchFace(ctx context.Context, caller Caller, req SearchFaceRequest) (*SearchFaceResult, error)
}

type DeleteImagesResult struct {
	ImagesRemoved         int  `json:"images_removed"`
	ProviderFacesRemoved  int  `json:"provider_faces_removed"`
	ProviderCleanupFailed bool `json:"provider_cleanup_failed"`
}

type DeletionService interface {
	DeleteImages(ctx context.Context, caller Caller, eventID uuid.UUID, imageIDs []uuid.UUID) (*DeleteImagesResult, error)
}

type CompletionResult struct {
	Complete        bool             `json:"complete"`
	Indexed         int64            `json:"indexed"`
	Failed          int64            `json:"failed"`
	Notified        bool             `json:"notified"`
	AlreadyNotified bool             `json:"already_notified"`
	Broadcast       *BroadcastResult `json:"broadcast,omitempty"`
}

type CompletionWatcher interface {
	CheckAndNotify(ctx context.Context, eventID uuid.UUID) (*CompletionResult, error)
}

type Message struct {
	PersonID uuid.UUID
	ChatID   string
	Text     string
	Format   string
}

type SingleResult struct {
	Sent          bool `json:"sent"`
	NotSubscribed bool `json:"not_subscribed"`
	Blocked       bool `json:"blocked"`
}

type BroadcastResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

type NotificationService interface {
	SendSingle(ctx context.Context, caller Caller, personID uuid.UUID, text, format string) (*SingleResult, error)
	Broadcast(ctx context.Context, caller Caller, eventID uuid.UUID, text, format string) (*BroadcastResult, error)
	// Dispatch sends prepared messages with the broadcast batching rules.
	Dispatch(ctx context.Context, kind string, messages []Message) *BroadcastResult
	// SendSingleAsync hands a message to a background task; failures are only logged.
	SendSingleAsync(personID uuid.UUID, text, format string)
	Wait()
}

// InboundMessage is the part of a bot update the webhook acts on.
type InboundMessage struct {
	ChatID string
	Text   string
}

type WebhookReply struct {
	ChatID  string `json:"chat_id"`
	Command string `json:"command"`
	Outcome string `json:"outcome"`
	Text    string `json:"text"`
}

type WebhookService interface {
	HandleMessage(ctx context.Context, msg InboundMessage) (*WebhookReply, error)
	CreateLinkToken(ctx context.Context, caller Caller, personID uuid.UUID, ttl time.Duration) (*models.LinkToken, error)
}

type DigestService interface {
	SendDailyDigest(ctx context.Context, now time.Time) (*BroadcastResult, error)
}

type PollStatus struct {
	EventID  uuid.UUID           `json:"event_id"`
	Counts   models.StatusCounts `json:"counts"`
	Advice   models.PollAdvice   `json:"advice"`
	Session  models.PollSession  `json:"session"`
	Reset    int64               `json:"reset"`
	Complete bool                `json:"complete"`
}

type ProgressService interface {
	Poll(ctx context.Context, caller Caller, eventID uuid.UUID, sessionID string) (*PollStatus, error)
	RecordBatch(ctx context.Context, eventID uuid.UUID, sessionID string, batchErr error)
}
