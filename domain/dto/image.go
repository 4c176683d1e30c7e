package dto

import (
	"time"

	"github.com/google/uuid"
)

// EventImageResponse is the gallery view of one image
type EventImageResponse struct {
	ID           uuid.UUID  `json:"id"`
	EventID      uuid.UUID  `json:"event_id"`
	URL          string     `json:"url"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	IndexStatus  string     `json:"index_status"`
	IndexError   string     `json:"index_error,omitempty"`
	FacesCount   *int       `json:"faces_count,omitempty"`
	IndexedAt    *time.Time `json:"indexed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type EventImageListResponse struct {
	Images []EventImageResponse `json:"images"`
	Total  int64                `json:"total"`
	Page   int                  `json:"page"`
	Limit  int                  `json:"limit"`
}

// IndexBatchRequest triggers one batch. SessionID ties the call to the
// poller that issued it so its error budget is tracked.
type IndexBatchRequest struct {
	Limit     int    `json:"limit" validate:"min=0,max=50"`
	SessionID string `json:"session_id" validate:"omitempty,max=64"`
}

type ReindexRequest struct {
	ImageIDs []uuid.UUID `json:"image_ids" validate:"required,min=1,max=1000"`
}

type DeleteImagesRequest struct {
	ImageIDs []uuid.UUID `json:"image_ids" validate:"required,min=1,max=4096"`
}

type ResetStuckResponse struct {
	Reset int64 `json:"reset"`
}

type ReindexResponse struct {
	Requeued int64 `json:"requeued"`
}
