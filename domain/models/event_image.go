package models

import (
	"time"

	"github.com/google/uuid"
)

type IndexStatus string

const (
	IndexStatusPending    IndexStatus = "pending"
	IndexStatusProcessing IndexStatus = "processing"
	IndexStatusIndexed    IndexStatus = "indexed"
	IndexStatusFailed     IndexStatus = "failed"
)

// ClaimableStatuses are the states a batch may move into processing.
var ClaimableStatuses = []IndexStatus{IndexStatusPending, IndexStatusFailed}

func (s IndexStatus) Valid() bool {
	switch s {
	case IndexStatusPending, IndexStatusProcessing, IndexStatusIndexed, IndexStatusFailed:
		return true
	}
	return false
}

func (s IndexStatus) Terminal() bool {
	return s == IndexStatusIndexed || s == IndexStatusFailed
}

// CanTransition reports whether from -> to is a legal index_status move.
// processing -> pending is only used by the stuck-job recovery path and is
// allowed separately by the repository.
func CanTransition(from, to IndexStatus) bool {
	switch from {
	case IndexStatusPending, IndexStatusFailed:
		return to == IndexStatusProcessing
	case IndexStatusProcessing:
		return to == IndexStatusIndexed || to == IndexStatusFailed
	}
	return false
}

// StuckResetMarker is written to index_error when a stuck image is put back to pending.
const StuckResetMarker = "stuck_reset: processing timed out"

type EventImage struct {
	ID            uuid.UUID   `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EventID       uuid.UUID   `gorm:"type:uuid;not null;index"`
	OriginalPath  string      `gorm:"not null"`
	ThumbnailPath string
	IndexStatus   IndexStatus `gorm:"type:varchar(16);not null;default:'pending';index"`
	IndexError    *string
	FacesCount    *int
	IndexedAt     *time.Time
	// ClaimID identifies the batch that moved the image into processing.
	// Terminal writes and heartbeats must present it.
	ClaimID *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`

	Faces []Face `gorm:"foreignKey:ImageID"`
}

func (EventImage) TableName() string {
	return "event_images"
}
