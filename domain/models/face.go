package models

import (
	"time"

	"github.com/google/uuid"
)

// Face is one face detected in an image and stored in the provider collection.
type Face struct {
	ID             uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ImageID        uuid.UUID `gorm:"type:uuid;not null;index"`
	EventID        uuid.UUID `gorm:"type:uuid;not null;index"`
	ProviderFaceID string    `gorm:"not null;uniqueIndex"`

	// Bounding box as fractions of the image size
	BboxLeft   float64 `gorm:"not null"`
	BboxTop    float64 `gorm:"not null"`
	BboxWidth  float64 `gorm:"not null"`
	BboxHeight float64 `gorm:"not null"`

	Confidence float64 `gorm:"not null"`

	CreatedAt time.Time
}

func (Face) TableName() string {
	return "faces"
}

// FaceTag records that a person was found in an image.
type FaceTag struct {
	ID         uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ImageID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_face_tags_image_person"`
	PersonID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_face_tags_image_person;index"`
	EventID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Confidence float64   `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (FaceTag) TableName() string {
	return "face_tags"
}
