package models

import (
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID       uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name     string    `gorm:"not null"`
	StartsAt *time.Time
	EndsAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Event) TableName() string {
	return "events"
}

// Person is a guest. A non-nil TelegramChatID means the guest is subscribed to the bot.
type Person struct {
	ID               uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	FullName         string    `gorm:"not null"`
	ProfilePhotoPath *string
	TelegramChatID   *string `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Person) TableName() string {
	return "persons"
}

type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "active"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

type Registration struct {
	ID       uuid.UUID          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	PersonID uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_registrations_person_event"`
	EventID  uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_registrations_person_event;index"`
	Status   RegistrationStatus `gorm:"type:varchar(16);not null;default:'active'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Registration) TableName() string {
	return "registrations"
}

// LinkToken is a one-time token the UI hands to a guest to bind their chat.
type LinkToken struct {
	Token     string    `gorm:"primaryKey"`
	PersonID  uuid.UUID `gorm:"type:uuid;not null;index"`
	ExpiresAt time.Time `gorm:"not null"`
	Used      bool      `gorm:"not null;default:false"`
	UsedAt    *time.Time

	CreatedAt time.Time
}

func (LinkToken) TableName() string {
	return "link_tokens"
}
