package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationLedger holds one row per notification that must go out at most once.
type NotificationLedger struct {
	Key       string    `gorm:"primaryKey"`
	EventID   uuid.UUID `gorm:"type:uuid;index"`
	Kind      string    `gorm:"type:varchar(32);not null"`
	Indexed   int64
	Sent      int
	Failed    int
	Blocked   int
	CreatedAt time.Time
}

func (NotificationLedger) TableName() string {
	return "notification_ledger"
}
