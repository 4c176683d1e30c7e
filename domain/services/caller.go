package services

import "github.com/google/uuid"

// Caller is what the auth layer tells us about whoever invoked an operation.
type Caller struct {
	UserID          uuid.UUID
	CanManagePhotos bool
	CanBroadcast    bool
}

// SystemCaller is used by background jobs.
func SystemCaller() Caller {
	return Caller{CanManagePhotos: true, CanBroadcast: true}
}
