package repositories

import "errors"

var (
	ErrNotFound    = errors.New("record not found")
	ErrTokenUsed   = errors.New("link token already used")
	ErrLedgerTaken = errors.New("notification already recorded")
	ErrClaimLost   = errors.New("image no longer held by this claim")
)
