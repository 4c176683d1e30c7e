package services

import "errors"

var (
	ErrForbidden        = errors.New("caller is not allowed to perform this action")
	ErrValidation       = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrNoProfilePhoto   = errors.New("person has no profile photo and no reference image was supplied")
	ErrImageTooLarge    = errors.New("image exceeds the provider size limit")
	ErrBlobDeleteFailed = errors.New("failed to delete image files from storage")
	ErrBatchAllFailed   = errors.New("every claimed image failed")

	// Recognition provider conditions
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrCollectionExists      = errors.New("collection already exists")
	ErrCollectionUnavailable = errors.New("recognition collection unavailable")
)
