package dto

import "time"

// SearchFaceRequest is sent as multipart form; the reference image is the
// optional "image" file part.
type SearchFaceRequest struct {
	PersonID   string  `form:"person_id" validate:"required,uuid"`
	Threshold  float64 `form:"threshold" validate:"min=0,max=100"`
	MaxResults int     `form:"max_results" validate:"min=0,max=4096"`
}

type SendMessageRequest struct {
	Text   string `json:"text" validate:"required,max=4096"`
	Format string `json:"format" validate:"omitempty,oneof=HTML Markdown MarkdownV2"`
}

type LinkTokenRequest struct {
	TTLMinutes int `json:"ttl_minutes" validate:"min=0,max=10080"`
}

type LinkTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeepLink  string    `json:"deep_link,omitempty"`
}
