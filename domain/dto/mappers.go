package dto

import (
	"fmt"
	"net/url"

	"retreat-photos/domain/models"
)

// EventImageToResponse resolves storage paths to public URLs with publicURL.
func EventImageToResponse(image *models.EventImage, publicURL func(string) string) EventImageResponse {
	resp := EventImageResponse{
		ID:          image.ID,
		EventID:     image.EventID,
		URL:         publicURL(image.OriginalPath),
		IndexStatus: string(image.IndexStatus),
		FacesCount:  image.FacesCount,
		IndexedAt:   image.IndexedAt,
		CreatedAt:   image.CreatedAt,
	}
	if image.ThumbnailPath != "" {
		resp.ThumbnailURL = publicURL(image.ThumbnailPath)
	}
	if image.IndexError != nil {
		resp.IndexError = *image.IndexError
	}
	return resp
}

func EventImagesToResponse(images []models.EventImage, publicURL func(string) string) []EventImageResponse {
	out := make([]EventImageResponse, len(images))
	for i := range images {
		out[i] = EventImageToResponse(&images[i], publicURL)
	}
	return out
}

// LinkTokenToResponse builds the t.me deep link when the bot username is known.
func LinkTokenToResponse(token *models.LinkToken, botUsername string) LinkTokenResponse {
	resp := LinkTokenResponse{Token: token.Token, ExpiresAt: token.ExpiresAt}
	if botUsername != "" {
		resp.DeepLink = fmt.Sprintf("https://t.me/%s?start=%s", botUsername, url.QueryEscape(token.Token))
	}
	return resp
}
