package storage

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Thumbnailer renders the small previews shown in the gallery grid.
type Thumbnailer struct {
	Width  int
	Height int
}

func NewThumbnailer(width, height int) *Thumbnailer {
	return &Thumbnailer{Width: width, Height: height}
}

func (t *Thumbnailer) Thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fit(img, t.Width, t.Height, imaging.Lanczos)

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
