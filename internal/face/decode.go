package face

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"hostelattend/internal/apperr"
)

// DecodeImage reads a JPEG or PNG photo.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "unreadable image")
	}
	return img, nil
}
