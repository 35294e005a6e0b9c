package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"

	"github.com/pkg/errors"
)

// frameDecoder turns raw device buffers into images. A buffer that fails to
// decode is dropped so one corrupt frame does not end the stream.
type frameDecoder struct {
	mjpeg   bool
	width   int
	height  int
	log     *slog.Logger
	skipped int64
}

func newFrameDecoder(mjpeg bool, width, height int, log *slog.Logger) *frameDecoder {
	if log == nil {
		log = slog.Default()
	}
	return &frameDecoder{mjpeg: mjpeg, width: width, height: height, log: log.With("component", "capture")}
}

// decode reports false for a frame that should be skipped.
func (f *frameDecoder) decode(frame []byte) (image.Image, bool) {
	img, err := f.raw(frame)
	if err != nil {
		f.skipped++
		f.log.Warn("skip undecodable frame", "bytes", len(frame), "skipped", f.skipped, "error", err)
		return nil, false
	}
	return img, true
}

func (f *frameDecoder) raw(frame []byte) (image.Image, error) {
	if f.mjpeg {
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return nil, errors.Wrap(err, "decode mjpeg frame")
		}
		return img, nil
	}
	return yuyvToYCbCr(frame, f.width, f.height)
}
