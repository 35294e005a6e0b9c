// Package capture opens frame sources for the camera session.
package capture

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"hostelattend/internal/apperr"
)

// Frame size requested from capture devices.
const (
	Width  = 640
	Height = 480
)

// replayInterval paces directory replay at roughly 15 fps.
const replayInterval = 66 * time.Millisecond

// Device yields frames until it fails or is closed.
type Device interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens the device with the given index.
type Opener interface {
	Open(index int) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(index int) (Device, error)

// Open implements Opener.
func (f OpenerFunc) Open(index int) (Device, error) { return f(index) }

// NewOpener picks an implementation from a source string: "dir:<path>"
// replays still images from a directory, anything else (including "" and
// "v4l2") opens /dev/video<index>.
func NewOpener(source string) Opener {
	if path, ok := strings.CutPrefix(source, "dir:"); ok {
		return OpenerFunc(func(int) (Device, error) {
			return OpenDir(path, true, replayInterval)
		})
	}
	return OpenerFunc(func(index int) (Device, error) {
		return OpenWebcam(fmt.Sprintf("/dev/video%d", index), Width, Height)
	})
}

func deviceErr(err error, format string, args ...any) error {
	return apperr.Wrapf(err, apperr.KindDevice, format, args...)
}
