//go:build linux

package capture

import (
	"context"
	"image"
	"sync"

	"github.com/blackjack/webcam"

	"hostelattend/internal/apperr"
)

const (
	pixfmtMJPEG webcam.PixelFormat = 0x47504A4D
	pixfmtYUYV  webcam.PixelFormat = 0x56595559

	waitTimeoutSec = 1
)

type v4l2Device struct {
	mu     sync.Mutex
	cam    *webcam.Webcam
	frames *frameDecoder
}

// OpenWebcam opens a V4L2 device and starts streaming at the requested
// size, preferring MJPEG over YUYV.
func OpenWebcam(path string, width, height int) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, deviceErr(err, "cannot open camera %s", path)
	}

	formats := cam.GetSupportedFormats()
	var want webcam.PixelFormat
	switch {
	case formats[pixfmtMJPEG] != "":
		want = pixfmtMJPEG
	case formats[pixfmtYUYV] != "":
		want = pixfmtYUYV
	default:
		cam.Close()
		return nil, apperr.Newf(apperr.KindDevice, "camera %s offers neither MJPEG nor YUYV", path)
	}

	got, w, h, err := cam.SetImageFormat(want, uint32(width), uint32(height))
	if err != nil {
		cam.Close()
		return nil, deviceErr(err, "set image format on %s", path)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, deviceErr(err, "start streaming on %s", path)
	}
	return &v4l2Device{cam: cam, frames: newFrameDecoder(got == pixfmtMJPEG, int(w), int(h), nil)}, nil
}

func (d *v4l2Device) Read(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.mu.Lock()
		if d.cam == nil {
			d.mu.Unlock()
			return nil, apperr.New(apperr.KindDevice, "camera closed")
		}
		err := d.cam.WaitForFrame(waitTimeoutSec)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			d.mu.Unlock()
			continue
		default:
			d.mu.Unlock()
			return nil, deviceErr(err, "failed when waiting for frame")
		}
		frame, err := d.cam.ReadFrame()
		d.mu.Unlock()
		if err != nil {
			return nil, deviceErr(err, "can not read frame")
		}
		if len(frame) == 0 {
			continue
		}
		if img, ok := d.frames.decode(frame); ok {
			return img, nil
		}
	}
}

func (d *v4l2Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cam == nil {
		return nil
	}
	err := d.cam.Close()
	d.cam = nil
	return err
}
