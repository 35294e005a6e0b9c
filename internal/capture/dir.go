package capture

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hostelattend/internal/apperr"
	"hostelattend/internal/face"
)

// dirDevice replays the images of a directory in name order.
type dirDevice struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
	loop   bool
	closed bool

	interval time.Duration
	last     time.Time
}

// OpenDir loads every .jpg, .jpeg and .png file under path. With loop set
// the sequence repeats forever; otherwise Read fails after the last image,
// which ends a camera session the same way a disconnected camera would.
// A non-zero interval paces Read like a real camera.
func OpenDir(path string, loop bool, interval time.Duration) (Device, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, deviceErr(err, "cannot open frame directory %s", path)
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, n := range names {
		f, err := os.Open(filepath.Join(path, n))
		if err != nil {
			return nil, deviceErr(err, "open frame %s", n)
		}
		img, err := face.DecodeImage(f)
		f.Close()
		if err != nil {
			return nil, deviceErr(err, "decode frame %s", n)
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, apperr.Newf(apperr.KindDevice, "no frames in %s", path)
	}
	return &dirDevice{frames: frames, loop: loop, interval: interval}, nil
}

func (d *dirDevice) Read(ctx context.Context) (image.Image, error) {
	if err := d.pace(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, apperr.New(apperr.KindDevice, "device closed")
	}
	if d.next >= len(d.frames) {
		if !d.loop {
			return nil, apperr.New(apperr.KindDevice, "end of frames")
		}
		d.next = 0
	}
	img := d.frames[d.next]
	d.next++
	return img, nil
}

func (d *dirDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *dirDevice) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.interval <= 0 {
		return nil
	}
	if wait := time.Until(d.last.Add(d.interval)); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	d.last = time.Now()
	return nil
}
