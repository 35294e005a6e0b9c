//go:build !linux

package capture

import "hostelattend/internal/apperr"

// OpenWebcam is only available on Linux.
func OpenWebcam(path string, _, _ int) (Device, error) {
	return nil, apperr.Newf(apperr.KindDevice, "cannot open camera %s: V4L2 capture requires linux", path)
}
