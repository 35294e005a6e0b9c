package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"hostelattend/internal/annotate"
	"hostelattend/internal/camera"
	"hostelattend/internal/capture"
)

const boundary = "frame"

type startRequest struct {
	DepartmentID *int64  `json:"department_id"`
	Tolerance    float64 `json:"tolerance"`
	DeviceIndex  int     `json:"device_index"`
}

// StartCamera opens the capture device and starts recognition.
func (h *Handler) StartCamera(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
	}
	if req.Tolerance < 0 || req.Tolerance > 1 {
		badRequest(c, "tolerance must be between 0 and 1")
		return
	}
	if req.DepartmentID != nil {
		if _, err := h.ledger.GetDepartment(c.Request.Context(), *req.DepartmentID); err != nil {
			h.fail(c, err)
			return
		}
	}
	sess, err := h.camera.Start(c.Request.Context(), camera.Options{
		DeviceIndex:  req.DeviceIndex,
		DepartmentID: req.DepartmentID,
		Tolerance:    req.Tolerance,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Camera started", "session_id": sess.ID()})
}

// StopCamera stops the running session. Stopping an idle camera succeeds.
func (h *Handler) StopCamera(c *gin.Context) {
	h.camera.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Camera stopped"})
}

func (h *Handler) CameraStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.camera.Status())
}

// Feed streams annotated frames as multipart JPEG. Without a running
// session it sends a single placeholder frame.
func (h *Handler) Feed(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache, no-store")
	c.Status(http.StatusOK)

	sess := h.camera.Current()
	if sess == nil {
		frame, err := h.placeholderFrame()
		if err != nil {
			h.log.Error("encode placeholder", "error", err)
			return
		}
		_ = writePart(c, frame)
		return
	}

	frames, detach := sess.Subscribe()
	defer detach()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := writePart(c, frame); err != nil {
				h.log.Debug("viewer gone", "error", err)
				return
			}
		}
	}
}

func (h *Handler) placeholderFrame() ([]byte, error) {
	h.placeholderOnce.Do(func() {
		img := annotate.Placeholder(capture.Width, capture.Height, "Camera not started")
		h.placeholder, h.placeholderErr = annotate.EncodeJPEG(img, h.cfg.JPEGQuality)
	})
	return h.placeholder, h.placeholderErr
}

func writePart(c *gin.Context, frame []byte) error {
	w := c.Writer
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		return err
	}
	w.Flush()
	return nil
}
