// Package handler exposes the attendance services over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"hostelattend/internal/apperr"
	"hostelattend/internal/attendance"
	"hostelattend/internal/auth"
	"hostelattend/internal/camera"
	"hostelattend/internal/config"
	"hostelattend/internal/enroll"
	"hostelattend/internal/httpmiddleware"
	"hostelattend/internal/metrics"
	"hostelattend/internal/report"
)

// Checker reports whether a backing service is reachable.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// Deps are the services the handlers call into.
type Deps struct {
	Ledger  *attendance.Service
	Enroll  *enroll.Service
	Reports *report.Service
	Camera  *camera.Manager
	Signer  *auth.Signer
	Metrics *metrics.Metrics
	// Checks are reported by /healthz under their map key.
	Checks map[string]Checker
	Config config.App
	Logger *slog.Logger
}

type Handler struct {
	ledger  *attendance.Service
	enroll  *enroll.Service
	reports *report.Service
	camera  *camera.Manager
	signer  *auth.Signer
	metrics *metrics.Metrics
	checks  map[string]Checker
	cfg     config.App
	log     *slog.Logger

	placeholderOnce sync.Once
	placeholder     []byte
	placeholderErr  error
}

func New(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		ledger:  d.Ledger,
		enroll:  d.Enroll,
		reports: d.Reports,
		camera:  d.Camera,
		signer:  d.Signer,
		metrics: d.Metrics,
		checks:  d.Checks,
		cfg:     d.Config,
		log:     log.With("component", "http"),
	}
}

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindFaceDetection:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDevice:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Internal failures are logged and
// reported with a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	msg := apperr.Message(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			"request_id", c.GetString(httpmiddleware.RequestIDKey),
			"method", c.Request.Method, "path", c.FullPath(), "kind", kind, "error", err)
		if kind == apperr.KindUnknown {
			msg = "internal error"
		}
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
		return 0, false
	}
	return id, true
}

// queryInt parses an integer query parameter. Malformed values yield def.
func queryInt(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryInt64(c *gin.Context, name string) int64 {
	n, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
