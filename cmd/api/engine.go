//go:build !dlib

package main

import (
	"context"
	"log/slog"
	"time"

	"hostelattend/internal/config"
	"hostelattend/internal/face"
	"hostelattend/internal/faceclient"
)

// newEngine uses the HTTP face service. Build with -tags dlib for the
// in-process engine.
func newEngine(cfg config.App, log *slog.Logger) (face.Engine, func(), error) {
	fc := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if cfg.FaceSkip {
		log.Warn("face service skipped, using mock detections")
		return fc, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fc.Health(ctx); err != nil {
		log.Warn("face service not available", "url", cfg.FaceServiceURL, "error", err)
	} else {
		log.Info("face service connected", "url", cfg.FaceServiceURL)
	}
	return fc, func() {}, nil
}
