//go:build dlib

package main

import (
	"log/slog"

	"hostelattend/internal/config"
	"hostelattend/internal/face"
	"hostelattend/internal/face/dlib"
)

func newEngine(cfg config.App, log *slog.Logger) (face.Engine, func(), error) {
	e, err := dlib.New(cfg.FaceModelDir)
	if err != nil {
		return nil, nil, err
	}
	log.Info("dlib engine loaded", "models", cfg.FaceModelDir)
	return e, e.Close, nil
}
