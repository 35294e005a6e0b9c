//go:build dlib

// Package dlib runs detection and embedding in-process through go-face.
// Build with -tags dlib; requires dlib and the model files
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat in the model directory.
package dlib

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	goface "github.com/Kagami/go-face"

	"hostelattend/internal/embedding"
	"hostelattend/internal/face"
)

// Engine wraps a go-face recognizer. The recognizer is not safe for
// concurrent use, so calls are serialised.
type Engine struct {
	mu  sync.Mutex
	rec *goface.Recognizer
}

var _ face.Engine = (*Engine)(nil)

// New loads the models from modelDir.
func New(modelDir string) (*Engine, error) {
	rec, err := goface.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	return &Engine{rec: rec}, nil
}

// Detect implements face.Engine.
func (e *Engine) Detect(ctx context.Context, img image.Image) ([]face.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	e.mu.Lock()
	faces, err := e.rec.Recognize(buf.Bytes())
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	dets := make([]face.Detection, 0, len(faces))
	for _, f := range faces {
		vec := make(embedding.Vector, len(f.Descriptor))
		copy(vec, f.Descriptor[:])
		dets = append(dets, face.Detection{Box: f.Rectangle, Vector: vec})
	}
	return dets, nil
}

// Close releases the recognizer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
}
