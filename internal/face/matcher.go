// Package face turns camera frames into identified faces. Detection and
// embedding are delegated to an Engine; this package owns the downsampling,
// nearest-neighbour matching and coordinate bookkeeping around it.
package face

import (
	"context"
	"image"
	"math"

	"golang.org/x/image/draw"

	"hostelattend/internal/apperr"
	"hostelattend/internal/embedding"
)

// Unknown is the identity reported for faces that match nobody.
const Unknown = "Unknown"

// DefaultTolerance is the maximum accepted embedding distance.
const DefaultTolerance = 0.5

// downsample is applied to frames before detection to bound per-frame cost.
const downsample = 0.5

// Detection is a face found by an Engine, in the coordinates of the image
// the engine was given.
type Detection struct {
	Box    image.Rectangle
	Vector embedding.Vector
}

// Engine detects faces in an image and computes one embedding per face.
type Engine interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Result is one recognised (or unrecognised) face in a frame.
type Result struct {
	Identity   string          `json:"identity"`
	Key        string          `json:"key,omitempty"`
	Matched    bool            `json:"matched"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Matcher runs an Engine over frames and matches the output against a
// gallery of known embeddings.
type Matcher struct {
	engine Engine
}

// NewMatcher wraps engine.
func NewMatcher(engine Engine) *Matcher {
	return &Matcher{engine: engine}
}

// DetectAndEmbed downsamples frame by half and runs detection on it. Boxes
// are in downsampled coordinates.
func (m *Matcher) DetectAndEmbed(ctx context.Context, frame image.Image) ([]Detection, error) {
	return m.engine.Detect(ctx, Downsample(frame, downsample))
}

// Recognize identifies every face in frame. Boxes in the results are in
// frame coordinates.
func (m *Matcher) Recognize(ctx context.Context, frame image.Image, gallery embedding.Gallery, tolerance float64) ([]Result, error) {
	dets, err := m.DetectAndEmbed(ctx, frame)
	if err != nil {
		return nil, err
	}
	origin := frame.Bounds().Min
	results := make([]Result, 0, len(dets))
	for _, d := range dets {
		r := Result{Identity: Unknown, Box: upscale(d.Box, downsample).Add(origin)}
		if key, dist, ok := Match(d.Vector, gallery, tolerance); ok {
			r.Identity = key
			r.Key = key
			r.Matched = true
			r.Confidence = clamp01(1 - dist)
		}
		results = append(results, r)
	}
	return results, nil
}

// EnrollVector returns the embedding of the single face in img. Enrollment
// photos run at full resolution.
func (m *Matcher) EnrollVector(ctx context.Context, img image.Image) (embedding.Vector, error) {
	dets, err := m.engine.Detect(ctx, img)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindFaceDetection, "face detection failed")
	}
	switch len(dets) {
	case 0:
		return nil, apperr.New(apperr.KindFaceDetection, "no face detected in the image")
	case 1:
		return dets[0].Vector, nil
	default:
		return nil, apperr.New(apperr.KindFaceDetection, "multiple faces detected, use an image with a single face")
	}
}

// Match finds the gallery entry nearest to vec. The match is accepted when
// the distance is at most tolerance. Equidistant entries resolve to the first
// in gallery key order.
func Match(vec embedding.Vector, gallery embedding.Gallery, tolerance float64) (string, float64, bool) {
	best, bestDist := "", math.Inf(1)
	for _, key := range gallery.Keys() {
		if d := embedding.Distance(vec, gallery[key]); d < bestDist {
			best, bestDist = key, d
		}
	}
	if best == "" || bestDist > tolerance {
		return "", bestDist, false
	}
	return best, bestDist, true
}

// Downsample scales img by factor using bilinear interpolation.
func Downsample(img image.Image, factor float64) *image.RGBA {
	b := img.Bounds()
	w := int(math.Max(1, math.Round(float64(b.Dx())*factor)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*factor)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func upscale(r image.Rectangle, factor float64) image.Rectangle {
	f := func(v int) int { return int(math.Round(float64(v) / factor)) }
	return image.Rect(f(r.Min.X), f(r.Min.Y), f(r.Max.X), f(r.Max.Y))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
