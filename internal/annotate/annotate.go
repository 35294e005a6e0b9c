// Package annotate renders recognition results onto frames.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"hostelattend/internal/face"
)

const (
	lineWidth   = 2
	labelHeight = 35
	labelInset  = 6
	baseline    = 10
)

var (
	Green = color.RGBA{0, 200, 0, 255}
	Red   = color.RGBA{220, 0, 0, 255}
	White = color.RGBA{255, 255, 255, 255}
	Black = color.RGBA{0, 0, 0, 255}
)

// Label returns the caption for r and whether it resolved to a known name.
func Label(r face.Result, names map[string]string) (string, bool) {
	if r.Matched {
		if name, ok := names[r.Key]; ok {
			return fmt.Sprintf("%s (%.1f%%)", name, r.Confidence*100), true
		}
	}
	return face.Unknown, false
}

// Draw paints a box, label band and caption for each result onto frame.
func Draw(frame *image.RGBA, results []face.Result, names map[string]string) {
	for _, r := range results {
		label, known := Label(r, names)
		c := Red
		if known {
			c = Green
		}
		box := r.Box.Intersect(frame.Bounds())
		if box.Empty() {
			continue
		}
		outline(frame, box, c)
		band := image.Rect(box.Min.X, max(box.Min.Y, box.Max.Y-labelHeight), box.Max.X, box.Max.Y)
		draw.Draw(frame, band, image.NewUniform(c), image.Point{}, draw.Src)
		text(frame, image.Pt(box.Min.X+labelInset, box.Max.Y-baseline), label, White)
	}
}

// Copy returns a fresh *image.RGBA holding img's pixels.
func Copy(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

// Placeholder renders a black frame with a centred message.
func Placeholder(w, h int, msg string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(Black), image.Point{}, draw.Src)
	width := font.MeasureString(basicfont.Face7x13, msg).Ceil()
	text(img, image.Pt((w-width)/2, h/2), msg, White)
	return img
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func outline(dst *image.RGBA, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	w := min(lineWidth, r.Dx(), r.Dy())
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
}

func text(dst *image.RGBA, at image.Point, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(s)
}
