package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"hostelattend/internal/embedding"
	"hostelattend/internal/face"
)

// mockDim matches the dlib descriptor size so skip-mode vectors look real.
const mockDim = 128

// Box is a face location as returned by the service.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// DetectedFace is one face from a /detect response.
type DetectedFace struct {
	Box       Box       `json:"box"`
	Embedding []float32 `json:"embedding"`
}

// Client calls the face recognition microservice. It implements face.Engine.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

var _ face.Engine = (*Client)(nil)

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Detect uploads img as JPEG and returns every face with its embedding.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]face.Detection, error) {
	if c.Skip {
		return mockDetections(img), nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, &buf); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Faces []DetectedFace `json:"faces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	dets := make([]face.Detection, 0, len(out.Faces))
	for _, f := range out.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		dets = append(dets, face.Detection{
			Box:    image.Rect(f.Box.Left, f.Box.Top, f.Box.Right, f.Box.Bottom),
			Vector: embedding.Vector(f.Embedding),
		})
	}
	return dets, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

// mockDetections reports one centred face with a constant descriptor.
func mockDetections(img image.Image) []face.Detection {
	b := img.Bounds()
	w, h := b.Dx()/4, b.Dy()/4
	vec := make(embedding.Vector, mockDim)
	for i := range vec {
		vec[i] = 0.05
	}
	return []face.Detection{{
		Box:    image.Rect(b.Min.X+w, b.Min.Y+h, b.Max.X-w, b.Max.Y-h),
		Vector: vec,
	}}
}
