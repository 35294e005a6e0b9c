package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New("demo", "key", "secret", "student_photos")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "1", "public_id": "p", "api_key": "key", "folder": ""})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=p&timestamp=1secret")))
	assert.Equal(t, want, got)
}

func TestUpload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "S001_ab12cd34", r.FormValue("public_id"))
		assert.Equal(t, "student_photos", r.FormValue("folder"))
		assert.Equal(t, "1700000000", r.FormValue("timestamp"))
		assert.NotEmpty(t, r.FormValue("signature"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "S001_ab12cd34.jpg", hdr.Filename)
		fmt.Fprint(w, `{"public_id":"student_photos/S001_ab12cd34","secure_url":"https://cdn/x.jpg","bytes":3}`)
	})

	res, err := c.Upload(context.Background(), []byte("img"), "S001_ab12cd34", "S001_ab12cd34.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.jpg", res.SecureURL)
	assert.Equal(t, 3, res.Bytes)
}

func TestUploadError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad signature"}}`, http.StatusUnauthorized)
	})
	_, err := c.Upload(context.Background(), []byte("img"), "id", "id.jpg")
	assert.ErrorContains(t, err, "401")
}

func TestDestroy(t *testing.T) {
	tests := []struct {
		result  string
		wantErr bool
	}{
		{"ok", false},
		{"not found", false},
		{"error", true},
	}
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/demo/image/destroy", r.URL.Path)
				require.NoError(t, r.ParseMultipartForm(1<<20))
				assert.Equal(t, "S001_x", r.FormValue("public_id"))
				fmt.Fprintf(w, `{"result":%q}`, tt.result)
			})
			err := c.Destroy(context.Background(), "S001_x")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
