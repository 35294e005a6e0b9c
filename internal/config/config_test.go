package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.MatchTolerance)
	assert.Equal(t, 3, cfg.FrameSkip)
	assert.Equal(t, 0.6, cfg.MarkConfidence)
	assert.Equal(t, 80, cfg.JPEGQuality)
	assert.Equal(t, int64(16<<20), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"png", "jpg", "jpeg"}, cfg.AllowedExtensions)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, "memory", cfg.QueueBackend)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FRAME_SKIP", "5")
	t.Setenv("MATCH_TOLERANCE", "0.45")
	t.Setenv("ACCESS_TTL", "1h")
	t.Setenv("QUEUE_BACKEND", "REDIS")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.FrameSkip)
	assert.Equal(t, 0.45, cfg.MatchTolerance)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
	assert.Equal(t, "redis", cfg.QueueBackend)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_port: "9000"
frame_skip: 4
allowed_extensions: [".PNG", "jpg"]
`), 0o644))
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.HTTPPort, "environment beats file")
	assert.Equal(t, 4, cfg.FrameSkip)
	assert.Equal(t, []string{"png", "jpg"}, cfg.AllowedExtensions)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FRAME_SKIP", "0")
	_, err := Load("")
	assert.ErrorContains(t, err, "frame_skip")
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*App)
	}{
		{"tolerance zero", func(c *App) { c.MatchTolerance = 0 }},
		{"tolerance above one", func(c *App) { c.MatchTolerance = 1.5 }},
		{"quality", func(c *App) { c.JPEGQuality = 0 }},
		{"queue", func(c *App) { c.QueueBackend = "kafka" }},
		{"auth without key", func(c *App) { c.AuthRequired = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestAllowedFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.AllowedFile("me.JPG"))
	assert.True(t, cfg.AllowedFile("a.b.png"))
	assert.False(t, cfg.AllowedFile("me.gif"))
	assert.False(t, cfg.AllowedFile("noext"))
}
