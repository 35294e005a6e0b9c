package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// App holds the runtime configuration. Every key can be set in a YAML file
// or through the upper-cased environment variable of the same name.
type App struct {
	Env             string        `mapstructure:"app_env"`
	HTTPPort        string        `mapstructure:"http_port"`
	DatabaseURL     string        `mapstructure:"database_url"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	JWTIssuer       string        `mapstructure:"jwt_issuer"`
	JWTSigningKey   string        `mapstructure:"jwt_signing_key"`
	AccessTTL       time.Duration `mapstructure:"access_ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
	AuthRequired    bool          `mapstructure:"auth_required"`
	OperatorKey     string        `mapstructure:"operator_key"`
	FaceServiceURL  string        `mapstructure:"face_service_url"`
	FaceSkip        bool          `mapstructure:"face_skip"`
	FaceModelDir    string        `mapstructure:"face_model_dir"`
	QueueBackend    string        `mapstructure:"queue_backend"`
	QueueKey        string        `mapstructure:"queue_key"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`

	CloudinaryCloudName string `mapstructure:"cloudinary_cloud_name"`
	CloudinaryAPIKey    string `mapstructure:"cloudinary_api_key"`
	CloudinaryAPISecret string `mapstructure:"cloudinary_api_secret"`
	CloudinaryFolder    string `mapstructure:"cloudinary_folder"`

	UploadDir         string   `mapstructure:"upload_dir"`
	EncodingsDir      string   `mapstructure:"encodings_dir"`
	WebDir            string   `mapstructure:"web_dir"`
	MaxUploadBytes    int64    `mapstructure:"max_upload_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`

	CameraSource   string  `mapstructure:"camera_source"`
	MatchTolerance float64 `mapstructure:"match_tolerance"`
	FrameSkip      int     `mapstructure:"frame_skip"`
	MarkConfidence float64 `mapstructure:"mark_confidence"`
	JPEGQuality    int     `mapstructure:"jpeg_quality"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func defaults() map[string]any {
	return map[string]any{
		"app_env":               "dev",
		"http_port":             "8081",
		"database_url":          "./data/attendance.db",
		"redis_addr":            "localhost:6379",
		"jwt_issuer":            "hostel-attendance",
		"jwt_signing_key":       "dev-signing-secret-change",
		"access_ttl":            15 * time.Minute,
		"refresh_ttl":           24 * time.Hour,
		"auth_required":         false,
		"operator_key":          "",
		"face_service_url":      "http://localhost:8000",
		"face_skip":             false,
		"face_model_dir":        "./models",
		"queue_backend":         "memory",
		"queue_key":             "attendance:marks",
		"rate_limit_per_min":    120,
		"cloudinary_cloud_name": "",
		"cloudinary_api_key":    "",
		"cloudinary_api_secret": "",
		"cloudinary_folder":     "student_photos",
		"upload_dir":            "./static/student_photos",
		"encodings_dir":         "./data/encodings",
		"web_dir":               "./web",
		"max_upload_bytes":      int64(16 << 20),
		"allowed_extensions":    []string{"png", "jpg", "jpeg"},
		"camera_source":         "v4l2",
		"match_tolerance":       0.5,
		"frame_skip":            3,
		"mark_confidence":       0.6,
		"jpeg_quality":          80,
		"log_level":             "info",
		"log_format":            "text",
	}
}

// Load reads configuration from defaults, the optional YAML file and the
// environment, in increasing order of precedence.
func Load(file string) (App, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return App{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg App
	if err := v.Unmarshal(&cfg); err != nil {
		return App{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

func (c *App) normalize() {
	exts := c.AllowedExtensions[:0]
	for _, e := range c.AllowedExtensions {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e != "" {
			exts = append(exts, e)
		}
	}
	c.AllowedExtensions = exts
	c.QueueBackend = strings.ToLower(c.QueueBackend)
}

// Validate rejects values the camera loop and upload handling cannot use.
func (c App) Validate() error {
	switch {
	case c.MatchTolerance <= 0 || c.MatchTolerance > 1:
		return fmt.Errorf("match_tolerance must be in (0,1], got %v", c.MatchTolerance)
	case c.FrameSkip < 1:
		return fmt.Errorf("frame_skip must be at least 1, got %d", c.FrameSkip)
	case c.MarkConfidence < 0 || c.MarkConfidence > 1:
		return fmt.Errorf("mark_confidence must be in [0,1], got %v", c.MarkConfidence)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg_quality must be in 1..100, got %d", c.JPEGQuality)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max_upload_bytes must be positive")
	case c.QueueBackend != "memory" && c.QueueBackend != "redis":
		return fmt.Errorf("queue_backend must be memory or redis, got %q", c.QueueBackend)
	case c.AuthRequired && c.OperatorKey == "":
		return fmt.Errorf("operator_key is required when auth_required is set")
	}
	return nil
}

// Production reports whether the app runs in a production environment.
func (c App) Production() bool {
	return c.Env == "production" || c.Env == "prod"
}

// AllowedFile reports whether name has one of the allowed photo extensions.
func (c App) AllowedFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	ext := strings.ToLower(name[i+1:])
	for _, e := range c.AllowedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c App) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if c.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
