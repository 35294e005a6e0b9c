// Package photos stores uploaded student photos on local disk, optionally
// mirroring them to a remote image host.
package photos

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"hostelattend/internal/apperr"
	"hostelattend/internal/cloudinary"
)

// URLPrefix is the public prefix photo paths are stored under.
const URLPrefix = "student_photos"

// Mirror receives copies of stored photos.
type Mirror interface {
	Upload(ctx context.Context, data []byte, publicID, filename string) (*cloudinary.UploadResult, error)
	Destroy(ctx context.Context, publicID string) error
}

// Store writes photos below dir.
type Store struct {
	dir    string
	mirror Mirror
	log    *slog.Logger
}

// NewStore creates dir if needed. mirror may be nil.
func NewStore(dir string, mirror Mirror, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrapf(err, apperr.KindIO, "create photo dir %s", dir)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, mirror: mirror, log: log.With("component", "photos")}, nil
}

// Dir is the directory served under URLPrefix.
func (s *Store) Dir() string { return s.dir }

// FileName builds "<key>_<8 hex chars><ext>" with path separators removed.
func FileName(key, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
	return safe + "_" + id + ext
}

// Save writes data and returns its public path, "student_photos/<file>".
func (s *Store) Save(ctx context.Context, key, original string, data []byte) (string, error) {
	name := FileName(key, original)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", apperr.Wrap(err, apperr.KindIO, "save photo")
	}
	if s.mirror != nil {
		if _, err := s.mirror.Upload(ctx, data, publicID(name), name); err != nil {
			s.log.Warn("photo mirror upload failed", "file", name, "error", err)
		}
	}
	return path.Join(URLPrefix, name), nil
}

// Local returns the filesystem path of a public photo path.
func (s *Store) Local(public string) string {
	return filepath.Join(s.dir, filepath.Base(public))
}

// Remove deletes a stored photo. Missing files are ignored.
func (s *Store) Remove(ctx context.Context, public string) error {
	if public == "" {
		return nil
	}
	name := filepath.Base(public)
	if err := os.Remove(s.Local(public)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(err, apperr.KindIO, "remove photo")
	}
	if s.mirror != nil {
		if err := s.mirror.Destroy(ctx, publicID(name)); err != nil {
			s.log.Warn("photo mirror delete failed", "file", name, "error", err)
		}
	}
	return nil
}

func publicID(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
