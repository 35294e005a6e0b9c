// Package embedding persists one face embedding per student on disk.
package embedding

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hostelattend/internal/apperr"
)

const fileExt = ".json"

// Vector is a fixed-length face descriptor.
type Vector []float32

// Distance returns the Euclidean distance between two vectors. Vectors of
// different length are infinitely far apart.
func Distance(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Gallery maps a student identifier to its stored embedding.
type Gallery map[string]Vector

// Keys returns the gallery identifiers in sorted order.
func (g Gallery) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type record struct {
	StudentID string    `json:"student_id"`
	Dim       int       `json:"dim"`
	Vector    Vector    `json:"vector"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store reads and writes embedding files under a single directory.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore creates the directory if needed.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrapf(err, apperr.KindIO, "create encodings dir %s", dir)
	}
	return &Store{dir: dir, log: log.With("component", "embedding")}, nil
}

// Path returns the file that holds the embedding for studentID.
func (s *Store) Path(studentID string) string {
	return filepath.Join(s.dir, url.PathEscape(studentID)+fileExt)
}

// Save writes vec for studentID, replacing any previous file.
func (s *Store) Save(vec Vector, studentID string) (string, error) {
	if studentID == "" {
		return "", apperr.New(apperr.KindValidation, "student id required")
	}
	if len(vec) == 0 {
		return "", apperr.New(apperr.KindValidation, "empty embedding")
	}
	data, err := json.Marshal(record{
		StudentID: studentID,
		Dim:       len(vec),
		Vector:    vec,
		SavedAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindIO, "encode embedding")
	}

	tmp, err := os.CreateTemp(s.dir, ".emb-*")
	if err != nil {
		return "", apperr.Wrapf(err, apperr.KindIO, "save embedding %s", studentID)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", apperr.Wrapf(err, apperr.KindIO, "save embedding %s", studentID)
	}
	if err := tmp.Close(); err != nil {
		return "", apperr.Wrapf(err, apperr.KindIO, "save embedding %s", studentID)
	}
	path := s.Path(studentID)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", apperr.Wrapf(err, apperr.KindIO, "save embedding %s", studentID)
	}
	return path, nil
}

// Load reads the embedding for studentID.
func (s *Store) Load(studentID string) (Vector, error) {
	rec, err := readRecord(s.Path(studentID))
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindDecode, "load embedding %s", studentID)
	}
	return rec.Vector, nil
}

// LoadAll reads every embedding in the directory. Unreadable files are
// logged and left out of the result.
func (s *Store) LoadAll() (Gallery, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Gallery{}, nil
		}
		return nil, apperr.Wrapf(err, apperr.KindIO, "list %s", s.dir)
	}

	out := make(Gallery, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		rec, err := readRecord(filepath.Join(s.dir, name))
		if err != nil {
			s.log.Warn("skipping unreadable embedding", "file", name, "error", err)
			continue
		}
		id := rec.StudentID
		if id == "" {
			id, err = url.PathUnescape(strings.TrimSuffix(name, fileExt))
			if err != nil {
				s.log.Warn("skipping embedding with bad name", "file", name, "error", err)
				continue
			}
		}
		out[id] = rec.Vector
	}
	return out, nil
}

// Delete removes the embedding for studentID if present.
func (s *Store) Delete(studentID string) error {
	if err := os.Remove(s.Path(studentID)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrapf(err, apperr.KindIO, "delete embedding %s", studentID)
	}
	return nil
}

func readRecord(path string) (record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, err
	}
	if len(rec.Vector) == 0 {
		return record{}, errEmpty
	}
	if rec.Dim != 0 && rec.Dim != len(rec.Vector) {
		return record{}, errDim
	}
	return rec, nil
}
