// Package enroll registers students together with their photo and face
// embedding, keeping the database and the files on disk in step.
package enroll

import (
	"bytes"
	"context"
	"image"
	"log/slog"
	"strings"

	"hostelattend/internal/apperr"
	"hostelattend/internal/attendance"
	"hostelattend/internal/embedding"
	"hostelattend/internal/face"
)

// Enroller computes the embedding of the single face in a photo.
// *face.Matcher implements it.
type Enroller interface {
	EnrollVector(ctx context.Context, img image.Image) (embedding.Vector, error)
}

// PhotoStore keeps uploaded photos. *photos.Store implements it.
type PhotoStore interface {
	Save(ctx context.Context, key, original string, data []byte) (string, error)
	Remove(ctx context.Context, public string) error
}

// Embeddings persists vectors. *embedding.Store implements it.
type Embeddings interface {
	Save(vec embedding.Vector, studentID string) (string, error)
	Load(studentID string) (embedding.Vector, error)
	Delete(studentID string) error
}

// Upload is a photo submitted with a form.
type Upload struct {
	Filename string
	Data     []byte
}

// Input carries the editable student fields.
type Input struct {
	StudentID  string
	Name       string
	Email      *string
	Department *string
	Year       *int
	Photo      *Upload
}

// Service registers, edits and deletes students.
type Service struct {
	students   *attendance.Service
	enroller   Enroller
	embeddings Embeddings
	photos     PhotoStore
	allowed    func(name string) bool
	log        *slog.Logger
}

// NewService wires the enrollment service. allowed filters photo file names
// by extension.
func NewService(students *attendance.Service, enroller Enroller, embeddings Embeddings, photos PhotoStore,
	allowed func(string) bool, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		students:   students,
		enroller:   enroller,
		embeddings: embeddings,
		photos:     photos,
		allowed:    allowed,
		log:        log.With("component", "enroll"),
	}
}

// enrolled is the on-disk state created for one photo.
type enrolled struct {
	photo    string
	encoding string
}

// enrollPhoto stores the photo and its embedding. Nothing is left on disk
// when it fails.
func (s *Service) enrollPhoto(ctx context.Context, key string, up *Upload) (enrolled, error) {
	if s.allowed != nil && !s.allowed(up.Filename) {
		return enrolled{}, apperr.Newf(apperr.KindValidation, "file type not allowed: %s", up.Filename)
	}
	img, err := face.DecodeImage(bytes.NewReader(up.Data))
	if err != nil {
		return enrolled{}, err
	}
	vec, err := s.enroller.EnrollVector(ctx, img)
	if err != nil {
		return enrolled{}, err
	}
	photo, err := s.photos.Save(ctx, key, up.Filename, up.Data)
	if err != nil {
		return enrolled{}, err
	}
	encoding, err := s.embeddings.Save(vec, key)
	if err != nil {
		s.removePhoto(ctx, photo)
		return enrolled{}, err
	}
	return enrolled{photo: photo, encoding: encoding}, nil
}

// Register creates a student. When a photo is supplied its embedding is
// computed before anything is written.
func (s *Service) Register(ctx context.Context, in Input) (attendance.Student, error) {
	st := attendance.Student{
		StudentID:  strings.TrimSpace(in.StudentID),
		Name:       strings.TrimSpace(in.Name),
		Email:      blankToNil(in.Email),
		Department: blankToNil(in.Department),
		Year:       in.Year,
	}
	if st.StudentID == "" || st.Name == "" {
		return attendance.Student{}, apperr.New(apperr.KindValidation, "Student ID and Name are required")
	}
	if err := s.students.CheckStudentUnique(ctx, st.StudentID, st.Email); err != nil {
		return attendance.Student{}, err
	}

	var files enrolled
	if in.Photo != nil && len(in.Photo.Data) > 0 {
		var err error
		if files, err = s.enrollPhoto(ctx, st.StudentID, in.Photo); err != nil {
			return attendance.Student{}, err
		}
		st.PhotoPath, st.EncodingPath = &files.photo, &files.encoding
	}

	if err := s.students.CreateStudent(ctx, &st); err != nil {
		s.cleanup(ctx, st.StudentID, files)
		return attendance.Student{}, err
	}
	s.log.Info("student registered", "student", st.StudentID, "face", st.HasFaceData)
	return st, nil
}

// Edit updates a student's details. A new photo replaces the old one and
// recomputes the embedding; on failure the previous photo stays in place.
func (s *Service) Edit(ctx context.Context, id int64, in Input) (attendance.Student, error) {
	st, err := s.students.GetStudent(ctx, id)
	if err != nil {
		return attendance.Student{}, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		st.Name = name
	}
	st.Email = blankToNil(in.Email)
	st.Department = blankToNil(in.Department)
	st.Year = in.Year

	oldPhoto := st.PhotoPath
	var (
		files enrolled
		prev  embedding.Vector
	)
	if in.Photo != nil && len(in.Photo.Data) > 0 {
		if st.EncodingPath != nil {
			if prev, err = s.embeddings.Load(st.StudentID); err != nil {
				s.log.Warn("load previous embedding", "student", st.StudentID, "error", err)
			}
		}
		if files, err = s.enrollPhoto(ctx, st.StudentID, in.Photo); err != nil {
			return attendance.Student{}, err
		}
		st.PhotoPath, st.EncodingPath = &files.photo, &files.encoding
	}

	if err := s.students.UpdateStudent(ctx, &st); err != nil {
		if files.photo != "" {
			s.removePhoto(ctx, files.photo)
			s.restoreEmbedding(st.StudentID, prev)
		}
		return attendance.Student{}, err
	}
	if files.photo != "" && oldPhoto != nil && *oldPhoto != files.photo {
		s.removePhoto(ctx, *oldPhoto)
	}
	return st, nil
}

// Delete removes the student, its attendance rows, photo and embedding.
func (s *Service) Delete(ctx context.Context, id int64) error {
	st, err := s.students.DeleteStudent(ctx, id)
	if err != nil {
		return err
	}
	var files enrolled
	if st.PhotoPath != nil {
		files.photo = *st.PhotoPath
	}
	if st.EncodingPath != nil {
		files.encoding = *st.EncodingPath
	}
	s.cleanup(ctx, st.StudentID, files)
	return nil
}

func (s *Service) cleanup(ctx context.Context, key string, files enrolled) {
	if files.photo != "" {
		s.removePhoto(ctx, files.photo)
	}
	if files.encoding != "" {
		if err := s.embeddings.Delete(key); err != nil {
			s.log.Warn("remove embedding", "student", key, "error", err)
		}
	}
}

// restoreEmbedding puts back the vector that was on disk before a failed
// edit, or removes the file when there was none.
func (s *Service) restoreEmbedding(key string, prev embedding.Vector) {
	var err error
	if prev != nil {
		_, err = s.embeddings.Save(prev, key)
	} else {
		err = s.embeddings.Delete(key)
	}
	if err != nil {
		s.log.Warn("restore embedding", "student", key, "error", err)
	}
}

func (s *Service) removePhoto(ctx context.Context, public string) {
	if err := s.photos.Remove(ctx, public); err != nil {
		s.log.Warn("remove photo", "photo", public, "error", err)
	}
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
