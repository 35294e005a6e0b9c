package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"hostelattend/internal/enroll"
)

func (h *Handler) Students(c *gin.Context) {
	out, err := h.ledger.ListStudents(c.Request.Context(), c.Query("active") == "1")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Student(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.ledger.GetStudent(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// AddStudent registers a student from a multipart form with an optional
// photo field.
func (h *Handler) AddStudent(c *gin.Context) {
	in, ok := h.studentForm(c)
	if !ok {
		return
	}
	st, err := h.enroll.Register(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "student": st, "message": "Student added successfully!"})
}

func (h *Handler) EditStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	in, ok := h.studentForm(c)
	if !ok {
		return
	}
	st, err := h.enroll.Edit(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "student": st, "message": "Student updated successfully!"})
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.enroll.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Student deleted successfully"})
}

// ImportStudents creates students from an uploaded XLSX roster in the file
// field.
func (h *Handler) ImportStudents(c *gin.Context) {
	h.limitBody(c)
	fh, err := c.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			h.tooLarge(c)
			return
		}
		badRequest(c, "file field required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read upload")
		return
	}
	defer f.Close()
	rep, err := h.enroll.ImportRoster(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "created": rep.Created, "skipped": rep.Skipped})
}

// studentForm reads the student fields and optional photo. On failure it
// has already written the response.
func (h *Handler) studentForm(c *gin.Context) (enroll.Input, bool) {
	h.limitBody(c)
	if err := c.Request.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if tooLarge(err) {
			h.tooLarge(c)
		} else {
			badRequest(c, "invalid form")
		}
		return enroll.Input{}, false
	}
	in := enroll.Input{
		StudentID:  c.PostForm("student_id"),
		Name:       c.PostForm("name"),
		Email:      optional(c, "email"),
		Department: optional(c, "department"),
	}
	if y := strings.TrimSpace(c.PostForm("year")); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			badRequest(c, "year must be a number")
			return enroll.Input{}, false
		}
		in.Year = &year
	}

	fh, err := c.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) || (err == nil && fh.Filename == "") {
		return in, true
	}
	if err != nil {
		badRequest(c, "invalid photo upload")
		return enroll.Input{}, false
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read photo")
		return enroll.Input{}, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "cannot read photo")
		return enroll.Input{}, false
	}
	in.Photo = &enroll.Upload{Filename: fh.Filename, Data: data}
	return in, true
}

func (h *Handler) limitBody(c *gin.Context) {
	if h.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	}
}

func (h *Handler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "upload too large"})
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func optional(c *gin.Context, field string) *string {
	v, ok := c.GetPostForm(field)
	if !ok {
		return nil
	}
	return &v
}
