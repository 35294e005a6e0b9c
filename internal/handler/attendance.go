package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hostelattend/internal/attendance"
)

// Records lists attendance rows filtered by date, department and student.
func (h *Handler) Records(c *gin.Context) {
	page, err := h.ledger.List(c.Request.Context(), attendance.Filter{
		Date:         c.Query("date"),
		DepartmentID: queryInt64(c, "department_id"),
		StudentID:    queryInt64(c, "student_id"),
		Page:         queryInt(c, "page", 1),
		PerPage:      queryInt(c, "per_page", attendance.DefaultPerPage),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type markRequest struct {
	StudentKey   string  `json:"student_db_id"`
	DepartmentID *int64  `json:"department_id"`
	Confidence   float64 `json:"confidence"`
}

// Mark records a student as present for today. A repeat for the same day
// and department answers with already_marked instead of a new row.
func (h *Handler) Mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if req.StudentKey == "" {
		badRequest(c, "student_db_id required")
		return
	}
	res, err := h.ledger.Mark(c.Request.Context(), attendance.MarkRequest{
		StudentKey:   req.StudentKey,
		DepartmentID: req.DepartmentID,
		Confidence:   req.Confidence,
		Source:       attendance.SourceAPI,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.AlreadyMarked {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Attendance already marked", "already_marked": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"record":  res.Record,
		"message": "Attendance marked for " + res.StudentName,
	})
}

type manualRequest struct {
	StudentID    int64  `json:"student_id"`
	DepartmentID *int64 `json:"department_id"`
	Date         string `json:"date"`
	Status       string `json:"status"`
}

// ManualMark sets a status for a student on a date.
func (h *Handler) ManualMark(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	rec, existed, err := h.ledger.ManualMark(c.Request.Context(), attendance.ManualRequest(req))
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := "Attendance marked manually"
	if existed {
		msg = "Attendance updated"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec, "message": msg})
}

func (h *Handler) DeleteRecord(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.ledger.DeleteRecord(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Record deleted"})
}

func (h *Handler) Departments(c *gin.Context) {
	out, err := h.ledger.ListDepartments(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type departmentRequest struct {
	Code   string  `json:"code" form:"code"`
	Name   string  `json:"name" form:"name"`
	Block  *string `json:"block" form:"block"`
	Warden *string `json:"warden" form:"warden"`
}

// AddDepartment accepts JSON or form fields.
func (h *Handler) AddDepartment(c *gin.Context) {
	var req departmentRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	d := attendance.Department{Code: req.Code, Name: req.Name, Block: req.Block, Warden: req.Warden}
	if err := h.ledger.CreateDepartment(c.Request.Context(), &d); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "department": d})
}

func (h *Handler) DeleteDepartment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.ledger.DeleteDepartment(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
