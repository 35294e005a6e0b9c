package attendance

import (
	"math"
	"time"
)

// Status values of an attendance record.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
)

// Sources recorded in marked_by.
const (
	SourceFace   = "face_recognition"
	SourceManual = "manual"
	SourceAPI    = "api"
)

// DateLayout is the stored format of attendance dates.
const DateLayout = "2006-01-02"

// TimeLayout is the stored format of the time of day a mark was taken.
const TimeLayout = "15:04:05"

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusLate
}

// Student is a registered hostel resident.
type Student struct {
	ID           int64     `json:"id"`
	StudentID    string    `json:"student_id"`
	Name         string    `json:"name"`
	Email        *string   `json:"email"`
	Department   *string   `json:"department"`
	Year         *int      `json:"year"`
	PhotoPath    *string   `json:"photo_path"`
	EncodingPath *string   `json:"-"`
	IsActive     bool      `json:"is_active"`
	HasFaceData  bool      `json:"has_face_data"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

// Department is a hostel block or academic department attendance is taken for.
type Department struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Block     *string   `json:"block"`
	Warden    *string   `json:"warden"`
	CreatedAt time.Time `json:"-"`
}

// Record is one attendance row joined with its student and department.
type Record struct {
	ID                int64     `json:"id"`
	StudentID         int64     `json:"student_id"`
	StudentName       *string   `json:"student_name"`
	StudentRoll       *string   `json:"student_roll"`
	StudentDepartment *string   `json:"-"`
	DepartmentID      *int64    `json:"department_id"`
	DepartmentName    *string   `json:"department_name"`
	Date              string    `json:"date"`
	TimeIn            *string   `json:"time_in"`
	Status            string    `json:"status"`
	Confidence        *float64  `json:"-"`
	ConfidencePct     *float64  `json:"confidence"`
	MarkedBy          string    `json:"marked_by"`
	CreatedAt         time.Time `json:"created_at"`
}

func (r *Record) fillPct() {
	r.ConfidencePct = nil
	if r.Confidence != nil && *r.Confidence != 0 {
		pct := math.Round(*r.Confidence*1000) / 10
		r.ConfidencePct = &pct
	}
}

// MarkRequest asks the ledger to record a student as present.
type MarkRequest struct {
	// SessionID ties a request to the camera session that produced it.
	SessionID    string    `json:"session_id,omitempty"`
	StudentKey   string    `json:"student_key"`
	DepartmentID *int64    `json:"department_id,omitempty"`
	Confidence   float64   `json:"confidence"`
	Source       string    `json:"source"`
	At           time.Time `json:"at"`
}

// MarkResult describes what Mark did.
type MarkResult struct {
	Record        Record `json:"record"`
	StudentName   string `json:"student_name"`
	AlreadyMarked bool   `json:"already_marked"`
}

// ManualRequest sets a status for a student on a date.
type ManualRequest struct {
	StudentID    int64
	DepartmentID *int64
	Date         string
	Status       string
}

// Filter narrows record listings. Zero values are ignored.
type Filter struct {
	Date         string
	DepartmentID int64
	StudentID    int64
	Page         int
	PerPage      int
}

// Page is one page of records.
type Page struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Pages   int      `json:"pages"`
}

// Range selects records between two dates inclusive.
type Range struct {
	Start        string
	End          string
	DepartmentID int64
}
