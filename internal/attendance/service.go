package attendance

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"hostelattend/internal/apperr"
	"hostelattend/internal/metrics"
	"hostelattend/internal/store"
)

// DefaultPerPage is the page size used when a listing does not ask for one.
const DefaultPerPage = 50

const deptCacheTTL = 5 * time.Minute

// noDepartment caches a failed name lookup.
const noDepartment int64 = -1

// Service coordinates the ledger rules on top of the repository.
type Service struct {
	repo    *Repository
	depts   *cache.Cache
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates a service backed by a repository. m may be nil.
func NewService(repo *Repository, m *metrics.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:    repo,
		depts:   cache.New(deptCacheTTL, 2*deptCacheTTL),
		metrics: m,
		log:     log.With("component", "attendance"),
		now:     time.Now,
	}
}

// Mark records the student as present for today unless a row already
// exists for the same student, day and department.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (MarkResult, error) {
	source := req.Source
	if source == "" {
		source = SourceFace
	}
	res, err := s.mark(ctx, req, source)
	switch {
	case err != nil:
		s.metrics.Mark(source, metrics.OutcomeError)
	case res.AlreadyMarked:
		s.metrics.Mark(source, metrics.OutcomeAlreadyMarked)
	default:
		s.metrics.Mark(source, metrics.OutcomeMarked)
	}
	return res, err
}

func (s *Service) mark(ctx context.Context, req MarkRequest, source string) (MarkResult, error) {
	key := strings.TrimSpace(req.StudentKey)
	if key == "" {
		return MarkResult{}, apperr.New(apperr.KindValidation, "student key required")
	}
	st, err := s.repo.StudentByKey(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return MarkResult{}, apperr.Newf(apperr.KindNotFound, "student %s not found", key)
	}
	if err != nil {
		return MarkResult{}, apperr.Wrap(err, apperr.KindPersistence, "lookup student")
	}

	deptID := req.DepartmentID
	if deptID == nil && st.Department != nil && *st.Department != "" {
		deptID = s.departmentByName(ctx, *st.Department)
	}

	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	timeIn := at.Format(TimeLayout)
	conf := req.Confidence
	rec := Record{
		StudentID:    st.ID,
		DepartmentID: deptID,
		Date:         at.Format(DateLayout),
		TimeIn:       &timeIn,
		Status:       StatusPresent,
		Confidence:   &conf,
		MarkedBy:     source,
		CreatedAt:    at.UTC(),
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, &rec)
	if err != nil {
		return MarkResult{}, apperr.Wrap(err, apperr.KindPersistence, "mark attendance")
	}
	rec.StudentName, rec.StudentRoll, rec.StudentDepartment = &st.Name, &st.StudentID, st.Department
	rec.fillPct()
	if !inserted {
		s.log.Debug("already marked", "student", key, "date", rec.Date)
		return MarkResult{Record: rec, StudentName: st.Name, AlreadyMarked: true}, nil
	}
	s.log.Info("attendance marked", "student", key, "source", source, "confidence", conf)
	return MarkResult{Record: rec, StudentName: st.Name}, nil
}

// departmentByName resolves a department id through the cache. A miss is
// cached too so unknown names do not hit the database on every frame.
func (s *Service) departmentByName(ctx context.Context, name string) *int64 {
	if v, ok := s.depts.Get(name); ok {
		id := v.(int64)
		if id == noDepartment {
			return nil
		}
		return &id
	}
	d, err := s.repo.DepartmentByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		s.depts.SetDefault(name, noDepartment)
		return nil
	}
	if err != nil {
		s.log.Warn("department lookup failed", "name", name, "error", err)
		return nil
	}
	s.depts.SetDefault(name, d.ID)
	return &d.ID
}

// ManualMark sets the status for a student on a date, creating the row
// when needed. It reports whether an existing row was updated.
func (s *Service) ManualMark(ctx context.Context, req ManualRequest) (Record, bool, error) {
	if req.StudentID == 0 {
		return Record{}, false, apperr.New(apperr.KindValidation, "student_id required")
	}
	status := req.Status
	if status == "" {
		status = StatusPresent
	}
	if !ValidStatus(status) {
		return Record{}, false, apperr.Newf(apperr.KindValidation, "unknown status %q", status)
	}
	if _, err := s.GetStudent(ctx, req.StudentID); err != nil {
		return Record{}, false, err
	}

	now := s.now()
	date := now.Format(DateLayout)
	if req.Date != "" {
		if d, err := time.Parse(DateLayout, req.Date); err == nil {
			date = d.Format(DateLayout)
		}
	}
	timeIn := now.Format(TimeLayout)
	rec := Record{
		StudentID:    req.StudentID,
		DepartmentID: req.DepartmentID,
		Date:         date,
		TimeIn:       &timeIn,
		Status:       status,
		MarkedBy:     SourceManual,
		CreatedAt:    now.UTC(),
	}
	existed, err := s.repo.UpsertStatus(ctx, &rec)
	if err != nil {
		s.metrics.Mark(SourceManual, metrics.OutcomeError)
		return Record{}, false, apperr.Wrap(err, apperr.KindPersistence, "manual mark")
	}
	s.metrics.Mark(SourceManual, metrics.OutcomeMarked)
	out, err := s.repo.RecordByID(ctx, rec.ID)
	if err != nil {
		return Record{}, false, apperr.Wrap(err, apperr.KindPersistence, "reload record")
	}
	return out, existed, nil
}

// List returns one page of records matching f.
func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.Date != "" {
		if _, err := time.Parse(DateLayout, f.Date); err != nil {
			f.Date = ""
		}
	}
	recs, total, err := s.repo.ListRecords(ctx, f, f.PerPage, (f.Page-1)*f.PerPage)
	if err != nil {
		return Page{}, apperr.Wrap(err, apperr.KindPersistence, "list records")
	}
	if recs == nil {
		recs = []Record{}
	}
	return Page{
		Records: recs,
		Total:   total,
		Page:    f.Page,
		Pages:   (total + f.PerPage - 1) / f.PerPage,
	}, nil
}

// DeleteRecord removes one attendance row.
func (s *Service) DeleteRecord(ctx context.Context, id int64) error {
	return notFoundOr(s.repo.DeleteRecord(ctx, id), "record %d not found", id, "delete record")
}

// CreateStudent validates uniqueness of roll number and email and stores s.
func (s *Service) CreateStudent(ctx context.Context, st *Student) error {
	st.StudentID = strings.TrimSpace(st.StudentID)
	st.Name = strings.TrimSpace(st.Name)
	if st.StudentID == "" || st.Name == "" {
		return apperr.New(apperr.KindValidation, "Student ID and Name are required")
	}
	if err := s.CheckStudentUnique(ctx, st.StudentID, st.Email); err != nil {
		return err
	}
	st.IsActive = true
	if err := s.repo.InsertStudent(ctx, st); err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.Wrap(err, apperr.KindValidation, "Student ID or email already exists")
		}
		return apperr.Wrap(err, apperr.KindPersistence, "create student")
	}
	return nil
}

// CheckStudentUnique fails with a validation error when the roll number or
// email is taken.
func (s *Service) CheckStudentUnique(ctx context.Context, key string, email *string) error {
	if _, err := s.repo.StudentByKey(ctx, key); err == nil {
		return apperr.New(apperr.KindValidation, "Student ID already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(err, apperr.KindPersistence, "lookup student")
	}
	if email == nil || *email == "" {
		return nil
	}
	if _, err := s.repo.StudentByEmail(ctx, *email); err == nil {
		return apperr.New(apperr.KindValidation, "Email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(err, apperr.KindPersistence, "lookup email")
	}
	return nil
}

// UpdateStudent persists edits to an existing student.
func (s *Service) UpdateStudent(ctx context.Context, st *Student) error {
	if strings.TrimSpace(st.Name) == "" {
		return apperr.New(apperr.KindValidation, "Name is required")
	}
	err := s.repo.UpdateStudent(ctx, st)
	if store.IsUniqueViolation(err) {
		return apperr.Wrap(err, apperr.KindValidation, "Email already registered")
	}
	return notFoundOr(err, "student %d not found", st.ID, "update student")
}

// GetStudent returns a student by database id.
func (s *Service) GetStudent(ctx context.Context, id int64) (Student, error) {
	st, err := s.repo.StudentByID(ctx, id)
	return st, notFoundOr(err, "student %d not found", id, "get student")
}

// ListStudents lists students; activeOnly orders by name.
func (s *Service) ListStudents(ctx context.Context, activeOnly bool) ([]Student, error) {
	out, err := s.repo.ListStudents(ctx, activeOnly)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindPersistence, "list students")
	}
	if out == nil {
		out = []Student{}
	}
	return out, nil
}

// DisplayNames maps roll numbers of active students to their names.
func (s *Service) DisplayNames(ctx context.Context) (map[string]string, error) {
	students, err := s.ListStudents(ctx, true)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(students))
	for _, st := range students {
		names[st.StudentID] = st.Name
	}
	return names, nil
}

// DeleteStudent removes the student and its attendance rows and returns the
// deleted row so callers can clean up files.
func (s *Service) DeleteStudent(ctx context.Context, id int64) (Student, error) {
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if err := s.repo.DeleteStudent(ctx, id); err != nil {
		return Student{}, notFoundOr(err, "student %d not found", id, "delete student")
	}
	s.log.Info("student deleted", "student", st.StudentID)
	return st, nil
}

// CreateDepartment stores a department with a unique code.
func (s *Service) CreateDepartment(ctx context.Context, d *Department) error {
	d.Code = strings.TrimSpace(d.Code)
	d.Name = strings.TrimSpace(d.Name)
	if d.Code == "" || d.Name == "" {
		return apperr.New(apperr.KindValidation, "Code and Name are required")
	}
	if _, err := s.repo.DepartmentByCode(ctx, d.Code); err == nil {
		return apperr.New(apperr.KindValidation, "Department code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(err, apperr.KindPersistence, "lookup department")
	}
	if err := s.repo.InsertDepartment(ctx, d); err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.Wrap(err, apperr.KindValidation, "Department code already exists")
		}
		return apperr.Wrap(err, apperr.KindPersistence, "create department")
	}
	s.depts.Flush()
	return nil
}

// GetDepartment returns a department by id.
func (s *Service) GetDepartment(ctx context.Context, id int64) (Department, error) {
	d, err := s.repo.DepartmentByID(ctx, id)
	return d, notFoundOr(err, "department %d not found", id, "get department")
}

// ListDepartments lists departments by name.
func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	out, err := s.repo.ListDepartments(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindPersistence, "list departments")
	}
	if out == nil {
		out = []Department{}
	}
	return out, nil
}

// DeleteDepartment removes a department without touching attendance rows.
func (s *Service) DeleteDepartment(ctx context.Context, id int64) error {
	if err := notFoundOr(s.repo.DeleteDepartment(ctx, id), "department %d not found", id, "delete department"); err != nil {
		return err
	}
	s.depts.Flush()
	return nil
}

func notFoundOr(err error, format string, id int64, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apperr.Newf(apperr.KindNotFound, format, id)
	default:
		return apperr.Wrap(err, apperr.KindPersistence, op)
	}
}
