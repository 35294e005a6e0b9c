package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"hostelattend/internal/store"
)

// Repository persists students, departments and attendance rows.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const studentColumns = `id, student_id, name, email, department, year, photo_path, encoding_path, is_active, created_at, updated_at`

func scanStudent(row scanner) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.StudentID, &s.Name, &s.Email, &s.Department, &s.Year,
		&s.PhotoPath, &s.EncodingPath, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	s.HasFaceData = s.EncodingPath != nil
	return s, err
}

// InsertStudent stores s and fills its id and timestamps.
func (r *Repository) InsertStudent(ctx context.Context, s *Student) error {
	now := time.Now().UTC()
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO students (student_id, name, email, department, year, photo_path, encoding_path, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), s.StudentID, s.Name, s.Email, s.Department, s.Year, s.PhotoPath, s.EncodingPath, s.IsActive, now, now)
	if err := row.Scan(&s.ID); err != nil {
		return err
	}
	s.CreatedAt, s.UpdatedAt = now, now
	s.HasFaceData = s.EncodingPath != nil
	return nil
}

// UpdateStudent writes every mutable column of s.
func (r *Repository) UpdateStudent(ctx context.Context, s *Student) error {
	s.UpdatedAt = time.Now().UTC()
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE students
		SET name = ?, email = ?, department = ?, year = ?, photo_path = ?, encoding_path = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`), s.Name, s.Email, s.Department, s.Year, s.PhotoPath, s.EncodingPath, s.IsActive, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	s.HasFaceData = s.EncodingPath != nil
	return expectOne(res)
}

// StudentByID returns sql.ErrNoRows when absent.
func (r *Repository) StudentByID(ctx context.Context, id int64) (Student, error) {
	return scanStudent(r.db.Client.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+studentColumns+` FROM students WHERE id = ?`), id))
}

// StudentByKey looks a student up by roll number.
func (r *Repository) StudentByKey(ctx context.Context, key string) (Student, error) {
	return scanStudent(r.db.Client.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+studentColumns+` FROM students WHERE student_id = ?`), key))
}

// StudentByEmail looks a student up by email.
func (r *Repository) StudentByEmail(ctx context.Context, email string) (Student, error) {
	return scanStudent(r.db.Client.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+studentColumns+` FROM students WHERE email = ?`), email))
}

// ListStudents returns students ordered by name, or by newest first when
// activeOnly is false.
func (r *Repository) ListStudents(ctx context.Context, activeOnly bool) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students ORDER BY created_at DESC, id DESC`
	if activeOnly {
		query = `SELECT ` + studentColumns + ` FROM students WHERE is_active = TRUE ORDER BY name, id`
	}
	rows, err := r.db.Client.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountStudents counts students, optionally only active ones.
func (r *Repository) CountStudents(ctx context.Context, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM students`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	var n int
	err := r.db.Client.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// DeleteStudent removes the student and its attendance rows in one transaction.
func (r *Repository) DeleteStudent(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM attendance WHERE student_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM students WHERE id = ?`), id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

const departmentColumns = `id, code, name, block, warden, created_at`

func scanDepartment(row scanner) (Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Block, &d.Warden, &d.CreatedAt)
	return d, err
}

// InsertDepartment stores d and fills its id.
func (r *Repository) InsertDepartment(ctx context.Context, d *Department) error {
	d.CreatedAt = time.Now().UTC()
	return r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO departments (code, name, block, warden, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), d.Code, d.Name, d.Block, d.Warden, d.CreatedAt).Scan(&d.ID)
}

// DepartmentByID returns sql.ErrNoRows when absent.
func (r *Repository) DepartmentByID(ctx context.Context, id int64) (Department, error) {
	return scanDepartment(r.db.Client.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+departmentColumns+` FROM departments WHERE id = ?`), id))
}

// DepartmentByCode returns sql.ErrNoRows when absent.
func (r *Repository) DepartmentByCode(ctx context.Context, code string) (Department, error) {
	return scanDepartment(r.db.Client.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+departmentColumns+` FROM departments WHERE code = ?`), code))
}

// DepartmentByName returns the first department with the given name.
func (r *Repository) DepartmentByName(ctx context.Context, name string) (Department, error) {
	return scanDepartment(r.db.Client.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+departmentColumns+` FROM departments WHERE name = ? ORDER BY id LIMIT 1`), name))
}

// ListDepartments returns departments ordered by name.
func (r *Repository) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.db.Client.QueryContext(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDepartments counts departments.
func (r *Repository) CountDepartments(ctx context.Context) (int, error) {
	var n int
	err := r.db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM departments`).Scan(&n)
	return n, err
}

// DeleteDepartment removes a department. Attendance rows keep their
// department_id.
func (r *Repository) DeleteDepartment(ctx context.Context, id int64) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`DELETE FROM departments WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const recordSelect = `
	SELECT a.id, a.student_id, s.name, s.student_id, s.department, a.department_id, d.name,
		a.date, a.time_in, a.status, a.confidence, a.marked_by, a.created_at
	FROM attendance a
	LEFT JOIN students s ON s.id = a.student_id
	LEFT JOIN departments d ON d.id = a.department_id`

func scanRecord(row scanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.StudentRoll, &rec.StudentDepartment,
		&rec.DepartmentID, &rec.DepartmentName, &rec.Date, &rec.TimeIn, &rec.Status, &rec.Confidence,
		&rec.MarkedBy, &rec.CreatedAt)
	rec.fillPct()
	return rec, err
}

func departmentKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// InsertIfAbsent writes rec unless a row already exists for the same
// student, date and department. It reports whether a row was inserted.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec *Record) (bool, error) {
	inserted := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, r.db.Rebind(`
			INSERT INTO attendance (student_id, department_id, department_key, date, time_in, status, confidence, marked_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (student_id, date, department_key) DO NOTHING
			RETURNING id
		`), rec.StudentID, rec.DepartmentID, departmentKey(rec.DepartmentID), rec.Date, rec.TimeIn,
			rec.Status, rec.Confidence, rec.MarkedBy, rec.CreatedAt).Scan(&rec.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// UpsertStatus sets the status of the row for rec's student, date and
// department, inserting it when missing. It reports whether a row existed.
func (r *Repository) UpsertStatus(ctx context.Context, rec *Record) (bool, error) {
	existed := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		key := departmentKey(rec.DepartmentID)
		err := tx.QueryRowContext(ctx, r.db.Rebind(`
			SELECT id FROM attendance WHERE student_id = ? AND date = ? AND department_key = ?
		`), rec.StudentID, rec.Date, key).Scan(&rec.ID)
		switch {
		case err == nil:
			existed = true
			_, err = tx.ExecContext(ctx, r.db.Rebind(`UPDATE attendance SET status = ? WHERE id = ?`), rec.Status, rec.ID)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		return tx.QueryRowContext(ctx, r.db.Rebind(`
			INSERT INTO attendance (student_id, department_id, department_key, date, time_in, status, confidence, marked_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (student_id, date, department_key) DO UPDATE SET status = excluded.status
			RETURNING id
		`), rec.StudentID, rec.DepartmentID, key, rec.Date, rec.TimeIn, rec.Status, rec.Confidence,
			rec.MarkedBy, rec.CreatedAt).Scan(&rec.ID)
	})
	return existed, err
}

// RecordByID returns the joined record or sql.ErrNoRows.
func (r *Repository) RecordByID(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.db.Client.QueryRowContext(ctx, r.db.Rebind(recordSelect+` WHERE a.id = ?`), id))
}

// DeleteRecord removes one attendance row.
func (r *Repository) DeleteRecord(ctx context.Context, id int64) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`DELETE FROM attendance WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ListRecords returns a page of records, newest first, and the total count.
func (r *Repository) ListRecords(ctx context.Context, f Filter, limit, offset int) ([]Record, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Date != "" {
		clauses = append(clauses, "a.date = ?")
		args = append(args, f.Date)
	}
	if f.DepartmentID != 0 {
		clauses = append(clauses, "a.department_id = ?")
		args = append(args, f.DepartmentID)
	}
	if f.StudentID != 0 {
		clauses = append(clauses, "a.student_id = ?")
		args = append(args, f.StudentID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM attendance a`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := recordSelect + where + ` ORDER BY a.date DESC, a.created_at DESC, a.id DESC LIMIT ? OFFSET ?`
	recs, err := r.queryRecords(ctx, query, append(args, limit, offset)...)
	return recs, total, err
}

// RecordsBetween returns records in the range ordered by date then student.
func (r *Repository) RecordsBetween(ctx context.Context, rg Range) ([]Record, error) {
	query := recordSelect + ` WHERE a.date >= ? AND a.date <= ?`
	args := []any{rg.Start, rg.End}
	if rg.DepartmentID != 0 {
		query += ` AND a.department_id = ?`
		args = append(args, rg.DepartmentID)
	}
	query += ` ORDER BY a.date, a.student_id, a.id`
	return r.queryRecords(ctx, query, args...)
}

// RecentOn returns the latest records of a day.
func (r *Repository) RecentOn(ctx context.Context, date string, limit int) ([]Record, error) {
	return r.queryRecords(ctx, recordSelect+` WHERE a.date = ? ORDER BY a.created_at DESC, a.id DESC LIMIT ?`, date, limit)
}

// CountByDate counts records per date between start and end inclusive.
func (r *Repository) CountByDate(ctx context.Context, start, end string) (map[string]int, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(`
		SELECT date, COUNT(*) FROM attendance WHERE date >= ? AND date <= ? GROUP BY date
	`), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			d string
			n int
		)
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		out[d] = n
	}
	return out, rows.Err()
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.Client.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
