package store

import (
	"context"
	"fmt"
	"strings"
)

// Tables mirror the student, department and attendance records. Dates and
// clock times are stored as ISO text so both dialects compare them the same
// way. attendance.department_key folds a missing department into 0 so the
// unique index also covers rows without one.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id {{pk}},
		student_id VARCHAR(20) NOT NULL UNIQUE,
		name VARCHAR(100) NOT NULL,
		email VARCHAR(120) UNIQUE,
		department VARCHAR(100),
		year INTEGER,
		photo_path VARCHAR(255),
		encoding_path VARCHAR(255),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS departments (
		id {{pk}},
		code VARCHAR(20) NOT NULL UNIQUE,
		name VARCHAR(100) NOT NULL,
		block VARCHAR(100),
		warden VARCHAR(100),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id {{pk}},
		student_id BIGINT NOT NULL,
		department_id BIGINT,
		department_key BIGINT NOT NULL DEFAULT 0,
		date VARCHAR(10) NOT NULL,
		time_in VARCHAR(8),
		status VARCHAR(20) NOT NULL DEFAULT 'present',
		confidence DOUBLE PRECISION,
		marked_by VARCHAR(50) NOT NULL DEFAULT 'face_recognition',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_student_day
		ON attendance (student_id, date, department_key)`,
	`CREATE INDEX IF NOT EXISTS attendance_date ON attendance (date)`,
}

// Migrate creates missing tables and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.Dialect == Postgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{pk}}", pk)
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", d.Dialect, err)
		}
	}
	return nil
}
