package enroll

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"hostelattend/internal/apperr"
)

// RowError explains why a roster row was not imported.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportReport summarises a roster import.
type ImportReport struct {
	Created int        `json:"created"`
	Skipped []RowError `json:"skipped"`
}

var rosterColumns = map[string]string{
	"student_id": "student_id", "student id": "student_id", "id": "student_id", "roll": "student_id",
	"name":       "name",
	"email":      "email",
	"department": "department", "dept": "department",
	"year": "year",
}

// ImportRoster creates students from the first sheet of an XLSX workbook.
// The first row is a header naming the columns; student_id and name are
// required. Rows that fail are reported and skipped.
func (s *Service) ImportRoster(ctx context.Context, r io.Reader) (ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportReport{}, apperr.Wrap(err, apperr.KindValidation, "open workbook")
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.log.Warn("close workbook", "error", err)
		}
	}()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return ImportReport{}, apperr.New(apperr.KindValidation, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return ImportReport{}, apperr.Wrapf(err, apperr.KindValidation, "read sheet %s", sheet)
	}
	if len(rows) == 0 {
		return ImportReport{}, apperr.New(apperr.KindValidation, "sheet is empty")
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		if name, ok := rosterColumns[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	if _, ok := cols["student_id"]; !ok {
		return ImportReport{}, apperr.New(apperr.KindValidation, "header must include student_id")
	}
	if _, ok := cols["name"]; !ok {
		return ImportReport{}, apperr.New(apperr.KindValidation, "header must include name")
	}

	report := ImportReport{Skipped: []RowError{}}
	for i, row := range rows[1:] {
		rowNum := i + 2
		cell := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		in := Input{StudentID: cell("student_id"), Name: cell("name")}
		if v := cell("email"); v != "" {
			in.Email = &v
		}
		if v := cell("department"); v != "" {
			in.Department = &v
		}
		if v := cell("year"); v != "" {
			y, err := strconv.Atoi(v)
			if err != nil {
				report.Skipped = append(report.Skipped, RowError{Row: rowNum, Error: "year must be a number"})
				continue
			}
			in.Year = &y
		}
		if _, err := s.Register(ctx, in); err != nil {
			report.Skipped = append(report.Skipped, RowError{Row: rowNum, Error: apperr.Message(err)})
			continue
		}
		report.Created++
	}
	s.log.Info("roster imported", "created", report.Created, "skipped", len(report.Skipped))
	return report, nil
}
