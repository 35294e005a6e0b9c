// Package report aggregates attendance for summaries, exports and the
// dashboard.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"hostelattend/internal/apperr"
	"hostelattend/internal/attendance"
)

// DefaultWindow is the look-back used when a range has no start.
const DefaultWindow = 30 * 24 * time.Hour

// Source is the read side of the ledger the reports need.
type Source interface {
	RecordsBetween(ctx context.Context, rg attendance.Range) ([]attendance.Record, error)
	RecentOn(ctx context.Context, date string, limit int) ([]attendance.Record, error)
	CountByDate(ctx context.Context, start, end string) (map[string]int, error)
	CountStudents(ctx context.Context, activeOnly bool) (int, error)
	CountDepartments(ctx context.Context) (int, error)
}

// Service builds reports.
type Service struct {
	src Source
	now func() time.Time
}

// NewService creates a report service over src.
func NewService(src Source) *Service {
	return &Service{src: src, now: time.Now}
}

// Range parses YYYY-MM-DD bounds. Missing or malformed input falls back to
// the last 30 days ending today.
func (s *Service) Range(start, end string, departmentID int64) attendance.Range {
	today := s.now()
	from := today.Add(-DefaultWindow)
	to := today
	if start != "" || end != "" {
		a, errA := parseDate(start, from)
		b, errB := parseDate(end, today)
		if errA == nil && errB == nil {
			from, to = a, b
		}
	}
	return attendance.Range{
		Start:        from.Format(attendance.DateLayout),
		End:          to.Format(attendance.DateLayout),
		DepartmentID: departmentID,
	}
}

func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(attendance.DateLayout, s)
}

// Summary is the aggregate of a range.
type Summary struct {
	TotalRecords   int            `json:"total_records"`
	UniqueStudents int            `json:"unique_students"`
	ByStatus       map[string]int `json:"by_status"`
	ChartLabels    []string       `json:"chart_labels"`
	ChartData      []int          `json:"chart_data"`
	StartDate      string         `json:"start_date"`
	EndDate        string         `json:"end_date"`
}

// Summary totals records by status and by day.
func (s *Service) Summary(ctx context.Context, rg attendance.Range) (Summary, error) {
	recs, err := s.records(ctx, rg)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{
		TotalRecords: len(recs),
		ByStatus:     map[string]int{},
		ChartLabels:  []string{},
		ChartData:    []int{},
		StartDate:    rg.Start,
		EndDate:      rg.End,
	}
	students := map[int64]struct{}{}
	daily := map[string]int{}
	for _, r := range recs {
		students[r.StudentID] = struct{}{}
		out.ByStatus[r.Status]++
		daily[r.Date]++
	}
	out.UniqueStudents = len(students)
	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		out.ChartLabels = append(out.ChartLabels, d)
		out.ChartData = append(out.ChartData, daily[d])
	}
	return out, nil
}

// StudentRow is one line of the per-student report.
type StudentRow struct {
	StudentID     string  `json:"student_id"`
	Name          string  `json:"name"`
	Department    string  `json:"department"`
	Present       int     `json:"present"`
	Absent        int     `json:"absent"`
	Late          int     `json:"late"`
	Total         int     `json:"total"`
	AttendancePct float64 `json:"attendance_pct"`
}

// Students returns per-student counts sorted by name, with the share of
// present marks as a percentage rounded to one decimal.
func (s *Service) Students(ctx context.Context, rg attendance.Range) ([]StudentRow, error) {
	recs, err := s.records(ctx, rg)
	if err != nil {
		return nil, err
	}
	rows := map[int64]*StudentRow{}
	for _, r := range recs {
		row, ok := rows[r.StudentID]
		if !ok {
			row = &StudentRow{StudentID: deref(r.StudentRoll), Name: deref(r.StudentName), Department: deref(r.StudentDepartment)}
			if r.StudentName == nil {
				row.Name = "Unknown"
			}
			rows[r.StudentID] = row
		}
		row.Total++
		switch r.Status {
		case attendance.StatusAbsent:
			row.Absent++
		case attendance.StatusLate:
			row.Late++
		default:
			row.Present++
		}
	}
	out := make([]StudentRow, 0, len(rows))
	for _, row := range rows {
		if row.Total > 0 {
			row.AttendancePct = math.Round(float64(row.Present)/float64(row.Total)*1000) / 10
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// Stats are the dashboard headline numbers.
type Stats struct {
	TotalStudents    int     `json:"total_students"`
	TodayAttendance  int     `json:"today_attendance"`
	TotalDepartments int     `json:"total_departments"`
	AttendancePct    float64 `json:"attendance_pct"`
}

// Dashboard is the landing page payload.
type Dashboard struct {
	Stats       Stats               `json:"stats"`
	Recent      []attendance.Record `json:"recent_attendance"`
	ChartLabels []string            `json:"chart_labels"`
	ChartData   []int               `json:"chart_data"`
	Today       string              `json:"today"`
}

// Dashboard reports today's totals, the ten latest marks and a seven day
// trend.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	today := s.now()
	day := today.Format(attendance.DateLayout)

	students, err := s.src.CountStudents(ctx, true)
	if err != nil {
		return Dashboard{}, persistence(err)
	}
	depts, err := s.src.CountDepartments(ctx)
	if err != nil {
		return Dashboard{}, persistence(err)
	}
	first := today.AddDate(0, 0, -6)
	counts, err := s.src.CountByDate(ctx, first.Format(attendance.DateLayout), day)
	if err != nil {
		return Dashboard{}, persistence(err)
	}
	recent, err := s.src.RecentOn(ctx, day, 10)
	if err != nil {
		return Dashboard{}, persistence(err)
	}
	if recent == nil {
		recent = []attendance.Record{}
	}

	out := Dashboard{
		Stats:  Stats{TotalStudents: students, TodayAttendance: counts[day], TotalDepartments: depts},
		Recent: recent,
		Today:  today.Format("January 02, 2006"),
	}
	if students > 0 {
		out.Stats.AttendancePct = math.Round(float64(counts[day])/float64(students)*1000) / 10
	}
	for i := 0; i < 7; i++ {
		d := first.AddDate(0, 0, i)
		out.ChartLabels = append(out.ChartLabels, d.Format("Jan 02"))
		out.ChartData = append(out.ChartData, counts[d.Format(attendance.DateLayout)])
	}
	return out, nil
}

// FileName names an export of rg with the given extension.
func FileName(rg attendance.Range, ext string) string {
	return fmt.Sprintf("hostel_attendance_%s_%s.%s", rg.Start, rg.End, ext)
}

func (s *Service) records(ctx context.Context, rg attendance.Range) ([]attendance.Record, error) {
	recs, err := s.src.RecordsBetween(ctx, rg)
	if err != nil {
		return nil, persistence(err)
	}
	return recs, nil
}

func persistence(err error) error {
	return apperr.Wrap(err, apperr.KindPersistence, "load report data")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
