package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"hostelattend/internal/attendance"
)

// Columns is the fixed column order of attendance exports.
var Columns = []string{
	"Student ID", "Name", "Department", "Hostel Block", "Date", "Time In", "Status", "Confidence (%)", "Marked By",
}

func exportRow(r attendance.Record) []string {
	conf := ""
	if r.Confidence != nil && *r.Confidence != 0 {
		conf = fmt.Sprintf("%.1f", *r.Confidence*100)
	}
	return []string{
		deref(r.StudentRoll),
		deref(r.StudentName),
		deref(r.StudentDepartment),
		deref(r.DepartmentName),
		r.Date,
		deref(r.TimeIn),
		r.Status,
		conf,
		r.MarkedBy,
	}
}

// WriteCSV writes a header and one row per record in rg.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer, rg attendance.Range) error {
	recs, err := s.records(ctx, rg)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write(exportRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the same table as WriteCSV as an Excel workbook.
func (s *Service) WriteXLSX(ctx context.Context, w io.Writer, rg attendance.Range) error {
	recs, err := s.records(ctx, rg)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Attendance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range recs {
		cells := exportRow(r)
		row := make([]any, len(cells))
		for j, c := range cells {
			row[j] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
