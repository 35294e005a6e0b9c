package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"hostelattend/internal/attendance"
	"hostelattend/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) reportRange(c *gin.Context) attendance.Range {
	return h.reports.Range(c.Query("start"), c.Query("end"), queryInt64(c, "department_id"))
}

// Summary totals a date range, defaulting to the last 30 days.
func (h *Handler) Summary(c *gin.Context) {
	out, err := h.reports.Summary(c.Request.Context(), h.reportRange(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) StudentReport(c *gin.Context) {
	out, err := h.reports.Students(c.Request.Context(), h.reportRange(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ExportCSV(c *gin.Context) {
	rg := h.reportRange(c)
	var buf bytes.Buffer
	if err := h.reports.WriteCSV(c.Request.Context(), &buf, rg); err != nil {
		h.fail(c, err)
		return
	}
	h.download(c, "text/csv", report.FileName(rg, "csv"), buf.Bytes())
}

func (h *Handler) ExportXLSX(c *gin.Context) {
	rg := h.reportRange(c)
	var buf bytes.Buffer
	if err := h.reports.WriteXLSX(c.Request.Context(), &buf, rg); err != nil {
		h.fail(c, err)
		return
	}
	h.download(c, xlsxContentType, report.FileName(rg, "xlsx"), buf.Bytes())
}

func (h *Handler) download(c *gin.Context, contentType, name string, data []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) Dashboard(c *gin.Context) {
	out, err := h.reports.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
