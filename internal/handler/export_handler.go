package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilmhub/tcm-api/internal/models"
	"github.com/ilmhub/tcm-api/internal/service"
	"github.com/ilmhub/tcm-api/pkg/response"
)

// ExportHandler streams rendered CSV/PDF exports.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Schedules godoc
// @Summary Export the schedule list
// @Tags Exports
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param studentId query string false "Filter by student"
// @Param teacherId query string false "Filter by teacher"
// @Param dateFrom query string false "Start of date range (YYYY-MM-DD)"
// @Param dateTo query string false "End of date range (YYYY-MM-DD)"
// @Success 200 {file} file
// @Router /exports/schedules [get]
func (h *ExportHandler) Schedules(c *gin.Context) {
	var filter models.ScheduleFilter
	filter.StudentID = c.Query("studentId")
	filter.TeacherID = c.Query("teacherId")
	filter.SubjectID = c.Query("subjectId")
	if from := c.Query("dateFrom"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.DateFrom = &t
		}
	}
	if to := c.Query("dateTo"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			filter.DateTo = &t
		}
	}

	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	file, err := h.exports.Schedules(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveExport(c, file)
}

// StudentStatusHistory godoc
// @Summary Export a student's status history
// @Tags Exports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /exports/students/{id}/status-history [get]
func (h *ExportHandler) StudentStatusHistory(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	file, err := h.exports.StudentStatusHistory(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveExport(c, file)
}

func serveExport(c *gin.Context, file *service.ExportFile) {
	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Data(200, file.ContentType, file.Payload)
}
