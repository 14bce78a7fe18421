package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
	"github.com/ilmhub/tcm-api/pkg/export"
)

type exportScheduleRepo interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error)
}

type exportStudentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListStatusHistory(ctx context.Context, ownerID string) ([]models.StatusHistoryEntry, error)
}

// ExportFormat enumerates supported export renderings.
type ExportFormat string

// Supported export formats.
const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Enabled     bool
	MaxRows     int
	CompanyName string
}

// ExportFile is a rendered export ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders schedule and status-history datasets as CSV or PDF.
// Exports are synchronous; callers stream the returned payload directly.
type ExportService struct {
	schedules exportScheduleRepo
	students  exportStudentRepo
	csv       csvRenderer
	pdf       pdfRenderer
	cfg       ExportConfig
	logger    *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(schedules exportScheduleRepo, students exportStudentRepo, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 10000
	}
	return &ExportService{
		schedules: schedules,
		students:  students,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Schedules renders the schedule list matching the filter.
func (s *ExportService) Schedules(ctx context.Context, filter models.ScheduleFilter, format ExportFormat) (*ExportFile, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "exports are disabled")
	}
	filter.Page = 1
	filter.PageSize = s.cfg.MaxRows
	schedules, total, err := s.schedules.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedules for export")
	}
	if total > s.cfg.MaxRows {
		s.logger.Warn("schedule export truncated",
			zap.Int("total", total),
			zap.Int("max_rows", s.cfg.MaxRows))
	}

	rows := make([]map[string]string, 0, len(schedules))
	for _, sch := range schedules {
		rows = append(rows, map[string]string{
			"Date":     sch.ClassDate.Format("2006-01-02"),
			"Day":      sch.Day,
			"Time":     fmt.Sprintf("%s-%s", sch.StartTime, sch.EndTime),
			"Students": sch.StudentNames,
			"Teacher":  sch.TeacherName,
			"Subject":  sch.SubjectName,
			"Status":   string(sch.Status),
			"Session":  string(sch.SessionStatus),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Day", "Time", "Students", "Teacher", "Subject", "Status", "Session"},
		Rows:    rows,
	}
	return s.render(dataset, "schedules", "Schedules", format)
}

// StudentStatusHistory renders one student's lifecycle history.
func (s *ExportService) StudentStatusHistory(ctx context.Context, studentID string, format ExportFormat) (*ExportFile, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "exports are disabled")
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	history, err := s.students.ListStatusHistory(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status history for export")
	}

	rows := make([]map[string]string, 0, len(history))
	for _, entry := range history {
		rows = append(rows, map[string]string{
			"Status":   string(entry.Status),
			"From":     entry.Date.Format("2006-01-02"),
			"To":       formatOptionalDate(entry.EndDate),
			"Added By": entry.AddedBy,
			"Recorded": entry.Recorded.UTC().Format(time.RFC3339),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Status", "From", "To", "Added By", "Recorded"},
		Rows:    rows,
	}
	title := fmt.Sprintf("Status History - %s", student.FullName)
	return s.render(dataset, "status_history", title, format)
}

func (s *ExportService) render(dataset export.Dataset, slug, title string, format ExportFormat) (*ExportFile, error) {
	if s.cfg.CompanyName != "" {
		title = fmt.Sprintf("%s - %s", s.cfg.CompanyName, title)
	}
	timestamp := time.Now().UTC().Format("20060102_150405")

	switch format {
	case ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("%s_%s.csv", slug, timestamp),
			ContentType: "text/csv",
			Payload:     payload,
		}, nil
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("%s_%s.pdf", slug, timestamp),
			ContentType: "application/pdf",
			Payload:     payload,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", strings.TrimSpace(string(format))))
	}
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
