package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

type fakeExportScheduleRepo struct {
	schedules []models.Schedule
}

func (f *fakeExportScheduleRepo) List(_ context.Context, _ models.ScheduleFilter) ([]models.Schedule, int, error) {
	return f.schedules, len(f.schedules), nil
}

type fakeExportStudentRepo struct {
	student *models.Student
	history []models.StatusHistoryEntry
}

func (f *fakeExportStudentRepo) FindByID(_ context.Context, id string) (*models.Student, error) {
	if f.student == nil || f.student.ID != id {
		return nil, sql.ErrNoRows
	}
	cp := *f.student
	return &cp, nil
}

func (f *fakeExportStudentRepo) ListStatusHistory(_ context.Context, _ string) ([]models.StatusHistoryEntry, error) {
	return f.history, nil
}

func TestExportSchedulesCSV(t *testing.T) {
	schedules := &fakeExportScheduleRepo{schedules: []models.Schedule{
		{
			ClassDate:     date(2025, time.June, 9),
			Day:           "Monday",
			StartTime:     "14:00",
			EndTime:       "15:00",
			StudentNames:  "Aida Karimova",
			TeacherName:   "Jasur Aliyev",
			SubjectName:   "Math",
			Status:        models.ScheduleScheduled,
			SessionStatus: models.SessionPending,
		},
	}}
	svc := NewExportService(schedules, &fakeExportStudentRepo{}, ExportConfig{Enabled: true}, nil)

	file, err := svc.Schedules(context.Background(), models.ScheduleFilter{}, ExportFormatCSV)
	require.NoError(t, err)

	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasPrefix(file.Filename, "schedules_"))
	body := string(file.Payload)
	assert.Contains(t, body, "Aida Karimova")
	assert.Contains(t, body, "14:00-15:00")
}

func TestExportStatusHistoryPDF(t *testing.T) {
	end := date(2025, time.July, 1)
	students := &fakeExportStudentRepo{
		student: &models.Student{ID: "stu-1", FullName: "Aida Karimova", Status: models.StatusFreeze},
		history: []models.StatusHistoryEntry{
			{OwnerID: "stu-1", Status: models.StatusRegular, Date: date(2025, time.January, 10), AddedBy: "admin-1", Recorded: date(2025, time.January, 10)},
			{OwnerID: "stu-1", Status: models.StatusFreeze, Date: date(2025, time.June, 9), EndDate: &end, AddedBy: "admin-1", Recorded: date(2025, time.June, 9)},
		},
	}
	svc := NewExportService(&fakeExportScheduleRepo{}, students, ExportConfig{Enabled: true, CompanyName: "Ilm Hub"}, nil)

	file, err := svc.StudentStatusHistory(context.Background(), "stu-1", ExportFormatPDF)
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, strings.HasPrefix(file.Filename, "status_history_"))
	assert.NotEmpty(t, file.Payload)
}

func TestExportDisabled(t *testing.T) {
	svc := NewExportService(&fakeExportScheduleRepo{}, &fakeExportStudentRepo{}, ExportConfig{Enabled: false}, nil)

	_, err := svc.Schedules(context.Background(), models.ScheduleFilter{}, ExportFormatCSV)
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestExportUnknownFormat(t *testing.T) {
	svc := NewExportService(&fakeExportScheduleRepo{}, &fakeExportStudentRepo{}, ExportConfig{Enabled: true}, nil)

	_, err := svc.Schedules(context.Background(), models.ScheduleFilter{}, ExportFormat("xlsx"))
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
