package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/models"
)

func (f *fakeScheduleStore) List(_ context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error) {
	var out []models.Schedule
	for _, s := range f.sorted() {
		if filter.StudentID != "" && !s.HasStudent(filter.StudentID) {
			continue
		}
		if filter.SubjectID != "" && s.SubjectID != filter.SubjectID {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (f *fakeScheduleStore) FindByID(_ context.Context, id string) (*models.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeScheduleStore) FindOverlapping(_ context.Context, teacherID string, classDate time.Time, startTime, endTime, excludeID string) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range f.sorted() {
		if s.ID == excludeID {
			continue
		}
		if s.TeacherID == nil || *s.TeacherID != teacherID || !s.ClassDate.Equal(classDate) {
			continue
		}
		if s.Status == models.ScheduleCancelled || s.Status == models.ScheduleCompleted {
			continue
		}
		if s.StartTime < endTime && s.EndTime > startTime {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) Update(_ context.Context, schedule *models.Schedule) error {
	if _, ok := f.schedules[schedule.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *schedule
	f.schedules[schedule.ID] = &cp
	return nil
}

func newScheduleFixture() (*ScheduleService, *fakeScheduleStore) {
	store := newFakeScheduleStore()
	return NewScheduleService(store, nil, nil), store
}

func validCreateRequest() CreateScheduleRequest {
	return CreateScheduleRequest{
		StudentIDs:        []string{"stu-1"},
		StudentNames:      "Aisha Karimova",
		TeacherID:         teacherRef("tch-1"),
		TeacherName:       "Jasur Aliyev",
		SubjectID:         "sub-math",
		SubjectName:       "Mathematics",
		ClassDate:         date(2025, time.June, 9),
		StartTime:         "10:00",
		EndTime:           "11:00",
		IsRecurring:       true,
		RecurrencePattern: models.RecurrenceWeekly,
	}
}

func TestScheduleCreate(t *testing.T) {
	svc, store := newScheduleFixture()

	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Monday", created.Day)
	assert.Equal(t, models.ScheduleScheduled, created.Status)
	assert.Equal(t, models.SessionPending, created.SessionStatus)
	assert.Len(t, store.schedules, 1)
}

func TestScheduleCreateRejectsExactDuplicate(t *testing.T) {
	svc, _ := newScheduleFixture()

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), validCreateRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestScheduleCreateRejectsTeacherOverlap(t *testing.T) {
	svc, _ := newScheduleFixture()

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	overlapping := validCreateRequest()
	overlapping.StudentIDs = []string{"stu-2"}
	overlapping.StudentNames = "Bilol Karimov"
	overlapping.StartTime = "10:30"
	overlapping.EndTime = "11:30"
	_, err = svc.Create(context.Background(), overlapping)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")
}

func TestScheduleCreateValidatesRecurrence(t *testing.T) {
	svc, _ := newScheduleFixture()

	req := validCreateRequest()
	req.RecurrencePattern = models.RecurrenceCustom
	req.CustomDays = nil
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one day")

	req = validCreateRequest()
	req.RecurrencePattern = ""
	_, err = svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recurrence pattern")

	req = validCreateRequest()
	req.StartTime = "11:00"
	req.EndTime = "10:00"
	_, err = svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end time")
}

func TestScheduleUpdateMarksRescheduled(t *testing.T) {
	svc, store := newScheduleFixture()

	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	req := UpdateScheduleRequest{
		StudentIDs:        created.StudentIDs,
		StudentNames:      created.StudentNames,
		TeacherID:         created.TeacherID,
		TeacherName:       created.TeacherName,
		SubjectID:         created.SubjectID,
		SubjectName:       created.SubjectName,
		ClassDate:         date(2025, time.June, 10),
		StartTime:         created.StartTime,
		EndTime:           created.EndTime,
		IsRecurring:       created.IsRecurring,
		RecurrencePattern: created.RecurrencePattern,
	}
	updated, err := svc.Update(context.Background(), created.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleRescheduled, updated.Status)
	assert.Equal(t, "Tuesday", updated.Day)
	assert.Equal(t, models.ScheduleRescheduled, store.schedules[created.ID].Status)
}

func TestSessionLifecycleGeneratesNextOccurrence(t *testing.T) {
	svc, store := newScheduleFixture()

	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.MarkAvailable(context.Background(), created.ID)
	require.NoError(t, err)

	startAt := time.Date(2025, time.June, 9, 10, 0, 0, 0, time.UTC)
	started, err := svc.StartSession(context.Background(), created.ID, startAt)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, started.SessionStatus)
	require.NotNil(t, started.ClassStartedAt)

	endAt := startAt.Add(time.Hour)
	result, err := svc.EndSession(context.Background(), created.ID, endAt)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, result.Schedule.SessionStatus)
	assert.Equal(t, models.ScheduleCompleted, result.Schedule.Status)
	require.True(t, result.NextCreated)
	require.NotNil(t, result.NextSchedule)
	assert.Equal(t, date(2025, time.June, 16), result.NextSchedule.ClassDate)
	require.NotNil(t, result.NextSchedule.RecurrenceParentID)
	assert.Equal(t, created.ID, *result.NextSchedule.RecurrenceParentID)
	assert.Len(t, store.schedules, 2)

	// Ending twice is rejected; the session already completed.
	_, err = svc.EndSession(context.Background(), created.ID, endAt)
	require.Error(t, err)
}

func TestEndSessionNonRecurringCreatesNothing(t *testing.T) {
	svc, store := newScheduleFixture()

	req := validCreateRequest()
	req.IsRecurring = false
	req.RecurrencePattern = ""
	created, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	startAt := time.Date(2025, time.June, 9, 10, 0, 0, 0, time.UTC)
	_, err = svc.StartSession(context.Background(), created.ID, startAt)
	require.NoError(t, err)

	result, err := svc.EndSession(context.Background(), created.ID, startAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, result.NextCreated)
	assert.Len(t, store.schedules, 1)
}

func TestScheduleDeleteUnknown(t *testing.T) {
	svc, _ := newScheduleFixture()
	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
