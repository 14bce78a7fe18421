package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func scheduleRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "student_ids", "student_names", "teacher_id", "teacher_name",
		"subject_id", "subject_name", "class_date", "start_time", "end_time",
		"day", "is_recurring", "recurrence_pattern", "custom_days",
		"recurrence_parent_id", "status", "session_status",
		"class_started_at", "class_ended_at", "created_at", "updated_at",
	}).AddRow(
		"sch-1", pq.StringArray{"stu-1"}, "Alice", "tch-1", "Teacher A",
		"sub-1", "Math", now, "14:00", "15:00",
		"Monday", true, "weekly", nil,
		nil, "scheduled", "pending",
		nil, nil, now, now,
	)
}

func TestScheduleRepositoryListFiltersByTeacher(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery("SELECT .* FROM schedules WHERE 1=1 AND teacher_id = \\$1 ORDER BY class_date ASC, start_time ASC LIMIT 20 OFFSET 0").
		WithArgs("tch-1").
		WillReturnRows(scheduleRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedules WHERE 1=1 AND teacher_id = $1")).
		WithArgs("tch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.ScheduleFilter{TeacherID: "tch-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryListRejectsUnsafeSortColumn(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	// A sort column outside the allow-list falls back to class_date.
	mock.ExpectQuery("SELECT .* FROM schedules WHERE 1=1 ORDER BY class_date ASC, start_time ASC LIMIT 20 OFFSET 0").
		WillReturnRows(scheduleRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedules WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, _, err := repo.List(context.Background(), models.ScheduleFilter{SortBy: "1; DROP TABLE schedules"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryExistsDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	teacherID := "tch-1"
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedules WHERE student_ids = $1 AND subject_id = $2 AND class_date = $3 AND start_time = $4 AND end_time = $5 AND teacher_id = $6")).
		WithArgs(sqlmock.AnyArg(), "sub-1", date, "14:00", "15:00", teacherID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsDuplicate(context.Background(), models.DuplicateKey{
		StudentIDs: []string{"stu-1"},
		TeacherID:  &teacherID,
		SubjectID:  "sub-1",
		ClassDate:  date,
		StartTime:  "14:00",
		EndTime:    "15:00",
	})
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryExistsDuplicateNullTeacher(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedules WHERE student_ids = $1 AND subject_id = $2 AND class_date = $3 AND start_time = $4 AND end_time = $5 AND teacher_id IS NULL")).
		WithArgs(sqlmock.AnyArg(), "sub-1", date, "14:00", "15:00").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	exists, err := repo.ExistsDuplicate(context.Background(), models.DuplicateKey{
		StudentIDs: []string{"stu-1"},
		SubjectID:  "sub-1",
		ClassDate:  date,
		StartTime:  "14:00",
		EndTime:    "15:00",
	})
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositorySetRecurringForStudents(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET is_recurring = $1, updated_at = $2 WHERE student_ids && $3 AND is_recurring = $4")).
		WithArgs(false, sqlmock.AnyArg(), sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.SetRecurringForStudents(context.Background(), []string{"stu-1", "stu-2"}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositorySetRecurringNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET is_recurring = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(true, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetRecurring(context.Background(), "missing", true)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryDetachAndRestoreTeacher(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET teacher_id = NULL, teacher_name = $1, updated_at = $2 WHERE id = $3")).
		WithArgs("Teacher A (Inactive Teacher)", sqlmock.AnyArg(), "sch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DetachTeacher(context.Background(), "sch-1", "Teacher A (Inactive Teacher)"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET teacher_id = $1, teacher_name = $2, updated_at = $3 WHERE id = $4")).
		WithArgs("tch-1", "Teacher A", sqlmock.AnyArg(), "sch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RestoreTeacher(context.Background(), "sch-1", "tch-1", "Teacher A"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryFindNearestPendingByChain(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT .* FROM schedules WHERE \\(recurrence_parent_id = \\$1 OR id = \\$1\\) AND class_date >= \\$2 AND status = \\$3 AND session_status = \\$4 ORDER BY class_date ASC, start_time ASC LIMIT 1").
		WithArgs("root-1", from, models.ScheduleScheduled, models.SessionPending).
		WillReturnRows(scheduleRows())

	sched, err := repo.FindNearestPendingByChain(context.Background(), "root-1", from)
	require.NoError(t, err)
	assert.Equal(t, "sch-1", sched.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
