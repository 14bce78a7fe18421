package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/models"
)

func TestStudentRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "client_id", "full_name", "status", "created_at", "updated_at"}).
		AddRow("stu-1", "usr-1", "cli-1", "Alice", "regular", time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM students WHERE 1=1 AND full_name ILIKE \\$1 AND client_id = \\$2 ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WithArgs("%ali%", "cli-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE 1=1 AND full_name ILIKE $1 AND client_id = $2")).
		WithArgs("%ali%", "cli-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.StudentFilter{Search: "ali", ClientID: "cli-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT .* FROM students WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryStatusHistoryRoundTrip(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO student_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.StatusHistoryEntry{
		OwnerID: "stu-1",
		Status:  models.StatusFreeze,
		Date:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		AddedBy: "adm-1",
	}
	require.NoError(t, repo.AppendStatusHistory(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Recorded.IsZero())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_status_history SET end_date = $1, ended_by = $2 WHERE owner_id = $3 AND status = $4 AND end_date IS NULL")).
		WithArgs(sqlmock.AnyArg(), "adm-1", "stu-1", models.StatusFreeze).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CloseOpenStatusEntries(context.Background(), "stu-1", models.StatusFreeze, time.Now(), "adm-1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositorySubjectEnrollment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM student_subjects WHERE student_id = $1 AND subject_id = $2")).
		WithArgs("stu-1", "sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	enrolled, err := repo.HasSubject(context.Background(), "stu-1", "sub-1")
	require.NoError(t, err)
	assert.False(t, enrolled)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_subjects (student_id, subject_id) VALUES ($1, $2) ON CONFLICT DO NOTHING")).
		WithArgs("stu-1", "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AddSubject(context.Background(), "stu-1", "sub-1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryMarkAndRestoreAssignment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	endDate := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_teacher_assignments SET teacher_id = NULL, teacher_name = $1, is_temporary = TRUE, end_date = $2, updated_at = $3 WHERE id = $4")).
		WithArgs("Teacher A (Inactive Teacher)", endDate, sqlmock.AnyArg(), "asg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkAssignmentTemporary(context.Background(), "asg-1", "Teacher A (Inactive Teacher)", endDate))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_teacher_assignments SET teacher_id = $1, teacher_name = $2, is_temporary = FALSE, end_date = NULL, updated_at = $3 WHERE id = $4")).
		WithArgs("tch-1", "Teacher A", sqlmock.AnyArg(), "asg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RestoreAssignment(context.Background(), "asg-1", "tch-1", "Teacher A"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
