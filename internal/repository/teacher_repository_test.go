package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/models"
)

func TestTeacherRepositoryListByActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	active := true
	rows := sqlmock.NewRows([]string{"id", "user_id", "full_name", "phone", "expertise", "active", "manager_id", "manager_name", "end_date", "created_at", "updated_at"}).
		AddRow("tch-1", "usr-1", "Teacher A", nil, nil, true, nil, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM teachers WHERE 1=1 AND active = \\$1 ORDER BY full_name ASC LIMIT 20 OFFSET 0").
		WithArgs(true).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teachers WHERE 1=1 AND active = $1")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.TeacherFilter{Active: &active})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherRepositoryCountByManagerMarker(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teachers WHERE manager_id IS NULL AND manager_name = $1")).
		WithArgs("Supervisor B (Inactive Supervisor)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountByManagerMarker(context.Background(), "Supervisor B (Inactive Supervisor)")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherRepositorySetActiveAndDetachManager(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	endDate := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET active = $1, end_date = $2, updated_at = $3 WHERE id = $4")).
		WithArgs(false, &endDate, sqlmock.AnyArg(), "tch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetActive(context.Background(), "tch-1", false, &endDate))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET manager_id = NULL, manager_name = $1, updated_at = $2 WHERE id = $3")).
		WithArgs("Supervisor B (Inactive Supervisor)", sqlmock.AnyArg(), "tch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DetachManager(context.Background(), "tch-1", "Supervisor B (Inactive Supervisor)"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
