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

func TestClientRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClientRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "full_name", "status", "number_of_students", "created_at", "updated_at"}).
		AddRow("cli-1", "usr-1", "Parent A", "regular", 2, time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM clients WHERE 1=1 AND status = \\$1 ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WithArgs(models.StatusRegular).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM clients WHERE 1=1 AND status = $1")).
		WithArgs(models.StatusRegular).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.ClientFilter{Status: models.StatusRegular})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientRepositorySyncStudentCount(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClientRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE clients SET number_of_students = (SELECT COUNT(*) FROM students WHERE client_id = $1), updated_at = $2 WHERE id = $1")).
		WithArgs("cli-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SyncStudentCount(context.Background(), "cli-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClientRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE clients SET status = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(models.StatusFreeze, sqlmock.AnyArg(), "cli-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "cli-1", models.StatusFreeze))
	assert.NoError(t, mock.ExpectationsWereMet())
}
