package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

type fakeTeacherRepo struct {
	teachers map[string]*models.Teacher
}

func newFakeTeacherRepo() *fakeTeacherRepo {
	return &fakeTeacherRepo{teachers: map[string]*models.Teacher{}}
}

func (f *fakeTeacherRepo) List(_ context.Context, _ models.TeacherFilter) ([]models.Teacher, int, error) {
	out := make([]models.Teacher, 0, len(f.teachers))
	for _, t := range f.teachers {
		out = append(out, *t)
	}
	return out, len(out), nil
}

func (f *fakeTeacherRepo) FindByID(_ context.Context, id string) (*models.Teacher, error) {
	t, ok := f.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTeacherRepo) ListByManager(_ context.Context, managerID string) ([]models.Teacher, error) {
	var out []models.Teacher
	for _, t := range f.teachers {
		if t.ManagerID != nil && *t.ManagerID == managerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTeacherRepo) Create(_ context.Context, teacher *models.Teacher) error {
	if teacher.ID == "" {
		teacher.ID = "tch-new"
	}
	cp := *teacher
	f.teachers[teacher.ID] = &cp
	return nil
}

func (f *fakeTeacherRepo) Update(_ context.Context, teacher *models.Teacher) error {
	if _, ok := f.teachers[teacher.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *teacher
	f.teachers[teacher.ID] = &cp
	return nil
}

func TestTeacherCreateResolvesManager(t *testing.T) {
	repo := newFakeTeacherRepo()
	users := &fakeUserStore{users: map[string]*models.User{
		"sup-1": {ID: "sup-1", FullName: "Malika Yusupova", Role: models.RoleSupervisor, Active: true},
	}}
	svc := NewTeacherService(repo, users, nil, nil)

	managerID := "sup-1"
	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{
		UserID:    "usr-1",
		FullName:  "  Jasur Aliyev  ",
		ManagerID: &managerID,
	})
	require.NoError(t, err)

	assert.Equal(t, "Jasur Aliyev", teacher.FullName)
	assert.True(t, teacher.Active)
	require.NotNil(t, teacher.ManagerID)
	assert.Equal(t, "sup-1", *teacher.ManagerID)
	require.NotNil(t, teacher.ManagerName)
	assert.Equal(t, "Malika Yusupova", *teacher.ManagerName)
}

func TestTeacherCreateRejectsNonSupervisorManager(t *testing.T) {
	repo := newFakeTeacherRepo()
	users := &fakeUserStore{users: map[string]*models.User{
		"usr-2": {ID: "usr-2", FullName: "Nodira Azimova", Role: models.RoleTeacher, Active: true},
	}}
	svc := NewTeacherService(repo, users, nil, nil)

	managerID := "usr-2"
	_, err := svc.Create(context.Background(), CreateTeacherRequest{
		UserID:    "usr-1",
		FullName:  "Jasur Aliyev",
		ManagerID: &managerID,
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestTeacherUpdateClearsManager(t *testing.T) {
	repo := newFakeTeacherRepo()
	managerID := "sup-1"
	managerName := "Malika Yusupova"
	repo.teachers["tch-1"] = &models.Teacher{
		ID:          "tch-1",
		UserID:      "usr-1",
		FullName:    "Jasur Aliyev",
		Active:      true,
		ManagerID:   &managerID,
		ManagerName: &managerName,
	}
	svc := NewTeacherService(repo, &fakeUserStore{users: map[string]*models.User{}}, nil, nil)

	updated, err := svc.Update(context.Background(), "tch-1", UpdateTeacherRequest{FullName: "Jasur Aliyev"})
	require.NoError(t, err)

	assert.Nil(t, updated.ManagerID)
	assert.Nil(t, updated.ManagerName)
}

func TestTeacherGetNotFound(t *testing.T) {
	svc := NewTeacherService(newFakeTeacherRepo(), &fakeUserStore{users: map[string]*models.User{}}, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
