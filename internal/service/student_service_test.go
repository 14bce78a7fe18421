package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

type fakeStudentRepo struct {
	students map[string]*models.Student
	history  []models.StatusHistoryEntry
	subjects map[string][]string
	closed   []models.LifecycleStatus

	statusErr error
}

func newFakeStudentRepo() *fakeStudentRepo {
	return &fakeStudentRepo{
		students: map[string]*models.Student{},
		subjects: map[string][]string{},
	}
}

func (f *fakeStudentRepo) List(_ context.Context, _ models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(f.students))
	for _, s := range f.students {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (f *fakeStudentRepo) FindByID(_ context.Context, id string) (*models.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStudentRepo) Create(_ context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "stu-new"
	}
	cp := *student
	f.students[student.ID] = &cp
	return nil
}

func (f *fakeStudentRepo) Update(_ context.Context, student *models.Student) error {
	if _, ok := f.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *student
	f.students[student.ID] = &cp
	return nil
}

func (f *fakeStudentRepo) UpdateStatus(_ context.Context, id string, status models.LifecycleStatus) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	s, ok := f.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = status
	return nil
}

func (f *fakeStudentRepo) AppendStatusHistory(_ context.Context, entry *models.StatusHistoryEntry) error {
	f.history = append(f.history, *entry)
	return nil
}

func (f *fakeStudentRepo) CloseOpenStatusEntries(_ context.Context, _ string, status models.LifecycleStatus, _ time.Time, _ string) error {
	f.closed = append(f.closed, status)
	return nil
}

func (f *fakeStudentRepo) ListStatusHistory(_ context.Context, ownerID string) ([]models.StatusHistoryEntry, error) {
	var out []models.StatusHistoryEntry
	for _, e := range f.history {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStudentRepo) HasSubject(_ context.Context, studentID, subjectID string) (bool, error) {
	for _, id := range f.subjects[studentID] {
		if id == subjectID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStudentRepo) AddSubject(_ context.Context, studentID, subjectID string) error {
	f.subjects[studentID] = append(f.subjects[studentID], subjectID)
	return nil
}

type fakeStudentCascader struct {
	result *dto.StudentTransitionResult
	err    error
	calls  int
}

func (f *fakeStudentCascader) TransitionStudentStatus(_ context.Context, _ string, _, _ models.LifecycleStatus, _ string, _ time.Time) (*dto.StudentTransitionResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeClientSync struct {
	synced []string
}

func (f *fakeClientSync) SyncStudentCount(_ context.Context, id string) error {
	f.synced = append(f.synced, id)
	return nil
}

func TestStudentCreateOpensHistory(t *testing.T) {
	repo := newFakeStudentRepo()
	sync := &fakeClientSync{}
	svc := NewStudentService(repo, &fakeStudentCascader{}, sync, nil, nil)
	now := date(2025, time.June, 2)

	clientID := "cli-1"
	student, err := svc.Create(context.Background(), CreateStudentRequest{
		UserID:   "usr-1",
		ClientID: &clientID,
		FullName: "Aida Karimova",
	}, "admin-1", now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrial, student.Status)

	require.Len(t, repo.history, 1)
	assert.Equal(t, student.ID, repo.history[0].OwnerID)
	assert.Equal(t, models.StatusTrial, repo.history[0].Status)
	assert.Equal(t, "admin-1", repo.history[0].AddedBy)
	assert.Equal(t, []string{"cli-1"}, sync.synced)
}

func TestStudentUpdateSyncsBothClients(t *testing.T) {
	repo := newFakeStudentRepo()
	oldClient := "cli-old"
	repo.students["stu-1"] = &models.Student{ID: "stu-1", UserID: "usr-1", ClientID: &oldClient, FullName: "Aida", Status: models.StatusRegular}
	sync := &fakeClientSync{}
	svc := NewStudentService(repo, &fakeStudentCascader{}, sync, nil, nil)

	newClient := "cli-new"
	_, err := svc.Update(context.Background(), "stu-1", UpdateStudentRequest{FullName: "Aida K.", ClientID: &newClient})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"cli-old", "cli-new"}, sync.synced)
}

func TestStudentUpdateStatusPersistsBeforeCascade(t *testing.T) {
	repo := newFakeStudentRepo()
	repo.students["stu-1"] = &models.Student{ID: "stu-1", UserID: "usr-1", FullName: "Aida", Status: models.StatusRegular}
	cascader := &fakeStudentCascader{result: &dto.StudentTransitionResult{
		SchedulesUpdated: 2,
		StatusChange:     "regular -> freeze",
	}}
	svc := NewStudentService(repo, cascader, nil, nil, nil)
	now := date(2025, time.June, 9)

	end := date(2025, time.July, 1)
	resp, err := svc.UpdateStatus(context.Background(), "stu-1", UpdateStudentStatusRequest{
		Status:        models.StatusFreeze,
		FreezeEndDate: &end,
	}, "admin-1", now)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFreeze, resp.Status)
	require.NotNil(t, resp.Schedules)
	assert.Equal(t, 2, resp.Schedules.SchedulesUpdated)
	assert.Empty(t, resp.ScheduleError)

	assert.Equal(t, models.StatusFreeze, repo.students["stu-1"].Status)
	assert.Equal(t, []models.LifecycleStatus{models.StatusRegular}, repo.closed)
	require.Len(t, repo.history, 1)
	assert.Equal(t, models.StatusFreeze, repo.history[0].Status)
	require.NotNil(t, repo.history[0].EndDate)
	assert.Equal(t, end, *repo.history[0].EndDate)
	assert.Equal(t, 1, cascader.calls)
}

func TestStudentUpdateStatusCascadeFailureKeepsStatus(t *testing.T) {
	repo := newFakeStudentRepo()
	repo.students["stu-1"] = &models.Student{ID: "stu-1", UserID: "usr-1", FullName: "Aida", Status: models.StatusRegular}
	cascader := &fakeStudentCascader{err: errors.New("schedule store unavailable")}
	svc := NewStudentService(repo, cascader, nil, nil, nil)

	resp, err := svc.UpdateStatus(context.Background(), "stu-1", UpdateStudentStatusRequest{
		Status: models.StatusDrop,
	}, "admin-1", date(2025, time.June, 9))
	require.NoError(t, err)

	// The status change stays even though the cascade failed.
	assert.Equal(t, models.StatusDrop, repo.students["stu-1"].Status)
	assert.Equal(t, models.StatusDrop, resp.Status)
	assert.Nil(t, resp.Schedules)
	assert.NotEmpty(t, resp.ScheduleError)
}

func TestStudentUpdateStatusRejectsSameStatus(t *testing.T) {
	repo := newFakeStudentRepo()
	repo.students["stu-1"] = &models.Student{ID: "stu-1", UserID: "usr-1", FullName: "Aida", Status: models.StatusFreeze}
	cascader := &fakeStudentCascader{}
	svc := NewStudentService(repo, cascader, nil, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "stu-1", UpdateStudentStatusRequest{
		Status: models.StatusFreeze,
	}, "admin-1", date(2025, time.June, 9))
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	assert.Zero(t, cascader.calls)
	assert.Empty(t, repo.history)
}

func TestStudentEnrollSubjectRejectsDuplicate(t *testing.T) {
	repo := newFakeStudentRepo()
	repo.students["stu-1"] = &models.Student{ID: "stu-1", UserID: "usr-1", FullName: "Aida", Status: models.StatusRegular}
	svc := NewStudentService(repo, &fakeStudentCascader{}, nil, nil, nil)

	require.NoError(t, svc.EnrollSubject(context.Background(), "stu-1", "sub-math"))

	err := svc.EnrollSubject(context.Background(), "stu-1", "sub-math")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, []string{"sub-math"}, repo.subjects["stu-1"])
}
