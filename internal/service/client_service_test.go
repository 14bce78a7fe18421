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

type fakeClientRepo struct {
	clients map[string]*models.Client
	history []models.StatusHistoryEntry
	closed  []models.LifecycleStatus
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{clients: map[string]*models.Client{}}
}

func (f *fakeClientRepo) List(_ context.Context, _ models.ClientFilter) ([]models.Client, int, error) {
	out := make([]models.Client, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeClientRepo) FindByID(_ context.Context, id string) (*models.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClientRepo) Create(_ context.Context, client *models.Client) error {
	if client.ID == "" {
		client.ID = "cli-new"
	}
	cp := *client
	f.clients[client.ID] = &cp
	return nil
}

func (f *fakeClientRepo) Update(_ context.Context, client *models.Client) error {
	if _, ok := f.clients[client.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *client
	f.clients[client.ID] = &cp
	return nil
}

func (f *fakeClientRepo) UpdateStatus(_ context.Context, id string, status models.LifecycleStatus) error {
	c, ok := f.clients[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Status = status
	return nil
}

func (f *fakeClientRepo) SyncStudentCount(_ context.Context, _ string) error { return nil }

func (f *fakeClientRepo) AppendStatusHistory(_ context.Context, entry *models.StatusHistoryEntry) error {
	f.history = append(f.history, *entry)
	return nil
}

func (f *fakeClientRepo) CloseOpenStatusEntries(_ context.Context, _ string, status models.LifecycleStatus, _ time.Time, _ string) error {
	f.closed = append(f.closed, status)
	return nil
}

func (f *fakeClientRepo) ListStatusHistory(_ context.Context, ownerID string) ([]models.StatusHistoryEntry, error) {
	var out []models.StatusHistoryEntry
	for _, e := range f.history {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestClientCreateDefaultsToRegular(t *testing.T) {
	repo := newFakeClientRepo()
	svc := NewClientService(repo, &fakeCascader{}, nil, nil)

	client, err := svc.Create(context.Background(), CreateClientRequest{
		UserID:   "usr-1",
		FullName: "Dilshod Rahimov",
	}, "admin-1", date(2025, time.June, 2))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegular, client.Status)

	require.Len(t, repo.history, 1)
	assert.Equal(t, client.ID, repo.history[0].OwnerID)
	assert.Equal(t, models.StatusRegular, repo.history[0].Status)
}

func TestClientUpdateStatusReportsCascade(t *testing.T) {
	repo := newFakeClientRepo()
	repo.clients["cli-1"] = &models.Client{ID: "cli-1", UserID: "usr-1", FullName: "Dilshod", Status: models.StatusRegular}
	cascader := &fakeCascader{result: &dto.ClientTransitionResult{
		TotalSchedulesUpdated: 3,
		TotalStudentsAffected: 2,
	}}
	svc := NewClientService(repo, cascader, nil, nil)
	now := date(2025, time.June, 9)

	resp, err := svc.UpdateStatus(context.Background(), "cli-1", UpdateClientStatusRequest{
		Status: models.StatusFreeze,
	}, "admin-1", now)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFreeze, resp.Status)
	require.NotNil(t, resp.ClientCascade)
	assert.Equal(t, 3, resp.ClientCascade.TotalSchedulesUpdated)
	assert.Equal(t, models.StatusFreeze, repo.clients["cli-1"].Status)
	assert.Equal(t, []models.LifecycleStatus{models.StatusRegular}, repo.closed)
	assert.Equal(t, 1, cascader.calls)
}

func TestClientUpdateStatusCascadeFailureKeepsStatus(t *testing.T) {
	repo := newFakeClientRepo()
	repo.clients["cli-1"] = &models.Client{ID: "cli-1", UserID: "usr-1", FullName: "Dilshod", Status: models.StatusRegular}
	cascader := &fakeCascader{err: errors.New("schedule store unavailable")}
	svc := NewClientService(repo, cascader, nil, nil)

	resp, err := svc.UpdateStatus(context.Background(), "cli-1", UpdateClientStatusRequest{
		Status: models.StatusDrop,
	}, "admin-1", date(2025, time.June, 9))
	require.NoError(t, err)

	assert.Equal(t, models.StatusDrop, repo.clients["cli-1"].Status)
	assert.Nil(t, resp.ClientCascade)
	assert.NotEmpty(t, resp.ScheduleError)
}

func TestClientUpdateStatusRejectsSameStatus(t *testing.T) {
	repo := newFakeClientRepo()
	repo.clients["cli-1"] = &models.Client{ID: "cli-1", UserID: "usr-1", FullName: "Dilshod", Status: models.StatusDrop}
	cascader := &fakeCascader{}
	svc := NewClientService(repo, cascader, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "cli-1", UpdateClientStatusRequest{
		Status: models.StatusDrop,
	}, "admin-1", date(2025, time.June, 9))
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	assert.Zero(t, cascader.calls)
}
