package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

type clientRepository interface {
	List(ctx context.Context, filter models.ClientFilter) ([]models.Client, int, error)
	FindByID(ctx context.Context, id string) (*models.Client, error)
	Create(ctx context.Context, client *models.Client) error
	Update(ctx context.Context, client *models.Client) error
	UpdateStatus(ctx context.Context, id string, status models.LifecycleStatus) error
	SyncStudentCount(ctx context.Context, id string) error
	AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error
	CloseOpenStatusEntries(ctx context.Context, ownerID string, status models.LifecycleStatus, endDate time.Time, endedBy string) error
	ListStatusHistory(ctx context.Context, ownerID string) ([]models.StatusHistoryEntry, error)
}

// CreateClientRequest holds payload for creating clients.
type CreateClientRequest struct {
	UserID   string                 `json:"user_id" validate:"required"`
	FullName string                 `json:"full_name" validate:"required"`
	Status   models.LifecycleStatus `json:"status"`
}

// UpdateClientRequest holds payload for updating clients.
type UpdateClientRequest struct {
	FullName string `json:"full_name" validate:"required"`
}

// UpdateClientStatusRequest drives a client lifecycle status change.
type UpdateClientStatusRequest struct {
	Status        models.LifecycleStatus `json:"status" validate:"required"`
	FreezeEndDate *time.Time             `json:"freeze_end_date,omitempty"`
}

// ClientService handles guardian/payer use-cases. A client status change fans
// out across the client's students through the lifecycle engine; the cascade
// result or its failure is reported alongside the persisted status change.
type ClientService struct {
	repo      clientRepository
	cascader  clientCascader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClientService constructs the client service.
func NewClientService(repo clientRepository, cascader clientCascader, validate *validator.Validate, logger *zap.Logger) *ClientService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientService{repo: repo, cascader: cascader, validator: validate, logger: logger}
}

// List returns clients and pagination metadata.
func (s *ClientService) List(ctx context.Context, filter models.ClientFilter) ([]models.Client, *models.Pagination, error) {
	clients, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list clients")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return clients, pagination, nil
}

// Get returns a single client.
func (s *ClientService) Get(ctx context.Context, id string) (*models.Client, error) {
	client, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	return client, nil
}

// Create registers a new client, opening the first status history entry.
func (s *ClientService) Create(ctx context.Context, req CreateClientRequest, createdBy string, now time.Time) (*models.Client, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid client payload")
	}
	status := req.Status
	if status == "" {
		status = models.StatusRegular
	}
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle status")
	}

	client := &models.Client{
		UserID:   req.UserID,
		FullName: req.FullName,
		Status:   status,
	}
	if err := s.repo.Create(ctx, client); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create client")
	}

	entry := &models.StatusHistoryEntry{
		OwnerID:  client.ID,
		Status:   status,
		Date:     now,
		AddedBy:  createdBy,
		Recorded: now,
	}
	if err := s.repo.AppendStatusHistory(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record status history")
	}
	return client, nil
}

// Update modifies the mutable fields of a client record.
func (s *ClientService) Update(ctx context.Context, id string, req UpdateClientRequest) (*models.Client, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid client payload")
	}
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	client.FullName = req.FullName
	if err := s.repo.Update(ctx, client); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update client")
	}
	return client, nil
}

// UpdateStatus changes the client's lifecycle status, persisting the change
// and its history first and reporting the schedule cascade (or its failure)
// separately. The cascade error never reverts the status change.
func (s *ClientService) UpdateStatus(ctx context.Context, id string, req UpdateClientStatusRequest, updatedBy string, now time.Time) (*dto.StatusUpdateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle status")
	}

	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := client.Status
	if previous == req.Status {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "client already has this status")
	}

	if err := s.repo.UpdateStatus(ctx, client.ID, req.Status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update client status")
	}
	if err := s.repo.CloseOpenStatusEntries(ctx, client.ID, previous, now, updatedBy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close status history")
	}
	entry := &models.StatusHistoryEntry{
		OwnerID:  client.ID,
		Status:   req.Status,
		Date:     now,
		EndDate:  req.FreezeEndDate,
		AddedBy:  updatedBy,
		Recorded: now,
	}
	if err := s.repo.AppendStatusHistory(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record status history")
	}

	response := &dto.StatusUpdateResponse{Status: req.Status}

	cascade, err := s.cascader.TransitionClientStatus(ctx, client.ID, req.Status, previous, updatedBy, now)
	if err != nil {
		s.logger.Error("client schedule cascade failed after status update",
			zap.String("client_id", client.ID),
			zap.String("status", string(req.Status)),
			zap.Error(err))
		response.ScheduleError = appErrors.FromError(err).Message
		return response, nil
	}
	response.ClientCascade = cascade
	return response, nil
}

// StatusHistory returns the append-only status history of a client.
func (s *ClientService) StatusHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.repo.ListStatusHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list status history")
	}
	return history, nil
}
