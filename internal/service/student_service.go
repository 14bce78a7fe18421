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

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	UpdateStatus(ctx context.Context, id string, status models.LifecycleStatus) error
	AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error
	CloseOpenStatusEntries(ctx context.Context, ownerID string, status models.LifecycleStatus, endDate time.Time, endedBy string) error
	ListStatusHistory(ctx context.Context, ownerID string) ([]models.StatusHistoryEntry, error)
	HasSubject(ctx context.Context, studentID, subjectID string) (bool, error)
	AddSubject(ctx context.Context, studentID, subjectID string) error
}

// studentCascader is the slice of the lifecycle engine used on status updates.
type studentCascader interface {
	TransitionStudentStatus(ctx context.Context, studentID string, newStatus, previousStatus models.LifecycleStatus, updatedBy string, now time.Time) (*dto.StudentTransitionResult, error)
}

type studentClientSync interface {
	SyncStudentCount(ctx context.Context, id string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	UserID   string                 `json:"user_id" validate:"required"`
	ClientID *string                `json:"client_id"`
	FullName string                 `json:"full_name" validate:"required"`
	Status   models.LifecycleStatus `json:"status"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	FullName string  `json:"full_name" validate:"required"`
	ClientID *string `json:"client_id"`
}

// UpdateStudentStatusRequest drives a lifecycle status change.
type UpdateStudentStatusRequest struct {
	Status        models.LifecycleStatus `json:"status" validate:"required"`
	FreezeEndDate *time.Time             `json:"freeze_end_date,omitempty"`
}

// StudentService handles student use-cases. Status updates persist the status
// change first and run the schedule cascade after it; a cascade failure is
// surfaced separately and never reverts the status.
type StudentService struct {
	repo      studentRepository
	cascader  studentCascader
	clients   studentClientSync
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service. clients may be nil when
// student counts are not tracked.
func NewStudentService(repo studentRepository, cascader studentCascader, clients studentClientSync, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, cascader: cascader, clients: clients, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
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
	return students, pagination, nil
}

// Get returns a single student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student, opening the first status history entry.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, createdBy string, now time.Time) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	status := req.Status
	if status == "" {
		status = models.StatusTrial
	}
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle status")
	}

	student := &models.Student{
		UserID:   req.UserID,
		ClientID: req.ClientID,
		FullName: req.FullName,
		Status:   status,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	entry := &models.StatusHistoryEntry{
		OwnerID:  student.ID,
		Status:   status,
		Date:     now,
		AddedBy:  createdBy,
		Recorded: now,
	}
	if err := s.repo.AppendStatusHistory(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record status history")
	}

	s.syncClientCount(ctx, student.ClientID)
	return student, nil
}

// Update modifies the mutable fields of a student record.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	previousClient := student.ClientID
	student.FullName = req.FullName
	student.ClientID = req.ClientID
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}

	s.syncClientCount(ctx, previousClient)
	s.syncClientCount(ctx, student.ClientID)
	return student, nil
}

// UpdateStatus changes the student's lifecycle status. The status and its
// history entry are persisted first; the schedule cascade runs afterwards and
// a failure there is reported in ScheduleError while the status change stands.
func (s *StudentService) UpdateStatus(ctx context.Context, id string, req UpdateStudentStatusRequest, updatedBy string, now time.Time) (*dto.StatusUpdateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle status")
	}

	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := student.Status
	if previous == req.Status {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student already has this status")
	}

	if err := s.repo.UpdateStatus(ctx, student.ID, req.Status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student status")
	}

	// Close the open entry for the previous status, then open the new one.
	// Freeze entries may arrive with a known end date.
	if err := s.repo.CloseOpenStatusEntries(ctx, student.ID, previous, now, updatedBy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close status history")
	}
	entry := &models.StatusHistoryEntry{
		OwnerID:  student.ID,
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

	cascade, err := s.cascader.TransitionStudentStatus(ctx, student.ID, req.Status, previous, updatedBy, now)
	if err != nil {
		s.logger.Error("schedule cascade failed after status update",
			zap.String("student_id", student.ID),
			zap.String("status", string(req.Status)),
			zap.Error(err))
		response.ScheduleError = appErrors.FromError(err).Message
		return response, nil
	}
	response.Schedules = cascade
	return response, nil
}

// StatusHistory returns the append-only status history of a student.
func (s *StudentService) StatusHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.repo.ListStatusHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list status history")
	}
	return history, nil
}

// EnrollSubject adds a subject to the student's enrolled set.
func (s *StudentService) EnrollSubject(ctx context.Context, id, subjectID string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	enrolled, err := s.repo.HasSubject(ctx, id, subjectID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if enrolled {
		return appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this subject")
	}
	if err := s.repo.AddSubject(ctx, id, subjectID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll subject")
	}
	return nil
}

func (s *StudentService) syncClientCount(ctx context.Context, clientID *string) {
	if s.clients == nil || clientID == nil || *clientID == "" {
		return
	}
	if err := s.clients.SyncStudentCount(ctx, *clientID); err != nil {
		s.logger.Warn("student count sync failed", zap.String("client_id", *clientID), zap.Error(err))
	}
}
