package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

type scheduleRepository interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Schedule, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Schedule, error)
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
	FindOverlapping(ctx context.Context, teacherID string, classDate time.Time, startTime, endTime, excludeID string) ([]models.Schedule, error)
	ExistsDuplicate(ctx context.Context, key models.DuplicateKey) (bool, error)
	Create(ctx context.Context, schedule *models.Schedule) error
	Update(ctx context.Context, schedule *models.Schedule) error
	Delete(ctx context.Context, id string) error
}

// CreateScheduleRequest describes payload for creating a schedule.
type CreateScheduleRequest struct {
	StudentIDs        []string                 `json:"student_ids" validate:"required,min=1"`
	StudentNames      string                   `json:"student_names" validate:"required"`
	TeacherID         *string                  `json:"teacher_id"`
	TeacherName       string                   `json:"teacher_name"`
	SubjectID         string                   `json:"subject_id" validate:"required"`
	SubjectName       string                   `json:"subject_name" validate:"required"`
	ClassDate         time.Time                `json:"class_date" validate:"required"`
	StartTime         string                   `json:"start_time" validate:"required"`
	EndTime           string                   `json:"end_time" validate:"required"`
	IsRecurring       bool                     `json:"is_recurring"`
	RecurrencePattern models.RecurrencePattern `json:"recurrence_pattern"`
	CustomDays        []string                 `json:"custom_days"`
}

// UpdateScheduleRequest updates an existing schedule.
type UpdateScheduleRequest struct {
	StudentIDs        []string                 `json:"student_ids" validate:"required,min=1"`
	StudentNames      string                   `json:"student_names" validate:"required"`
	TeacherID         *string                  `json:"teacher_id"`
	TeacherName       string                   `json:"teacher_name"`
	SubjectID         string                   `json:"subject_id" validate:"required"`
	SubjectName       string                   `json:"subject_name" validate:"required"`
	ClassDate         time.Time                `json:"class_date" validate:"required"`
	StartTime         string                   `json:"start_time" validate:"required"`
	EndTime           string                   `json:"end_time" validate:"required"`
	IsRecurring       bool                     `json:"is_recurring"`
	RecurrencePattern models.RecurrencePattern `json:"recurrence_pattern"`
	CustomDays        []string                 `json:"custom_days"`
	Status            models.ScheduleStatus    `json:"status"`
}

// EndSessionResult reports a finished session plus whether the recurrence
// engine generated the follow-up class.
type EndSessionResult struct {
	Schedule     *models.Schedule `json:"schedule"`
	NextCreated  bool             `json:"next_created"`
	NextSchedule *models.Schedule `json:"next_schedule,omitempty"`
}

// ScheduleService coordinates schedule CRUD, teacher session actions, and the
// per-session recurrence hand-off.
type ScheduleService struct {
	repo      scheduleRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService instantiates ScheduleService.
func NewScheduleService(repo scheduleRepository, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, validator: validate, logger: logger}
}

// List returns schedules with pagination metadata.
func (s *ScheduleService) List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, *models.Pagination, error) {
	schedules, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
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
	return schedules, pagination, nil
}

// Get returns a single schedule.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// ListByTeacher returns schedules for a teacher.
func (s *ScheduleService) ListByTeacher(ctx context.Context, teacherID string) ([]models.Schedule, error) {
	schedules, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teacher schedules")
	}
	return schedules, nil
}

// ListByStudent returns schedules containing a student.
func (s *ScheduleService) ListByStudent(ctx context.Context, studentID string) ([]models.Schedule, error) {
	schedules, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student schedules")
	}
	return schedules, nil
}

// Create inserts a new schedule after recurrence validation, the duplicate
// guard, and teacher overlap detection.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if err := validateRecurrence(req.IsRecurring, req.RecurrencePattern, req.CustomDays); err != nil {
		return nil, err
	}
	if err := validateTimeWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	schedule := models.Schedule{
		StudentIDs:        req.StudentIDs,
		StudentNames:      req.StudentNames,
		TeacherID:         req.TeacherID,
		TeacherName:       req.TeacherName,
		SubjectID:         req.SubjectID,
		SubjectName:       req.SubjectName,
		ClassDate:         req.ClassDate,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		Day:               models.DayName(req.ClassDate),
		IsRecurring:       req.IsRecurring,
		RecurrencePattern: req.RecurrencePattern,
		CustomDays:        req.CustomDays,
		Status:            models.ScheduleScheduled,
		SessionStatus:     models.SessionPending,
	}

	exists, err := s.repo.ExistsDuplicate(ctx, models.DuplicateKey{
		StudentIDs: req.StudentIDs,
		TeacherID:  req.TeacherID,
		SubjectID:  req.SubjectID,
		ClassDate:  req.ClassDate,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicate schedule")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an identical schedule already exists for this slot")
	}

	if err := s.ensureNoOverlap(ctx, schedule, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, &schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}
	return &schedule, nil
}

// Update modifies an existing schedule.
func (s *ScheduleService) Update(ctx context.Context, id string, req UpdateScheduleRequest) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if err := validateRecurrence(req.IsRecurring, req.RecurrencePattern, req.CustomDays); err != nil {
		return nil, err
	}
	if err := validateTimeWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	updated := *existing
	updated.StudentIDs = req.StudentIDs
	updated.StudentNames = req.StudentNames
	updated.TeacherID = req.TeacherID
	updated.TeacherName = req.TeacherName
	updated.SubjectID = req.SubjectID
	updated.SubjectName = req.SubjectName
	updated.ClassDate = req.ClassDate
	updated.StartTime = req.StartTime
	updated.EndTime = req.EndTime
	updated.Day = models.DayName(req.ClassDate)
	updated.IsRecurring = req.IsRecurring
	updated.RecurrencePattern = req.RecurrencePattern
	updated.CustomDays = req.CustomDays
	if req.Status != "" {
		updated.Status = req.Status
	}
	if !existing.ClassDate.Equal(req.ClassDate) || existing.StartTime != req.StartTime || existing.EndTime != req.EndTime {
		updated.Status = models.ScheduleRescheduled
	}

	if err := s.ensureNoOverlap(ctx, updated, existing.ID); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}
	return &updated, nil
}

// Delete removes a schedule entry.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule")
	}
	return nil
}

// MarkAvailable is the teacher's acknowledgement that the class will be held.
func (s *ScheduleService) MarkAvailable(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule.SessionStatus != models.SessionPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("session is %s, expected pending", schedule.SessionStatus))
	}
	schedule.SessionStatus = models.SessionAvailable
	if err := s.repo.Update(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark session available")
	}
	return schedule, nil
}

// StartSession records the moment the teacher opens the class.
func (s *ScheduleService) StartSession(ctx context.Context, id string, now time.Time) (*models.Schedule, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule.SessionStatus != models.SessionPending && schedule.SessionStatus != models.SessionAvailable {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("session is %s, cannot start", schedule.SessionStatus))
	}
	schedule.SessionStatus = models.SessionInProgress
	schedule.ClassStartedAt = &now
	if err := s.repo.Update(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start session")
	}
	return schedule, nil
}

// EndSession closes a running class and, for recurring schedules, hands the
// template to the recurrence engine to generate the next occurrence.
func (s *ScheduleService) EndSession(ctx context.Context, id string, now time.Time) (*EndSessionResult, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule.SessionStatus != models.SessionInProgress {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("session is %s, cannot end", schedule.SessionStatus))
	}

	schedule.SessionStatus = models.SessionCompleted
	schedule.Status = models.ScheduleCompleted
	schedule.ClassEndedAt = &now
	if err := s.repo.Update(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to end session")
	}

	result := &EndSessionResult{Schedule: schedule}
	if !schedule.IsRecurring {
		return result, nil
	}

	next, created, err := s.generateNext(ctx, schedule, now)
	if err != nil {
		// The session itself ended fine; surface the generation failure in
		// the log and leave the template for the next run.
		s.logger.Error("next occurrence generation failed",
			zap.String("schedule_id", schedule.ID),
			zap.Error(err))
		return result, nil
	}
	result.NextCreated = created
	result.NextSchedule = next
	return result, nil
}

func (s *ScheduleService) generateNext(ctx context.Context, template *models.Schedule, now time.Time) (*models.Schedule, bool, error) {
	originalDay := template.ClassDate.Weekday()
	if wd, ok := models.WeekdayByName(template.Day); ok {
		originalDay = wd
	}
	nextDate, ok := NextOccurrence(now, template.RecurrencePattern, template.CustomDays, originalDay)
	if !ok {
		return nil, false, nil
	}

	exists, err := s.repo.ExistsDuplicate(ctx, models.DuplicateKey{
		StudentIDs: template.StudentIDs,
		TeacherID:  template.TeacherID,
		SubjectID:  template.SubjectID,
		ClassDate:  nextDate,
		StartTime:  template.StartTime,
		EndTime:    template.EndTime,
	})
	if err != nil {
		return nil, false, err
	}
	if exists {
		return nil, false, nil
	}

	parent := template.ChainRootID()
	next := &models.Schedule{
		StudentIDs:         template.StudentIDs,
		StudentNames:       template.StudentNames,
		TeacherID:          template.TeacherID,
		TeacherName:        template.TeacherName,
		SubjectID:          template.SubjectID,
		SubjectName:        template.SubjectName,
		ClassDate:          nextDate,
		StartTime:          template.StartTime,
		EndTime:            template.EndTime,
		Day:                models.DayName(nextDate),
		IsRecurring:        true,
		RecurrencePattern:  template.RecurrencePattern,
		CustomDays:         template.CustomDays,
		RecurrenceParentID: &parent,
		Status:             models.ScheduleScheduled,
		SessionStatus:      models.SessionPending,
	}
	if err := s.repo.Create(ctx, next); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// ensureNoOverlap rejects a schedule whose teacher is already booked for an
// overlapping window on the same date.
func (s *ScheduleService) ensureNoOverlap(ctx context.Context, schedule models.Schedule, ignoreID string) error {
	if schedule.TeacherID == nil || *schedule.TeacherID == "" {
		return nil
	}

	existing, err := s.repo.FindOverlapping(ctx, *schedule.TeacherID, schedule.ClassDate, schedule.StartTime, schedule.EndTime, ignoreID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule conflicts")
	}
	if len(existing) == 0 {
		return nil
	}

	item := existing[0]
	conflict := models.ScheduleConflict{
		ScheduleID: item.ID,
		TeacherID:  *schedule.TeacherID,
		ClassDate:  item.ClassDate.Format("2006-01-02"),
		StartTime:  item.StartTime,
		EndTime:    item.EndTime,
		Dimension:  "TEACHER",
	}
	domainErr := &models.ScheduleConflictError{
		Type:     "TEACHER",
		Message:  "teacher already has a class in this time window",
		Conflict: conflict,
	}
	return appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "schedule conflict: teacher already booked")
}

func validateRecurrence(isRecurring bool, pattern models.RecurrencePattern, customDays []string) error {
	if !isRecurring {
		return nil
	}
	if !pattern.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "recurring schedules require a valid recurrence pattern")
	}
	if pattern == models.RecurrenceCustom && len(customDays) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "custom recurrence requires at least one day")
	}
	if pattern != models.RecurrenceCustom && len(customDays) > 0 {
		return appErrors.Clone(appErrors.ErrValidation, "custom days are only valid with the custom pattern")
	}
	for _, name := range customDays {
		if _, ok := models.WeekdayByName(name); !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown weekday %q", name))
		}
	}
	return nil
}

func validateTimeWindow(start, end string) error {
	startAt, okStart := combineDateTime(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), start)
	endAt, okEnd := combineDateTime(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), end)
	if !okStart || !okEnd {
		return appErrors.Clone(appErrors.ErrValidation, "start and end time must be HH:MM")
	}
	if !endAt.After(startAt) {
		return appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	return nil
}
