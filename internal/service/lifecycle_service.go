package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

// lifecycleScheduleRepo is the slice of the schedule repository consumed by
// the status transition engine.
type lifecycleScheduleRepo interface {
	ListRecurringByStudent(ctx context.Context, studentID string) ([]models.Schedule, error)
	ListNonRecurringByStudent(ctx context.Context, studentID string) ([]models.Schedule, error)
	DistinctSubjectsForStudent(ctx context.Context, studentID string) ([]string, error)
	FindNearestPendingClass(ctx context.Context, studentID, subjectID string, from time.Time) (*models.Schedule, error)
	ExistsDuplicate(ctx context.Context, key models.DuplicateKey) (bool, error)
	Create(ctx context.Context, schedule *models.Schedule) error
	SetRecurring(ctx context.Context, id string, recurring bool) error
	SetRecurringForStudents(ctx context.Context, studentIDs []string, recurring bool) (int, error)
	Delete(ctx context.Context, id string) error
}

type lifecycleStudentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListByClient(ctx context.Context, clientID string) ([]models.Student, error)
}

type lifecycleClientRepo interface {
	FindByID(ctx context.Context, id string) (*models.Client, error)
}

// LifecycleService is the status transition engine: it decides how recurring
// schedules react when a student or client moves between lifecycle statuses.
// It mutates the schedule collection only; the caller owns the entity's own
// status fields and must report cascade failures separately from the primary
// status update (no rollback once the cascade has begun).
type LifecycleService struct {
	schedules lifecycleScheduleRepo
	students  lifecycleStudentRepo
	clients   lifecycleClientRepo
	logger    *zap.Logger
}

// NewLifecycleService wires the status transition engine.
func NewLifecycleService(schedules lifecycleScheduleRepo, students lifecycleStudentRepo, clients lifecycleClientRepo, logger *zap.Logger) *LifecycleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{schedules: schedules, students: students, clients: clients, logger: logger}
}

// TransitionStudentStatus applies the scheduling consequences of one student
// status change. Only active→inactive and inactive→active pairs mutate
// schedules; every other pair is a no-op that still returns the status-change
// string.
func (s *LifecycleService) TransitionStudentStatus(ctx context.Context, studentID string, newStatus, previousStatus models.LifecycleStatus, updatedBy string, now time.Time) (*dto.StudentTransitionResult, error) {
	if !newStatus.Valid() || !previousStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid status pair %q -> %q", previousStatus, newStatus))
	}

	result := &dto.StudentTransitionResult{
		StatusChange: statusChangeLabel(previousStatus, newStatus),
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}

	switch {
	case previousStatus.Active() && newStatus.Inactive():
		updated, deleted, found, err := s.deactivateStudentSchedules(ctx, student.ID, now)
		if err != nil {
			return nil, err
		}
		result.SchedulesUpdated = updated
		result.ClassesDeleted = deleted
		result.TotalSchedulesFound = found

	case previousStatus.Inactive() && newStatus.Active():
		reactivated, created, found, err := s.reactivateStudentSchedules(ctx, student.ID, now)
		if err != nil {
			return nil, err
		}
		result.SchedulesReactivated = reactivated
		result.NewSchedulesCreated = created
		result.TotalSchedulesFound = found

	default:
		s.logger.Debug("status transition without schedule effect",
			zap.String("student_id", student.ID),
			zap.String("change", result.StatusChange))
	}

	return result, nil
}

// TransitionClientStatus fans a client status change out across every student
// the client owns, aggregating per-student results into a summary whose
// breakdown sums to the top-level totals.
func (s *LifecycleService) TransitionClientStatus(ctx context.Context, clientID string, newStatus, previousStatus models.LifecycleStatus, updatedBy string, now time.Time) (*dto.ClientTransitionResult, error) {
	if !newStatus.Valid() || !previousStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid status pair %q -> %q", previousStatus, newStatus))
	}

	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load client")
	}

	result := &dto.ClientTransitionResult{
		StatusChange:   statusChangeLabel(previousStatus, newStatus),
		StudentUpdates: []dto.StudentCascadeUpdate{},
	}

	students, err := s.students.ListByClient(ctx, client.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list client students")
	}
	if len(students) == 0 {
		return result, nil
	}
	result.TotalStudentsAffected = len(students)

	switch {
	case previousStatus.Active() && newStatus.Inactive():
		// Count per student before the batch flip so the breakdown still sums
		// to the totals afterwards.
		counts := make(map[string]int, len(students))
		ids := make([]string, 0, len(students))
		for _, st := range students {
			schedules, err := s.schedules.ListRecurringByStudent(ctx, st.ID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list recurring schedules")
			}
			counts[st.ID] = len(schedules)
			ids = append(ids, st.ID)
		}

		if _, err := s.schedules.SetRecurringForStudents(ctx, ids, false); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stop recurring schedules")
		}

		for _, st := range students {
			deleted, err := s.deleteNearestPendingClasses(ctx, st.ID, now)
			if err != nil {
				return nil, err
			}
			result.TotalSchedulesUpdated += counts[st.ID]
			result.TotalClassesDeleted += deleted
			result.StudentUpdates = append(result.StudentUpdates, dto.StudentCascadeUpdate{
				StudentID:        st.ID,
				StudentName:      st.FullName,
				SchedulesUpdated: counts[st.ID],
				ClassesDeleted:   deleted,
			})
		}

	case previousStatus.Inactive() && newStatus.Active():
		for _, st := range students {
			reactivated, created, _, err := s.reactivateStudentSchedules(ctx, st.ID, now)
			if err != nil {
				return nil, err
			}
			result.TotalSchedulesReactivated += reactivated
			result.TotalNewSchedulesCreated += created
			result.StudentUpdates = append(result.StudentUpdates, dto.StudentCascadeUpdate{
				StudentID:            st.ID,
				StudentName:          st.FullName,
				SchedulesReactivated: reactivated,
				NewSchedulesCreated:  created,
			})
		}
	}

	return result, nil
}

// deactivateStudentSchedules stops every recurring schedule containing the
// student and removes the single nearest still-pending class per subject.
func (s *LifecycleService) deactivateStudentSchedules(ctx context.Context, studentID string, now time.Time) (updated, deleted, found int, err error) {
	schedules, err := s.schedules.ListRecurringByStudent(ctx, studentID)
	if err != nil {
		return 0, 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list recurring schedules")
	}
	found = len(schedules)

	for _, sched := range schedules {
		if err := s.schedules.SetRecurring(ctx, sched.ID, false); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return updated, deleted, found, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stop recurring schedule")
		}
		updated++
	}

	deleted, err = s.deleteNearestPendingClasses(ctx, studentID, now)
	return updated, deleted, found, err
}

// deleteNearestPendingClasses cancels, per subject, the single upcoming class
// that is still pending. Classes already started, completed, or past their
// scheduled end time are preserved.
func (s *LifecycleService) deleteNearestPendingClasses(ctx context.Context, studentID string, now time.Time) (int, error) {
	subjects, err := s.schedules.DistinctSubjectsForStudent(ctx, studentID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list student subjects")
	}

	deleted := 0
	// class_date carries no time component, so compare against midnight to keep
	// a still-pending class later today in scope.
	from := truncateToDate(now)
	for _, subjectID := range subjects {
		next, err := s.schedules.FindNearestPendingClass(ctx, studentID, subjectID, from)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return deleted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "find nearest pending class")
		}
		if !ShouldDeleteClass(next, now) {
			continue
		}
		if err := s.schedules.Delete(ctx, next.ID); err != nil {
			return deleted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "delete pending class")
		}
		deleted++
	}
	return deleted, nil
}

// reactivateStudentSchedules resumes every stopped schedule containing the
// student and generates the next occurrence for each, guarded against
// duplicates so a re-run converges instead of double-booking.
func (s *LifecycleService) reactivateStudentSchedules(ctx context.Context, studentID string, now time.Time) (reactivated, created, found int, err error) {
	schedules, err := s.schedules.ListNonRecurringByStudent(ctx, studentID)
	if err != nil {
		return 0, 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list stopped schedules")
	}
	found = len(schedules)

	for i := range schedules {
		sched := &schedules[i]
		if err := s.schedules.SetRecurring(ctx, sched.ID, true); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return reactivated, created, found, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "resume recurring schedule")
		}
		reactivated++

		ok, err := s.generateNextOccurrence(ctx, sched, now)
		if err != nil {
			return reactivated, created, found, err
		}
		if ok {
			created++
		}
	}
	return reactivated, created, found, nil
}

// generateNextOccurrence clones the template into its next dated occurrence
// unless an identical slot already exists. Returns whether a row was created.
func (s *LifecycleService) generateNextOccurrence(ctx context.Context, template *models.Schedule, anchor time.Time) (bool, error) {
	originalDay := template.ClassDate.Weekday()
	if wd, ok := models.WeekdayByName(template.Day); ok {
		originalDay = wd
	}

	nextDate, ok := NextOccurrence(anchor, template.RecurrencePattern, template.CustomDays, originalDay)
	if !ok {
		s.logger.Warn("recurrence pattern produced no next occurrence",
			zap.String("schedule_id", template.ID),
			zap.String("pattern", string(template.RecurrencePattern)))
		return false, nil
	}

	exists, err := s.schedules.ExistsDuplicate(ctx, models.DuplicateKey{
		StudentIDs: template.StudentIDs,
		TeacherID:  template.TeacherID,
		SubjectID:  template.SubjectID,
		ClassDate:  nextDate,
		StartTime:  template.StartTime,
		EndTime:    template.EndTime,
	})
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check duplicate schedule")
	}
	if exists {
		return false, nil
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
	if err := s.schedules.Create(ctx, next); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create next occurrence")
	}
	return true, nil
}

func statusChangeLabel(previous, next models.LifecycleStatus) string {
	return fmt.Sprintf("%s -> %s", previous, next)
}
