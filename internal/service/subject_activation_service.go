package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

type subjectScheduleRepo interface {
	ListRecurringForSubject(ctx context.Context, studentID, subjectID, teacherID string, statuses []models.ScheduleStatus) ([]models.Schedule, error)
	FindLatestForPair(ctx context.Context, studentID, subjectID, teacherID string) (*models.Schedule, error)
	FindNearestPendingByChain(ctx context.Context, chainRootID string, from time.Time) (*models.Schedule, error)
	ExistsDuplicate(ctx context.Context, key models.DuplicateKey) (bool, error)
	Create(ctx context.Context, schedule *models.Schedule) error
	SetRecurring(ctx context.Context, id string, recurring bool) error
	Delete(ctx context.Context, id string) error
}

type subjectStudentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	HasSubject(ctx context.Context, studentID, subjectID string) (bool, error)
	GetSubjectStatus(ctx context.Context, studentID, subjectID string) (*models.SubjectStatus, error)
	UpsertSubjectStatus(ctx context.Context, status *models.SubjectStatus) error
	InsertSubjectEvent(ctx context.Context, event *models.SubjectEvent) error
	ListSubjectEvents(ctx context.Context, studentID, subjectID string) ([]models.SubjectEvent, error)
	ListActiveSubjects(ctx context.Context, studentID string) ([]string, error)
	FindAssignment(ctx context.Context, studentID, subjectID string) (*models.TeacherAssignment, error)
}

// SubjectActivationService maintains per-student subject activation state and
// keeps the matching recurring schedules in step: deactivation stops them and
// cancels the upcoming pending class, reactivation resumes the latest matching
// schedule and regenerates its next occurrence.
type SubjectActivationService struct {
	schedules subjectScheduleRepo
	students  subjectStudentRepo
	logger    *zap.Logger
}

// NewSubjectActivationService wires the subject activation tracker.
func NewSubjectActivationService(schedules subjectScheduleRepo, students subjectStudentRepo, logger *zap.Logger) *SubjectActivationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectActivationService{schedules: schedules, students: students, logger: logger}
}

// DeactivateSubject turns a subject off for a student. Rejected when the
// subject is not enrolled or already inactive; otherwise appends a
// deactivation event, stops matching recurring schedules, and cancels each
// chain's upcoming pending class where still safe to do so.
func (s *SubjectActivationService) DeactivateSubject(ctx context.Context, studentID, subjectID, actorID, actorName string, reason *string, now time.Time) (*dto.SubjectDeactivationResult, error) {
	if err := s.validateEnrollment(ctx, studentID, subjectID); err != nil {
		return nil, err
	}

	status, err := s.loadSubjectStatus(ctx, studentID, subjectID)
	if err != nil {
		return nil, err
	}
	if !status.IsActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "subject is already inactive for this student")
	}

	status.IsActive = false
	status.LastDeactivatedAt = &now
	status.LastDeactivatedBy = &actorID
	if err := s.students.UpsertSubjectStatus(ctx, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update subject status")
	}
	if err := s.recordEvent(ctx, studentID, subjectID, models.SubjectEventDeactivated, actorID, actorName, reason, now); err != nil {
		return nil, err
	}

	teacherID, teacherFound, err := s.resolveTeacher(ctx, studentID, subjectID)
	if err != nil {
		return nil, err
	}

	result := &dto.SubjectDeactivationResult{TeacherFound: teacherFound}

	matching, err := s.schedules.ListRecurringForSubject(ctx, studentID, subjectID, teacherID,
		[]models.ScheduleStatus{models.ScheduleScheduled, models.ScheduleRescheduled})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list subject schedules")
	}

	for i := range matching {
		sched := &matching[i]
		if err := s.schedules.SetRecurring(ctx, sched.ID, false); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stop recurring schedule")
		}
		result.SchedulesUpdated++

		// class_date is compared as a bare date, so start the search at midnight
		// to include a pending class later today.
		next, err := s.schedules.FindNearestPendingByChain(ctx, sched.ChainRootID(), truncateToDate(now))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "find pending occurrence")
		}
		if !ShouldDeleteClass(next, now) {
			continue
		}
		if err := s.schedules.Delete(ctx, next.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "delete pending occurrence")
		}
		result.ClassesDeleted++
	}

	result.Message = deactivationMessage(result.SchedulesUpdated, result.ClassesDeleted, teacherFound)
	return result, nil
}

// ReactivateSubject turns a subject back on for a student, resuming the most
// recently updated matching schedule and generating its next occurrence from
// the schedule's own pattern and anchor date.
func (s *SubjectActivationService) ReactivateSubject(ctx context.Context, studentID, subjectID, actorID, actorName string, reason *string, now time.Time) (*dto.SubjectReactivationResult, error) {
	if err := s.validateEnrollment(ctx, studentID, subjectID); err != nil {
		return nil, err
	}

	status, err := s.loadSubjectStatus(ctx, studentID, subjectID)
	if err != nil {
		return nil, err
	}
	if status.IsActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "subject is already active for this student")
	}

	status.IsActive = true
	status.LastActivatedAt = &now
	status.LastActivatedBy = &actorID
	if err := s.students.UpsertSubjectStatus(ctx, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update subject status")
	}
	if err := s.recordEvent(ctx, studentID, subjectID, models.SubjectEventActivated, actorID, actorName, reason, now); err != nil {
		return nil, err
	}

	teacherID, teacherFound, err := s.resolveTeacher(ctx, studentID, subjectID)
	if err != nil {
		return nil, err
	}

	result := &dto.SubjectReactivationResult{TeacherFound: teacherFound}

	latest, err := s.schedules.FindLatestForPair(ctx, studentID, subjectID, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			result.Message = reactivationMessage(result)
			return result, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "find latest schedule")
	}

	if !latest.IsRecurring {
		if err := s.schedules.SetRecurring(ctx, latest.ID, true); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "resume recurring schedule")
		}
		result.ReactivatedExisting = true
	}

	created, err := s.generateFromTemplate(ctx, latest)
	if err != nil {
		return nil, err
	}
	result.ScheduleCreated = created

	result.Message = reactivationMessage(result)
	return result, nil
}

// SubjectHistory returns the merged activation/deactivation events for a
// (student, subject) pair, chronologically ascending with denormalized actors.
func (s *SubjectActivationService) SubjectHistory(ctx context.Context, studentID, subjectID string) ([]dto.SubjectHistoryEvent, error) {
	if err := s.validateEnrollment(ctx, studentID, subjectID); err != nil {
		return nil, err
	}
	events, err := s.students.ListSubjectEvents(ctx, studentID, subjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list subject events")
	}
	out := make([]dto.SubjectHistoryEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, dto.SubjectHistoryEvent{
			Action:     ev.Action,
			ActorID:    ev.ActorID,
			ActorName:  ev.ActorName,
			Reason:     ev.Reason,
			OccurredAt: ev.OccurredAt,
		})
	}
	return out, nil
}

// ActiveSubjects returns the ids of subjects currently active for a student.
func (s *SubjectActivationService) ActiveSubjects(ctx context.Context, studentID string) ([]string, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}
	subjects, err := s.students.ListActiveSubjects(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list active subjects")
	}
	return subjects, nil
}

func (s *SubjectActivationService) validateEnrollment(ctx context.Context, studentID, subjectID string) error {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}
	enrolled, err := s.students.HasSubject(ctx, studentID, subjectID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrNotFound, "subject is not in the student's enrolled subjects")
	}
	return nil
}

// loadSubjectStatus returns the existing record or a fresh active one when no
// record exists yet (a subject never toggled counts as active).
func (s *SubjectActivationService) loadSubjectStatus(ctx context.Context, studentID, subjectID string) (*models.SubjectStatus, error) {
	status, err := s.students.GetSubjectStatus(ctx, studentID, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.SubjectStatus{StudentID: studentID, SubjectID: subjectID, IsActive: true}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load subject status")
	}
	return status, nil
}

func (s *SubjectActivationService) recordEvent(ctx context.Context, studentID, subjectID, action, actorID, actorName string, reason *string, now time.Time) error {
	event := &models.SubjectEvent{
		StudentID:  studentID,
		SubjectID:  subjectID,
		Action:     action,
		ActorID:    actorID,
		ActorName:  actorName,
		Reason:     reason,
		OccurredAt: now,
	}
	if err := s.students.InsertSubjectEvent(ctx, event); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "record subject event")
	}
	return nil
}

// resolveTeacher finds the teacher covering a subject for a student, first
// from the assignment record, then by inspecting any schedule for the pair.
func (s *SubjectActivationService) resolveTeacher(ctx context.Context, studentID, subjectID string) (string, bool, error) {
	assignment, err := s.students.FindAssignment(ctx, studentID, subjectID)
	if err == nil && assignment.TeacherID != nil && *assignment.TeacherID != "" {
		return *assignment.TeacherID, true, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "find teacher assignment")
	}

	sched, err := s.schedules.FindLatestForPair(ctx, studentID, subjectID, "")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "inspect schedules for teacher")
	}
	if sched.TeacherID != nil && *sched.TeacherID != "" {
		return *sched.TeacherID, true, nil
	}
	return "", false, nil
}

// generateFromTemplate creates the template's next occurrence anchored on the
// schedule's own class date, guarded against duplicates.
func (s *SubjectActivationService) generateFromTemplate(ctx context.Context, template *models.Schedule) (bool, error) {
	originalDay := template.ClassDate.Weekday()
	if wd, ok := models.WeekdayByName(template.Day); ok {
		originalDay = wd
	}

	nextDate, ok := NextOccurrence(template.ClassDate, template.RecurrencePattern, template.CustomDays, originalDay)
	if !ok {
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

func deactivationMessage(updated, deleted int, teacherFound bool) string {
	switch {
	case !teacherFound && updated == 0:
		return "Subject deactivated. No assigned teacher or schedule was found for this subject."
	case updated == 0:
		return "Subject deactivated. No active recurring schedule needed stopping."
	case deleted == 0:
		return "Subject deactivated. Recurring schedule stopped; no upcoming class was pending."
	default:
		return "Subject deactivated. Recurring schedule stopped and the upcoming class was removed."
	}
}

func reactivationMessage(r *dto.SubjectReactivationResult) string {
	switch {
	case r.ReactivatedExisting && r.ScheduleCreated:
		return "Subject reactivated. The existing schedule was resumed and the next class has been generated."
	case r.ReactivatedExisting:
		return "Subject reactivated. The existing schedule was resumed; the next class already exists."
	case r.ScheduleCreated:
		return "Subject reactivated. A new class was generated from the most recent schedule."
	case r.TeacherFound:
		return "Subject reactivated. No schedule was found to resume for the assigned teacher."
	default:
		return "Subject reactivated. No teacher or schedule was found for this subject."
	}
}
