package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/models"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
)

// DefaultSupervisorMarker flags a detached manager name pending reassignment.
const DefaultSupervisorMarker = " (Inactive Supervisor)"

// ActivityMarkers are the display-name suffixes used to track detached
// references while the owning user is deactivated.
type ActivityMarkers struct {
	Teacher    string
	Student    string
	Supervisor string
}

func (m ActivityMarkers) withDefaults() ActivityMarkers {
	if m.Teacher == "" {
		m.Teacher = " (Inactive Teacher)"
	}
	if m.Student == "" {
		m.Student = " (Inactive Student)"
	}
	if m.Supervisor == "" {
		m.Supervisor = DefaultSupervisorMarker
	}
	return m
}

type activityScheduleRepo interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Schedule, error)
	ListDetachedByMarker(ctx context.Context, markedName string) ([]models.Schedule, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Schedule, error)
	DetachTeacher(ctx context.Context, id, markedName string) error
	RestoreTeacher(ctx context.Context, id, teacherID, teacherName string) error
	UpdateStudentNames(ctx context.Context, id, studentNames string) error
}

type activityStudentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListByClient(ctx context.Context, clientID string) ([]models.Student, error)
	UpdateFullName(ctx context.Context, id, fullName string) error
	ListAssignmentsByTeacher(ctx context.Context, teacherID string) ([]models.TeacherAssignment, error)
	ListDetachedAssignmentsByMarker(ctx context.Context, markedName string) ([]models.TeacherAssignment, error)
	MarkAssignmentTemporary(ctx context.Context, id, markedName string, endDate time.Time) error
	RestoreAssignment(ctx context.Context, id, teacherID, teacherName string) error
}

type activityTeacherRepo interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	SetActive(ctx context.Context, id string, active bool, endDate *time.Time) error
	ListByManager(ctx context.Context, managerID string) ([]models.Teacher, error)
	CountByManagerMarker(ctx context.Context, markedName string) (int, error)
	DetachManager(ctx context.Context, teacherID, markedManagerName string) error
}

type activityClientRepo interface {
	FindByID(ctx context.Context, id string) (*models.Client, error)
	UpdateStatus(ctx context.Context, id string, status models.LifecycleStatus) error
}

type activityUserRepo interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

// sessionRevoker force-logs-out a user when their account is deactivated.
type sessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) error
}

// clientCascader is the slice of the lifecycle engine consumed by the client toggle.
type clientCascader interface {
	TransitionClientStatus(ctx context.Context, clientID string, newStatus, previousStatus models.LifecycleStatus, updatedBy string, now time.Time) (*dto.ClientTransitionResult, error)
}

// ActivityService handles teacher, supervisor, and client activation toggles.
// Detached references are tracked through display-name markers so a partially
// applied toggle can be re-run safely and later reversed by pattern match.
type ActivityService struct {
	schedules activityScheduleRepo
	students  activityStudentRepo
	teachers  activityTeacherRepo
	clients   activityClientRepo
	users     activityUserRepo
	sessions  sessionRevoker
	cascader  clientCascader
	markers   ActivityMarkers
	logger    *zap.Logger
}

// NewActivityService wires the activity toggle engine. sessions may be nil
// when force logout is unavailable.
func NewActivityService(
	schedules activityScheduleRepo,
	students activityStudentRepo,
	teachers activityTeacherRepo,
	clients activityClientRepo,
	users activityUserRepo,
	sessions sessionRevoker,
	cascader clientCascader,
	markers ActivityMarkers,
	logger *zap.Logger,
) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{
		schedules: schedules,
		students:  students,
		teachers:  teachers,
		clients:   clients,
		users:     users,
		sessions:  sessions,
		cascader:  cascader,
		markers:   markers.withDefaults(),
		logger:    logger,
	}
}

// ToggleTeacher activates or deactivates a teacher. Deactivation detaches the
// teacher from every schedule and marks student assignments temporary;
// reactivation restores both by matching the marked display name. Already
// marked or already restored records are skipped, so re-runs converge.
func (s *ActivityService) ToggleTeacher(ctx context.Context, teacherID string, isActive bool, now time.Time) (*dto.ToggleResult, error) {
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load teacher")
	}

	result := &dto.ToggleResult{}

	if !isActive {
		if err := s.teachers.SetActive(ctx, teacher.ID, false, &now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "deactivate teacher")
		}
		if err := s.setUserActive(ctx, teacher.UserID, false); err != nil {
			return nil, err
		}
		s.revokeSessions(ctx, teacher.UserID)

		schedules, err := s.schedules.ListByTeacher(ctx, teacher.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list teacher schedules")
		}
		for _, sched := range schedules {
			if strings.HasSuffix(sched.TeacherName, s.markers.Teacher) {
				continue
			}
			if err := s.schedules.DetachTeacher(ctx, sched.ID, sched.TeacherName+s.markers.Teacher); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "detach teacher from schedule")
			}
			result.ScheduleUpdates++
		}

		assignments, err := s.students.ListAssignmentsByTeacher(ctx, teacher.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list teacher assignments")
		}
		for _, a := range assignments {
			if strings.HasSuffix(a.TeacherName, s.markers.Teacher) {
				continue
			}
			if err := s.students.MarkAssignmentTemporary(ctx, a.ID, a.TeacherName+s.markers.Teacher, now); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "mark assignment temporary")
			}
			result.StudentUpdates++
		}
		return result, nil
	}

	if err := s.teachers.SetActive(ctx, teacher.ID, true, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reactivate teacher")
	}
	if err := s.setUserActive(ctx, teacher.UserID, true); err != nil {
		return nil, err
	}

	markedName := teacher.FullName + s.markers.Teacher

	schedules, err := s.schedules.ListDetachedByMarker(ctx, markedName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list detached schedules")
	}
	for _, sched := range schedules {
		if err := s.schedules.RestoreTeacher(ctx, sched.ID, teacher.ID, teacher.FullName); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "restore teacher on schedule")
		}
		result.ScheduleUpdates++
	}

	assignments, err := s.students.ListDetachedAssignmentsByMarker(ctx, markedName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list detached assignments")
	}
	for _, a := range assignments {
		if err := s.students.RestoreAssignment(ctx, a.ID, teacher.ID, teacher.FullName); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "restore assignment")
		}
		result.StudentUpdates++
	}
	return result, nil
}

// ToggleSupervisor activates or deactivates a supervisor account. Deactivation
// detaches every managed teacher; reactivation deliberately does not restore
// the manager links and only reports how many teachers need manual
// reassignment.
func (s *ActivityService) ToggleSupervisor(ctx context.Context, supervisorUserID string, isActive bool, now time.Time) (*dto.SupervisorToggleResult, error) {
	user, err := s.users.FindByID(ctx, supervisorUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "supervisor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load supervisor")
	}
	if user.Role != models.RoleSupervisor {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a supervisor")
	}

	result := &dto.SupervisorToggleResult{}
	markedName := user.FullName + s.markers.Supervisor

	if !isActive {
		user.Active = false
		if err := s.users.Update(ctx, user); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "deactivate supervisor")
		}
		s.revokeSessions(ctx, user.ID)

		managed, err := s.teachers.ListByManager(ctx, user.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list managed teachers")
		}
		for _, teacher := range managed {
			if err := s.teachers.DetachManager(ctx, teacher.ID, markedName); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "detach manager")
			}
			result.TeachersDetached++
		}
		return result, nil
	}

	user.Active = true
	if err := s.users.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reactivate supervisor")
	}

	count, err := s.teachers.CountByManagerMarker(ctx, markedName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "count detached teachers")
	}
	result.TeachersNeedingManager = count
	return result, nil
}

// ToggleClient activates or deactivates a client, cascading over the client's
// students: student names gain or lose the inactive marker, the lifecycle
// cascade stops or resumes their schedules, and shared schedules get their
// display names patched for the affected students only. A cascade failure is
// reported alongside the applied toggle, never rolled back.
func (s *ActivityService) ToggleClient(ctx context.Context, clientID string, isActive bool, updatedBy string, now time.Time) (*dto.ClientToggleResult, error) {
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load client")
	}

	previousStatus := client.Status
	newStatus := models.StatusDrop
	if isActive {
		newStatus = models.StatusRegular
	}

	if err := s.clients.UpdateStatus(ctx, client.ID, newStatus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update client status")
	}
	if err := s.setUserActive(ctx, client.UserID, isActive); err != nil {
		return nil, err
	}
	if !isActive && client.UserID != "" {
		s.revokeSessions(ctx, client.UserID)
	}

	result := &dto.ClientToggleResult{}

	students, err := s.students.ListByClient(ctx, client.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list client students")
	}

	for _, student := range students {
		marked := strings.HasSuffix(student.FullName, s.markers.Student)
		switch {
		case !isActive && !marked:
			if err := s.students.UpdateFullName(ctx, student.ID, student.FullName+s.markers.Student); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "mark student inactive")
			}
			result.StudentUpdates++
		case isActive && marked:
			if err := s.students.UpdateFullName(ctx, student.ID, strings.TrimSuffix(student.FullName, s.markers.Student)); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unmark student")
			}
			result.StudentUpdates++
		}

		patched, err := s.patchScheduleNames(ctx, student, isActive)
		if err != nil {
			return nil, err
		}
		result.ScheduleUpdates += patched
	}

	cascade, err := s.cascader.TransitionClientStatus(ctx, client.ID, newStatus, previousStatus, updatedBy, now)
	if err != nil {
		s.logger.Error("client schedule cascade failed",
			zap.String("client_id", client.ID),
			zap.Error(err))
		result.ScheduleError = appErrors.FromError(err).Message
		return result, nil
	}
	result.ClientStatusUpdate = cascade
	return result, nil
}

// patchScheduleNames rewrites the affected student's display name inside every
// schedule's studentNames string, leaving other participants untouched so
// mixed schedules keep running.
func (s *ActivityService) patchScheduleNames(ctx context.Context, student models.Student, isActive bool) (int, error) {
	schedules, err := s.schedules.ListByStudent(ctx, student.ID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list student schedules")
	}

	baseName := strings.TrimSuffix(student.FullName, s.markers.Student)
	markedName := baseName + s.markers.Student

	patched := 0
	for _, sched := range schedules {
		// Replace whole list entries only; one participant's name may be a
		// prefix of another's.
		names := strings.Split(sched.StudentNames, ", ")
		changed := false
		for i, name := range names {
			switch {
			case isActive && name == markedName:
				names[i] = baseName
				changed = true
			case !isActive && name == baseName:
				names[i] = markedName
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := s.schedules.UpdateStudentNames(ctx, sched.ID, strings.Join(names, ", ")); err != nil {
			return patched, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "patch schedule names")
		}
		patched++
	}
	return patched, nil
}

// setUserActive flips the backing login account so a toggled profile cannot
// sign in while deactivated. Profiles without an account are left alone.
func (s *ActivityService) setUserActive(ctx context.Context, userID string, active bool) error {
	if userID == "" {
		return nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load user account")
	}
	if user.Active == active {
		return nil
	}
	user.Active = active
	if err := s.users.Update(ctx, user); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update user account")
	}
	return nil
}

func (s *ActivityService) revokeSessions(ctx context.Context, userID string) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		s.logger.Warn("force logout failed", zap.String("user_id", userID), zap.Error(err))
	}
}
