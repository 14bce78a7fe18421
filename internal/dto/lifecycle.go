package dto

import (
	"time"

	"github.com/ilmhub/tcm-api/internal/models"
)

// TransitionStudentRequest drives a student-level status transition.
type TransitionStudentRequest struct {
	NewStatus      models.LifecycleStatus `json:"new_status" validate:"required"`
	PreviousStatus models.LifecycleStatus `json:"previous_status" validate:"required"`
	FreezeEndDate  *time.Time             `json:"freeze_end_date,omitempty"`
}

// StudentTransitionResult summarises the scheduling consequences of one
// student status transition.
type StudentTransitionResult struct {
	SchedulesUpdated     int    `json:"schedules_updated"`
	ClassesDeleted       int    `json:"classes_deleted"`
	SchedulesReactivated int    `json:"schedules_reactivated"`
	NewSchedulesCreated  int    `json:"new_schedules_created"`
	TotalSchedulesFound  int    `json:"total_schedules_found"`
	StatusChange         string `json:"status_change"`
}

// StudentCascadeUpdate is the per-student breakdown inside a client cascade.
type StudentCascadeUpdate struct {
	StudentID            string `json:"student_id"`
	StudentName          string `json:"student_name"`
	SchedulesUpdated     int    `json:"schedules_updated,omitempty"`
	ClassesDeleted       int    `json:"classes_deleted,omitempty"`
	SchedulesReactivated int    `json:"schedules_reactivated,omitempty"`
	NewSchedulesCreated  int    `json:"new_schedules_created,omitempty"`
}

// ClientTransitionResult aggregates a client-level cascade. The per-student
// breakdown sums to the top-level totals.
type ClientTransitionResult struct {
	TotalStudentsAffected     int                    `json:"total_students_affected"`
	TotalSchedulesUpdated     int                    `json:"total_schedules_updated"`
	TotalClassesDeleted       int                    `json:"total_classes_deleted"`
	TotalSchedulesReactivated int                    `json:"total_schedules_reactivated"`
	TotalNewSchedulesCreated  int                    `json:"total_new_schedules_created"`
	StatusChange              string                 `json:"status_change"`
	StudentUpdates            []StudentCascadeUpdate `json:"student_updates"`
}

// SubjectToggleRequest drives subject activation/deactivation for a student.
type SubjectToggleRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// SubjectDeactivationResult reports the effects of a subject deactivation.
type SubjectDeactivationResult struct {
	SchedulesUpdated int    `json:"schedules_updated"`
	ClassesDeleted   int    `json:"classes_deleted"`
	TeacherFound     bool   `json:"teacher_found"`
	Message          string `json:"message"`
}

// SubjectReactivationResult reports the effects of a subject reactivation.
type SubjectReactivationResult struct {
	ReactivatedExisting bool   `json:"reactivated_existing"`
	ScheduleCreated     bool   `json:"schedule_created"`
	TeacherFound        bool   `json:"teacher_found"`
	Message             string `json:"message"`
}

// SubjectHistoryEvent is one merged activation/deactivation history row.
type SubjectHistoryEvent struct {
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	Reason     *string   `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActivityToggleRequest drives teacher/supervisor/client activation toggles.
type ActivityToggleRequest struct {
	IsActive bool    `json:"is_active"`
	Reason   *string `json:"reason,omitempty"`
}

// ToggleResult reports how many schedules and student records a toggle touched.
type ToggleResult struct {
	ScheduleUpdates int `json:"schedule_updates"`
	StudentUpdates  int `json:"student_updates"`
}

// SupervisorToggleResult reports supervisor toggle effects. Reactivation does
// not restore manager links; it only counts teachers needing reassignment.
type SupervisorToggleResult struct {
	TeachersDetached       int `json:"teachers_detached,omitempty"`
	TeachersNeedingManager int `json:"teachers_needing_manager,omitempty"`
}

// ClientToggleResult composes the user toggle with the schedule cascade. A
// cascade failure surfaces as ScheduleError without undoing the toggle.
type ClientToggleResult struct {
	ScheduleUpdates    int                     `json:"schedule_updates"`
	StudentUpdates     int                     `json:"student_updates"`
	ClientStatusUpdate *ClientTransitionResult `json:"client_status_update,omitempty"`
	ScheduleError      string                  `json:"schedule_error,omitempty"`
}

// StatusUpdateResponse decouples the primary status update from the schedule
// cascade: a cascade failure is reported as ScheduleError while the status
// change itself stands.
type StatusUpdateResponse struct {
	Status        models.LifecycleStatus   `json:"status"`
	Schedules     *StudentTransitionResult `json:"schedules,omitempty"`
	ClientCascade *ClientTransitionResult  `json:"client_cascade,omitempty"`
	ScheduleError string                   `json:"schedule_error,omitempty"`
}
