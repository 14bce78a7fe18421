package models

import (
	"time"

	"github.com/lib/pq"
)

// Schedule represents one concrete or template class session. A schedule with
// IsRecurring=true acts as the template for an ongoing weekly/weekdays/custom
// commitment; the recurrence engine clones it into dated occurrences.
type Schedule struct {
	ID                 string            `db:"id" json:"id"`
	StudentIDs         pq.StringArray    `db:"student_ids" json:"student_ids"`
	StudentNames       string            `db:"student_names" json:"student_names"`
	TeacherID          *string           `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName        string            `db:"teacher_name" json:"teacher_name"`
	SubjectID          string            `db:"subject_id" json:"subject_id"`
	SubjectName        string            `db:"subject_name" json:"subject_name"`
	ClassDate          time.Time         `db:"class_date" json:"class_date"`
	StartTime          string            `db:"start_time" json:"start_time"`
	EndTime            string            `db:"end_time" json:"end_time"`
	Day                string            `db:"day" json:"day"`
	IsRecurring        bool              `db:"is_recurring" json:"is_recurring"`
	RecurrencePattern  RecurrencePattern `db:"recurrence_pattern" json:"recurrence_pattern,omitempty"`
	CustomDays         pq.StringArray    `db:"custom_days" json:"custom_days,omitempty"`
	RecurrenceParentID *string           `db:"recurrence_parent_id" json:"recurrence_parent_id,omitempty"`
	Status             ScheduleStatus    `db:"status" json:"status"`
	SessionStatus      SessionStatus     `db:"session_status" json:"session_status"`
	ClassStartedAt     *time.Time        `db:"class_started_at" json:"class_started_at,omitempty"`
	ClassEndedAt       *time.Time        `db:"class_ended_at" json:"class_ended_at,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// ChainRootID returns the id anchoring this schedule's recurrence chain.
func (s *Schedule) ChainRootID() string {
	if s.RecurrenceParentID != nil && *s.RecurrenceParentID != "" {
		return *s.RecurrenceParentID
	}
	return s.ID
}

// HasStudent reports whether the given student participates in this schedule.
func (s *Schedule) HasStudent(studentID string) bool {
	for _, id := range s.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// ScheduleFilter describes query params for listing schedules.
type ScheduleFilter struct {
	StudentID string
	TeacherID string
	SubjectID string
	DateFrom  *time.Time
	DateTo    *time.Time
	Status    ScheduleStatus
	Recurring *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// DuplicateKey identifies the slot tuple guarded against double-booking.
type DuplicateKey struct {
	StudentIDs []string
	TeacherID  *string
	SubjectID  string
	ClassDate  time.Time
	StartTime  string
	EndTime    string
}

// ScheduleConflict describes an existing schedule colliding with a new one.
type ScheduleConflict struct {
	ScheduleID string `json:"schedule_id"`
	TeacherID  string `json:"teacher_id"`
	ClassDate  string `json:"class_date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Dimension  string `json:"dimension"`
}

// ScheduleConflictError is returned when a schedule collides with an existing one.
type ScheduleConflictError struct {
	Type     string           `json:"type"`
	Message  string           `json:"message"`
	Conflict ScheduleConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
