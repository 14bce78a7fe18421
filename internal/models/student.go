package models

import "time"

// Student represents an enrollment record, one per student user. Students are
// owned by a Client and soft-deactivated through status changes, never deleted.
type Student struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	ClientID  *string         `db:"client_id" json:"client_id,omitempty"`
	FullName  string          `db:"full_name" json:"full_name"`
	Status    LifecycleStatus `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClientID  string
	Status    LifecycleStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StatusHistoryEntry is one append-only lifecycle history record. Freeze
// entries carry an end date once the freeze is lifted; at most one freeze
// entry per entity may be open at a time.
type StatusHistoryEntry struct {
	ID       string          `db:"id" json:"id"`
	OwnerID  string          `db:"owner_id" json:"owner_id"`
	Status   LifecycleStatus `db:"status" json:"status"`
	Date     time.Time       `db:"date" json:"date"`
	EndDate  *time.Time      `db:"end_date" json:"end_date,omitempty"`
	AddedBy  string          `db:"added_by" json:"added_by"`
	EndedBy  *string         `db:"ended_by" json:"ended_by,omitempty"`
	Recorded time.Time       `db:"recorded_at" json:"recorded_at"`
}

// SubjectStatus tracks per-subject activation for a student. At most one entry
// exists per (student, subject) pair.
type SubjectStatus struct {
	ID                string     `db:"id" json:"id"`
	StudentID         string     `db:"student_id" json:"student_id"`
	SubjectID         string     `db:"subject_id" json:"subject_id"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	LastActivatedAt   *time.Time `db:"last_activated_at" json:"last_activated_at,omitempty"`
	LastActivatedBy   *string    `db:"last_activated_by" json:"last_activated_by,omitempty"`
	LastDeactivatedAt *time.Time `db:"last_deactivated_at" json:"last_deactivated_at,omitempty"`
	LastDeactivatedBy *string    `db:"last_deactivated_by" json:"last_deactivated_by,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Subject activation event actions.
const (
	SubjectEventActivated   = "activated"
	SubjectEventDeactivated = "deactivated"
)

// SubjectEvent is one activation or deactivation history record.
type SubjectEvent struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	SubjectID  string    `db:"subject_id" json:"subject_id"`
	Action     string    `db:"action" json:"action"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	ActorName  string    `db:"actor_name" json:"actor_name"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// TeacherAssignment links a student to the teacher covering one subject.
// TeacherID goes nil while the teacher is deactivated; the stored name keeps a
// display marker so the link can be re-established on reactivation.
type TeacherAssignment struct {
	ID          string     `db:"id" json:"id"`
	StudentID   string     `db:"student_id" json:"student_id"`
	TeacherID   *string    `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName string     `db:"teacher_name" json:"teacher_name"`
	SubjectID   string     `db:"subject_id" json:"subject_id"`
	SubjectName string     `db:"subject_name" json:"subject_name"`
	IsTemporary bool       `db:"is_temporary" json:"is_temporary"`
	EndDate     *time.Time `db:"end_date" json:"end_date,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
