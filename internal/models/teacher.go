package models

import "time"

// Teacher represents a tutor profile. ManagerID references the supervising
// user and is cleared when that supervisor is deactivated.
type Teacher struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	FullName    string     `db:"full_name" json:"full_name"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	Expertise   *string    `db:"expertise" json:"expertise,omitempty"`
	Active      bool       `db:"active" json:"active"`
	ManagerID   *string    `db:"manager_id" json:"manager_id,omitempty"`
	ManagerName *string    `db:"manager_name" json:"manager_name,omitempty"`
	EndDate     *time.Time `db:"end_date" json:"end_date,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search    string
	Active    *bool
	ManagerID string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
