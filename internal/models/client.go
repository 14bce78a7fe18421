package models

import "time"

// Client is the guardian/payer aggregate owning zero or more students.
// NumberOfStudents is a cached count kept consistent with the student links.
type Client struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"user_id"`
	FullName         string          `db:"full_name" json:"full_name"`
	Status           LifecycleStatus `db:"status" json:"status"`
	NumberOfStudents int             `db:"number_of_students" json:"number_of_students"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// ClientFilter captures filtering options for listing clients.
type ClientFilter struct {
	Search    string
	Status    LifecycleStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
