package models

import "time"

// LifecycleStatus is the shared enrollment lifecycle used by students and clients.
type LifecycleStatus string

// Lifecycle statuses, stored lowercase on the wire and in the database.
const (
	StatusTrial     LifecycleStatus = "trial"
	StatusRegular   LifecycleStatus = "regular"
	StatusFreeze    LifecycleStatus = "freeze"
	StatusDrop      LifecycleStatus = "drop"
	StatusCompleted LifecycleStatus = "completed"
)

// AllLifecycleStatuses lists every valid lifecycle status.
var AllLifecycleStatuses = []LifecycleStatus{StatusTrial, StatusRegular, StatusFreeze, StatusDrop, StatusCompleted}

// Valid reports whether the status is a known lifecycle value.
func (s LifecycleStatus) Valid() bool {
	switch s {
	case StatusTrial, StatusRegular, StatusFreeze, StatusDrop, StatusCompleted:
		return true
	}
	return false
}

// Inactive reports whether the status stops recurring schedules.
func (s LifecycleStatus) Inactive() bool {
	return s == StatusFreeze || s == StatusDrop || s == StatusCompleted
}

// Active reports whether the status keeps (or resumes) recurring schedules.
func (s LifecycleStatus) Active() bool {
	return s == StatusTrial || s == StatusRegular
}

// RecurrencePattern describes how a recurring schedule repeats.
type RecurrencePattern string

// Supported recurrence patterns.
const (
	RecurrenceWeekly   RecurrencePattern = "weekly"
	RecurrenceWeekdays RecurrencePattern = "weekdays"
	RecurrenceCustom   RecurrencePattern = "custom"
)

// Valid reports whether the pattern is supported.
func (p RecurrencePattern) Valid() bool {
	switch p {
	case RecurrenceWeekly, RecurrenceWeekdays, RecurrenceCustom:
		return true
	}
	return false
}

// ScheduleStatus is the administrative state of a class session.
type ScheduleStatus string

// Schedule statuses.
const (
	ScheduleScheduled   ScheduleStatus = "scheduled"
	ScheduleRescheduled ScheduleStatus = "rescheduled"
	ScheduleCancelled   ScheduleStatus = "cancelled"
	ScheduleCompleted   ScheduleStatus = "completed"
)

// SessionStatus tracks the teaching state of a single session.
type SessionStatus string

// Session statuses.
const (
	SessionPending    SessionStatus = "pending"
	SessionAvailable  SessionStatus = "available"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbsent     SessionStatus = "absent"
	SessionLeave      SessionStatus = "leave"
)

// WeekdayNames maps time.Weekday to the stored day name. Single source for the
// weekday table used by schedules and the recurrence calculator.
var WeekdayNames = map[time.Weekday]string{
	time.Sunday:    "Sunday",
	time.Monday:    "Monday",
	time.Tuesday:   "Tuesday",
	time.Wednesday: "Wednesday",
	time.Thursday:  "Thursday",
	time.Friday:    "Friday",
	time.Saturday:  "Saturday",
}

// WeekdayByName resolves a stored day name back to a time.Weekday.
func WeekdayByName(name string) (time.Weekday, bool) {
	for wd, n := range WeekdayNames {
		if n == name {
			return wd, true
		}
	}
	return time.Sunday, false
}

// DayName returns the stored weekday name for a date.
func DayName(t time.Time) string {
	return WeekdayNames[t.Weekday()]
}
