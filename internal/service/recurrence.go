package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/ilmhub/tcm-api/internal/models"
)

// NextOccurrence computes the next class date after anchor for the given
// recurrence pattern. originalDay is the weekday of the template schedule and
// only matters for the weekly pattern. The boolean result is false when the
// pattern cannot produce a date (custom pattern with no matching day).
func NextOccurrence(anchor time.Time, pattern models.RecurrencePattern, customDays []string, originalDay time.Weekday) (time.Time, bool) {
	anchor = truncateToDate(anchor)

	switch pattern {
	case models.RecurrenceWeekly:
		offset := (int(originalDay) - int(anchor.Weekday()) + 7) % 7
		if offset == 0 {
			offset = 7
		}
		return anchor.AddDate(0, 0, offset), true

	case models.RecurrenceWeekdays:
		next := anchor.AddDate(0, 0, 1)
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
		return next, true

	case models.RecurrenceCustom:
		if len(customDays) == 0 {
			return time.Time{}, false
		}
		wanted := make(map[time.Weekday]bool, len(customDays))
		for _, name := range customDays {
			if wd, ok := models.WeekdayByName(name); ok {
				wanted[wd] = true
			}
		}
		for offset := 1; offset <= 7; offset++ {
			candidate := anchor.AddDate(0, 0, offset)
			if wanted[candidate.Weekday()] {
				return candidate, true
			}
		}
		return time.Time{}, false
	}

	return time.Time{}, false
}

// ShouldDeleteClass reports whether a pending occurrence is still safe to
// remove during a deactivation cascade. A class that has started, ended, moved
// past pending, or whose scheduled end time has already elapsed is preserved
// so attendance and lesson records stay intact.
func ShouldDeleteClass(s *models.Schedule, now time.Time) bool {
	if s == nil {
		return false
	}
	if s.ClassStartedAt != nil || s.ClassEndedAt != nil {
		return false
	}
	if s.SessionStatus == models.SessionInProgress || s.SessionStatus == models.SessionCompleted {
		return false
	}
	if s.Status == models.ScheduleCompleted {
		return false
	}
	if classEnd, ok := combineDateTime(s.ClassDate, s.EndTime); ok && !classEnd.After(now) {
		return false
	}
	return true
}

// combineDateTime merges a calendar date with an HH:MM wall time.
func combineDateTime(date time.Time, hhmm string) (time.Time, bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, false
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), true
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
