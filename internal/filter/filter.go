// Package filter answers which tasks the user is looking at. It derives every
// view from the stores and never owns an entity.
package filter

import (
	"fmt"
	"strings"
	"time"

	"todoline/internal/domain"
)

type Kind string

const (
	General Kind = "general"
	Group   Kind = "group"
)

// General criteria.
const (
	All       = "all"
	Completed = "completed"
	Today     = "today"
	Week      = "week"
	Overdue   = "overdue"
)

// Criteria lists the general criteria in display order.
var Criteria = []string{All, Completed, Today, Week, Overdue}

// Selector is the active view. For General the criterion is one of Criteria;
// for Group it is a group id.
type Selector struct {
	Kind      Kind
	Criterion string
}

var Default = Selector{Kind: General, Criterion: All}

func (s Selector) String() string { return string(s.Kind) + "/" + s.Criterion }

// ParseSelector builds a selector from a view name or, when groupID is set, a
// group. The empty view means All.
func ParseSelector(view, groupID string) (Selector, error) {
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		return Selector{Kind: Group, Criterion: groupID}, nil
	}
	view = strings.ToLower(strings.TrimSpace(view))
	if view == "" {
		return Default, nil
	}
	if view == "this-week" {
		view = Week
	}
	for _, c := range Criteria {
		if c == view {
			return Selector{Kind: General, Criterion: c}, nil
		}
	}
	return Selector{}, fmt.Errorf("unknown view %q", view)
}

// Matcher evaluates selectors. WeekStart picks the first day of a week.
type Matcher struct {
	WeekStart time.Weekday
}

// Matches reports whether t belongs to the view selected by sel at time now.
// Only the completed view shows completed tasks; date views never match a
// task without a deadline.
func (m Matcher) Matches(t domain.Task, sel Selector, now time.Time) bool {
	if sel.Kind == Group {
		return !t.Completed && t.GroupRef == sel.Criterion
	}
	switch sel.Criterion {
	case All:
		return !t.Completed
	case Completed:
		return t.Completed
	}
	if t.Completed || t.Deadline == nil {
		return false
	}
	switch sel.Criterion {
	case Today:
		return IsToday(*t.Deadline, now)
	case Week:
		return IsThisWeek(*t.Deadline, now, m.WeekStart)
	case Overdue:
		return IsOverdue(*t.Deadline, now)
	}
	return false
}

// Matches uses weeks starting on Sunday.
func Matches(t domain.Task, sel Selector, now time.Time) bool {
	return Matcher{WeekStart: time.Sunday}.Matches(t, sel, now)
}

// StartOfDay is midnight of now's calendar day in now's location.
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func IsToday(d, now time.Time) bool {
	start := StartOfDay(now)
	d = d.In(now.Location())
	return !d.Before(start) && d.Before(start.AddDate(0, 0, 1))
}

// IsThisWeek reports whether d falls in the calendar week containing now.
func IsThisWeek(d, now time.Time, weekStart time.Weekday) bool {
	today := StartOfDay(now)
	offset := (int(today.Weekday()) - int(weekStart) + 7) % 7
	start := today.AddDate(0, 0, -offset)
	d = d.In(now.Location())
	return !d.Before(start) && d.Before(start.AddDate(0, 0, 7))
}

// IsOverdue reports whether d is before the start of today. A deadline earlier
// today is not overdue yet.
func IsOverdue(d, now time.Time) bool {
	return d.In(now.Location()).Before(StartOfDay(now))
}

// ParseWeekStart accepts sunday or monday.
func ParseWeekStart(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	}
	return time.Sunday, fmt.Errorf("week start must be sunday or monday, got %q", s)
}
