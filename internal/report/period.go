package report

import (
	"fmt"
	"time"
)

// Window is a reporting range. A zero Since means all of history. Now and
// Loc anchor the "today" sections.
type Window struct {
	Label string
	Since time.Time
	Until time.Time
	Now   time.Time
	Loc   *time.Location
}

// AllTime reports whether the window has no lower bound.
func (w Window) AllTime() bool {
	return w.Since.IsZero()
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Since.IsZero() && t.Before(w.Since) {
		return false
	}
	return w.Until.IsZero() || !t.After(w.Until)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// ParsePeriod maps today, 7d, 30d and all to a window. Day boundaries are
// local midnights in loc; 7d is today plus the six days before it.
func ParsePeriod(period string, now time.Time, loc *time.Location) (Window, error) {
	switch period {
	case "", "today":
		return DaysWindow(1, now, loc).withLabel("today"), nil
	case "7d":
		return DaysWindow(7, now, loc).withLabel("7d"), nil
	case "30d":
		return DaysWindow(30, now, loc).withLabel("30d"), nil
	case "all":
		return DaysWindow(0, now, loc).withLabel("all"), nil
	default:
		return Window{}, fmt.Errorf("unknown period %q", period)
	}
}

// DaysWindow covers the last days local calendar days including today.
// days <= 0 covers all of history.
func DaysWindow(days int, now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	w := Window{
		Label: fmt.Sprintf("%dd", days),
		Until: now.UTC(),
		Now:   now,
		Loc:   loc,
	}
	if days <= 0 {
		w.Label = "all"
		return w
	}
	today := startOfDay(now, loc)
	w.Since = today.AddDate(0, 0, -(days - 1)).UTC()
	return w
}

func (w Window) withLabel(l string) Window {
	w.Label = l
	return w
}
