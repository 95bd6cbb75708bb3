// Package branch models the physical restaurant locations orders are routed to.
package branch

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a branch does not exist.
var ErrNotFound = errors.New("branch not found")

// Branch is a restaurant location with its opening schedule.
type Branch struct {
	ID       string
	Name     string
	Address  string
	Phone    string
	Schedule []ScheduleEntry
}

// ScheduleEntry is one opening window. Opens and Closes are minutes since
// midnight; a window with Closes <= Opens runs past midnight.
type ScheduleEntry struct {
	Day    time.Weekday
	Opens  int
	Closes int
}

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(m int) string {
	return time.Date(0, 1, 1, m/60, m%60, 0, 0, time.UTC).Format("15:04")
}

// IsOpenAt reports whether any schedule window covers t (in t's location).
func (b *Branch) IsOpenAt(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	yesterday := (t.Weekday() + 6) % 7
	for _, e := range b.Schedule {
		switch {
		case e.Closes > e.Opens:
			if e.Day == t.Weekday() && minute >= e.Opens && minute < e.Closes {
				return true
			}
		default:
			// Overnight window: the tail of yesterday's entry counts too.
			if e.Day == t.Weekday() && minute >= e.Opens {
				return true
			}
			if e.Day == yesterday && minute < e.Closes {
				return true
			}
		}
	}
	return false
}

// Repository reads branches.
type Repository interface {
	Get(ctx context.Context, id string) (*Branch, error)
}
