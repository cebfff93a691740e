// Package patterns expands recurrence patterns into concrete event slots.
//
// A Pattern describes when a recurring event happens in a profile's local
// timezone (every Friday at 19:00, the second Saturday of the month, ...).
// Expand turns a set of patterns into the ordered list of upcoming slots
// inside a horizon window. The package is side-effect free: results depend
// only on the inputs, so callers can substitute a fixed "now" in tests.
package patterns

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pattern validation errors.
var (
	ErrUnknownKind       = errors.New("unknown pattern kind")
	ErrInvalidWeekday    = errors.New("weekday must be between sunday and saturday")
	ErrInvalidOccurrence = errors.New("occurrence must be between 1 and 5")
	ErrInvalidMonth      = errors.New("month must be between 1 and 12")
	ErrInvalidDay        = errors.New("day must be between 1 and 31")
	ErrInvalidClockTime  = errors.New("hour/minute out of range")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
)

// Kind identifies how a pattern recurs.
type Kind string

// Supported pattern kinds.
const (
	// KindWeekly repeats on a weekday every week.
	KindWeekly Kind = "weekly"
	// KindBiweekly repeats on a weekday every second week, counted from the
	// first occurrence inside the expansion window.
	KindBiweekly Kind = "biweekly"
	// KindMonthlyOccurrence repeats on the N-th weekday of each month
	// (second Saturday, fourth Tuesday, ...). Months without that occurrence
	// are skipped.
	KindMonthlyOccurrence Kind = "monthly-occurrence"
	// KindLastWeekday repeats on the last weekday of each month.
	KindLastWeekday Kind = "last-weekday"
	// KindAnnual repeats once a year on a fixed month/day, clamped to the
	// month's last day.
	KindAnnual Kind = "annual"
	// KindCron repeats per a standard 5-field cron expression.
	KindCron Kind = "cron"
)

// Weekday wraps time.Weekday so profile documents can spell days by name.
type Weekday time.Weekday

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// String returns the standard English day name.
func (w Weekday) String() string {
	return time.Weekday(w).String()
}

// UnmarshalYAML accepts either a day name ("friday") or a numeric weekday
// (0 = Sunday), matching how operators write profile documents.
func (w *Weekday) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err == nil {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidWeekday, name)
		}
		*w = Weekday(day)
		return nil
	}
	var num int
	if err := value.Decode(&num); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidWeekday, value.Value)
	}
	if num < 0 || num > 6 {
		return fmt.Errorf("%w: %d", ErrInvalidWeekday, num)
	}
	*w = Weekday(num)
	return nil
}

// MarshalYAML writes the lowercase day name.
func (w Weekday) MarshalYAML() (interface{}, error) {
	return strings.ToLower(w.String()), nil
}

// MarshalJSON writes the lowercase day name.
func (w Weekday) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strings.ToLower(w.String()) + `"`), nil
}

// UnmarshalJSON accepts a quoted day name or a bare number.
func (w *Weekday) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if day, ok := weekdayNames[strings.ToLower(text)]; ok {
		*w = Weekday(day)
		return nil
	}
	var num int
	if _, err := fmt.Sscanf(text, "%d", &num); err != nil || num < 0 || num > 6 {
		return fmt.Errorf("%w: %s", ErrInvalidWeekday, text)
	}
	*w = Weekday(num)
	return nil
}

// Pattern describes one recurrence rule. Hour and Minute fix the local
// wall-clock start time for every kind except cron, which carries its own
// time fields in the expression.
type Pattern struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// Weekday applies to weekly, biweekly, monthly-occurrence and
	// last-weekday kinds.
	Weekday Weekday `yaml:"weekday,omitempty" json:"weekday,omitempty"`

	// Occurrence selects the N-th weekday of the month (1-5) for the
	// monthly-occurrence kind.
	Occurrence int `yaml:"occurrence,omitempty" json:"occurrence,omitempty"`

	// Month and Day apply to the annual kind. Day is clamped to the last
	// day of the month (February 30 becomes February 28/29).
	Month int `yaml:"month,omitempty" json:"month,omitempty"`
	Day   int `yaml:"day,omitempty" json:"day,omitempty"`

	// Hour and Minute are the local start time.
	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`

	// CronExpr is a standard 5-field cron expression for the cron kind.
	CronExpr string `yaml:"cron,omitempty" json:"cron,omitempty"`

	// DurationMinutes is the event length for slots from this pattern.
	// Zero means the profile default applies downstream.
	DurationMinutes int `yaml:"duration_minutes,omitempty" json:"duration_minutes,omitempty"`
}

// Slot is one concrete upcoming event occurrence.
type Slot struct {
	StartsAt        time.Time
	DurationMinutes int
}

// Validate checks the pattern's fields for its kind.
func (p Pattern) Validate() error {
	if p.Kind != KindCron {
		if p.Hour < 0 || p.Hour > 23 || p.Minute < 0 || p.Minute > 59 {
			return fmt.Errorf("%w: %02d:%02d", ErrInvalidClockTime, p.Hour, p.Minute)
		}
	}
	switch p.Kind {
	case KindWeekly, KindBiweekly, KindLastWeekday:
		return p.validateWeekday()
	case KindMonthlyOccurrence:
		if err := p.validateWeekday(); err != nil {
			return err
		}
		if p.Occurrence < 1 || p.Occurrence > 5 {
			return fmt.Errorf("%w: %d", ErrInvalidOccurrence, p.Occurrence)
		}
	case KindAnnual:
		if p.Month < 1 || p.Month > 12 {
			return fmt.Errorf("%w: %d", ErrInvalidMonth, p.Month)
		}
		if p.Day < 1 || p.Day > 31 {
			return fmt.Errorf("%w: %d", ErrInvalidDay, p.Day)
		}
	case KindCron:
		if _, err := parseCron(p.CronExpr); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidCronExpr, p.CronExpr, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	return nil
}

func (p Pattern) validateWeekday() error {
	if p.Weekday < 0 || p.Weekday > 6 {
		return fmt.Errorf("%w: %d", ErrInvalidWeekday, int(p.Weekday))
	}
	return nil
}
