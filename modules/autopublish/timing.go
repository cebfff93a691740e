package autopublish

import (
	"time"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
)

// defaultDurationMinutes applies when neither the profile nor an override
// supplies an event length.
const defaultDurationMinutes = 60

// beforePublishTime is the before-mode calculation: publish a fixed span
// ahead of the event start.
func beforePublishTime(auto profiles.AutomationSettings, start time.Time) time.Time {
	offset := time.Duration(auto.DaysBefore)*24*time.Hour +
		time.Duration(auto.HoursBefore)*time.Hour +
		time.Duration(auto.MinutesBefore)*time.Minute
	return start.Add(-offset)
}

// monthlyPublishTime publishes on a fixed day of the event's month, in the
// profile's location. The day clamps to the month's last day, and when the
// result is not strictly before the start the calculation steps one month
// back, re-clamping.
func monthlyPublishTime(auto profiles.AutomationSettings, loc *time.Location, start time.Time) time.Time {
	local := start.In(loc)
	year, month := local.Year(), local.Month()
	t := monthlyInstant(year, month, auto, loc)
	if !t.Before(start) {
		year, month = prevMonth(year, month)
		t = monthlyInstant(year, month, auto, loc)
	}
	return t
}

func monthlyInstant(year int, month time.Month, auto profiles.AutomationSettings, loc *time.Location) time.Time {
	day := auto.MonthlyDay
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, auto.MonthlyHour, auto.MonthlyMinute, 0, 0, loc)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func prevMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

// afterPublishTime is the after-mode calculation used during slot
// expansion: publish a fixed offset after the previous event ends. When
// that lands past the midpoint between the previous start and this start,
// the timing switches to before-mode against this slot, so a long gap
// between events does not delay the announcement absurdly.
func afterPublishTime(auto profiles.AutomationSettings, prevStart, prevEnd, start time.Time) time.Time {
	publish := prevEnd.Add(time.Duration(auto.OffsetMinutes) * time.Minute)
	mid := prevStart.Add(start.Sub(prevStart) / 2)
	if publish.After(mid) {
		return beforePublishTime(auto, start)
	}
	return publish
}

// capPublishTime enforces the hard lead-time floor:
// publish <= start - minLead.
func capPublishTime(publish, start time.Time, minLead time.Duration) time.Time {
	latest := start.Add(-minLead)
	if publish.After(latest) {
		return latest
	}
	return publish
}

// standalonePublishTime computes a publish instant without expansion
// context (normalization repair, restore, override recomputation). After
// mode has no previous slot here, so before-mode timing substitutes.
func standalonePublishTime(p *profiles.Profile, start time.Time, minLead time.Duration) time.Time {
	var publish time.Time
	switch p.Automation.Mode {
	case profiles.ModeMonthly:
		publish = monthlyPublishTime(p.Automation, p.Location(), start)
	default:
		publish = beforePublishTime(p.Automation, start)
	}
	return capPublishTime(publish, start, minLead)
}

// eventDuration resolves the effective event length for a record.
func eventDuration(p *profiles.Profile, rec *PendingRecord) time.Duration {
	minutes := 0
	if rec != nil && rec.ManualOverrides != nil && rec.ManualOverrides.DurationMinutes != nil {
		minutes = *rec.ManualOverrides.DurationMinutes
	}
	if minutes <= 0 && p != nil {
		minutes = p.DurationMinutes
	}
	if minutes <= 0 {
		minutes = defaultDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}
