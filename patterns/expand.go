package patterns

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
)

// cronIterationCap bounds expansion of a single cron pattern so a
// pathological expression cannot spin the caller.
const cronIterationCap = 10000

func parseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	return sched, nil
}

// Expand enumerates every slot the patterns produce strictly after now and
// no later than now plus monthsAhead calendar months, in loc wall-clock
// time. Slots are merged across patterns, sorted ascending by start and
// de-duplicated on identical instants (the earlier pattern wins).
//
// Invalid patterns do not abort the call: their errors are aggregated into
// the returned error (one per bad pattern, naming its index) while the
// remaining patterns still expand. Callers that want strictness check the
// error; callers that want resilience use the slots and log it.
func Expand(pats []Pattern, monthsAhead int, loc *time.Location, now time.Time) ([]Slot, error) {
	if loc == nil {
		loc = time.UTC
	}
	if monthsAhead < 1 {
		monthsAhead = 1
	}
	horizon := now.AddDate(0, monthsAhead, 0)

	var errs error
	slots := make([]Slot, 0, len(pats)*8)
	for i, p := range pats {
		if err := p.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pattern %d: %w", i, err))
			continue
		}
		slots = append(slots, expandPattern(p, loc, now, horizon)...)
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].StartsAt.Before(slots[j].StartsAt) })
	out := slots[:0]
	for _, s := range slots {
		if len(out) > 0 && s.StartsAt.Equal(out[len(out)-1].StartsAt) {
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

func expandPattern(p Pattern, loc *time.Location, now, horizon time.Time) []Slot {
	switch p.Kind {
	case KindWeekly:
		return weekdayIntervalSlots(p, loc, now, horizon, 7)
	case KindBiweekly:
		return weekdayIntervalSlots(p, loc, now, horizon, 14)
	case KindMonthlyOccurrence:
		return monthlyOccurrenceSlots(p, loc, now, horizon)
	case KindLastWeekday:
		return lastWeekdaySlots(p, loc, now, horizon)
	case KindAnnual:
		return annualSlots(p, loc, now, horizon)
	case KindCron:
		return cronSlots(p, loc, now, horizon)
	}
	return nil
}

// firstOnWeekday returns the first instant strictly after now that falls on
// wd at hour:minute local time. Each candidate is rebuilt from its calendar
// date so a DST gap on one occurrence cannot drift the clock time of the
// following ones.
func firstOnWeekday(now time.Time, wd time.Weekday, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	t := time.Date(y, m, d, hour, minute, 0, 0, loc)
	for t.Weekday() != wd || !t.After(now) {
		y, m, d = t.Date()
		t = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}
	return t
}

func weekdayIntervalSlots(p Pattern, loc *time.Location, now, horizon time.Time, stepDays int) []Slot {
	var out []Slot
	t := firstOnWeekday(now, time.Weekday(p.Weekday), p.Hour, p.Minute, loc)
	for !t.After(horizon) {
		out = append(out, Slot{StartsAt: t, DurationMinutes: p.DurationMinutes})
		y, m, d := t.Date()
		t = time.Date(y, m, d+stepDays, p.Hour, p.Minute, 0, 0, loc)
	}
	return out
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// nthWeekdayOfMonth returns the n-th wd of the given month, or false when
// the month has no such occurrence (a fifth Friday, say).
func nthWeekdayOfMonth(year int, month time.Month, wd time.Weekday, n, hour, minute int, loc *time.Location) (time.Time, bool) {
	first := time.Date(year, month, 1, hour, minute, 0, 0, loc)
	day := 1 + (int(wd)-int(first.Weekday())+7)%7 + (n-1)*7
	if day > daysInMonth(year, month) {
		return time.Time{}, false
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc), true
}

func lastWeekdayOfMonth(year int, month time.Month, wd time.Weekday, hour, minute int, loc *time.Location) time.Time {
	lastDay := daysInMonth(year, month)
	last := time.Date(year, month, lastDay, hour, minute, 0, 0, loc)
	day := lastDay - (int(last.Weekday())-int(wd)+7)%7
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func monthlyOccurrenceSlots(p Pattern, loc *time.Location, now, horizon time.Time) []Slot {
	var out []Slot
	local := now.In(loc)
	year, month := local.Year(), local.Month()
	for {
		cursor := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		if cursor.After(horizon) {
			break
		}
		if t, ok := nthWeekdayOfMonth(year, month, time.Weekday(p.Weekday), p.Occurrence, p.Hour, p.Minute, loc); ok {
			if t.After(now) && !t.After(horizon) {
				out = append(out, Slot{StartsAt: t, DurationMinutes: p.DurationMinutes})
			}
		}
		year, month = nextMonth(year, month)
	}
	return out
}

func lastWeekdaySlots(p Pattern, loc *time.Location, now, horizon time.Time) []Slot {
	var out []Slot
	local := now.In(loc)
	year, month := local.Year(), local.Month()
	for {
		cursor := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		if cursor.After(horizon) {
			break
		}
		t := lastWeekdayOfMonth(year, month, time.Weekday(p.Weekday), p.Hour, p.Minute, loc)
		if t.After(now) && !t.After(horizon) {
			out = append(out, Slot{StartsAt: t, DurationMinutes: p.DurationMinutes})
		}
		year, month = nextMonth(year, month)
	}
	return out
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func annualSlots(p Pattern, loc *time.Location, now, horizon time.Time) []Slot {
	var out []Slot
	for year := now.In(loc).Year(); year <= horizon.In(loc).Year(); year++ {
		day := p.Day
		if max := daysInMonth(year, time.Month(p.Month)); day > max {
			day = max
		}
		t := time.Date(year, time.Month(p.Month), day, p.Hour, p.Minute, 0, 0, loc)
		if t.After(now) && !t.After(horizon) {
			out = append(out, Slot{StartsAt: t, DurationMinutes: p.DurationMinutes})
		}
	}
	return out
}

func cronSlots(p Pattern, loc *time.Location, now, horizon time.Time) []Slot {
	sched, err := parseCron(p.CronExpr)
	if err != nil {
		// Validate already rejected it; unreachable for callers going
		// through Expand.
		return nil
	}
	var out []Slot
	t := now.In(loc)
	for i := 0; i < cronIterationCap; i++ {
		t = sched.Next(t)
		if t.IsZero() || t.After(horizon) {
			break
		}
		out = append(out, Slot{StartsAt: t, DurationMinutes: p.DurationMinutes})
	}
	return out
}
