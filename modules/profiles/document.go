package profiles

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cynacedia/VRC-Event-Creator/patterns"
)

// Automation modes.
const (
	ModeBefore  = "before"
	ModeAfter   = "after"
	ModeMonthly = "monthly"
)

// Repeat policies.
const (
	RepeatIndefinite = "indefinite"
	RepeatCount      = "count"
)

// Ref identifies a profile within a target.
type Ref struct {
	TargetID string `json:"targetId"`
	Key      string `json:"profileKey"`
}

func (r Ref) String() string {
	return r.TargetID + "/" + r.Key
}

// AutomationSettings controls when the engine publishes a profile's slots.
type AutomationSettings struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Mode    string `yaml:"mode" json:"mode"`

	// Before mode: publish this far ahead of the event start.
	DaysBefore    int `yaml:"days_before" json:"daysBefore"`
	HoursBefore   int `yaml:"hours_before" json:"hoursBefore"`
	MinutesBefore int `yaml:"minutes_before" json:"minutesBefore"`

	// After mode: publish this long after the previous event ends.
	OffsetMinutes int `yaml:"offset_minutes" json:"offsetMinutes"`

	// Monthly mode: publish on a fixed day of the event's month.
	MonthlyDay    int `yaml:"monthly_day" json:"monthlyDay"`
	MonthlyHour   int `yaml:"monthly_hour" json:"monthlyHour"`
	MonthlyMinute int `yaml:"monthly_minute" json:"monthlyMinute"`

	Repeat      string `yaml:"repeat" json:"repeat"`
	RepeatCount int    `yaml:"repeat_count" json:"repeatCount"`
}

// Profile is one event template plus its automation settings, owned by a
// single target (VRChat group).
type Profile struct {
	TargetID        string
	Key             string
	Title           string
	Description     string
	Timezone        string
	DurationMinutes int
	Patterns        []patterns.Pattern
	Automation      AutomationSettings
}

// Ref returns the profile's identity pair.
func (p *Profile) Ref() Ref {
	return Ref{TargetID: p.TargetID, Key: p.Key}
}

// Location resolves the profile's IANA timezone, falling back to UTC when
// the name does not resolve. Load already warned about such profiles.
func (p *Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clone returns a deep copy so callers cannot mutate store state.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Patterns = make([]patterns.Pattern, len(p.Patterns))
	copy(cp.Patterns, p.Patterns)
	return &cp
}

// document is the on-disk shape of profiles.yaml.
type document struct {
	Targets []targetDoc `yaml:"targets"`
}

type targetDoc struct {
	ID       string       `yaml:"id"`
	Name     string       `yaml:"name"`
	Profiles []profileDoc `yaml:"profiles"`
}

type profileDoc struct {
	Key             string             `yaml:"key"`
	Title           string             `yaml:"title"`
	Description     string             `yaml:"description"`
	Timezone        string             `yaml:"timezone"`
	DurationMinutes int                `yaml:"duration_minutes"`
	Patterns        []patterns.Pattern `yaml:"patterns"`
	Automation      AutomationSettings `yaml:"automation"`
}

// parseDocument decodes and validates a profiles document. Entries that
// fail validation are dropped and reported as warnings; only a document
// that cannot be decoded at all is an error.
func parseDocument(data []byte) ([]*Profile, []string, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDocumentParse, err)
	}

	var (
		out      []*Profile
		warnings []string
	)
	seenTargets := map[string]bool{}
	for ti, t := range doc.Targets {
		if t.ID == "" {
			warnings = append(warnings, fmt.Sprintf("target %d has no id, dropped", ti))
			continue
		}
		if seenTargets[t.ID] {
			warnings = append(warnings, fmt.Sprintf("duplicate target id %q, later entry dropped", t.ID))
			continue
		}
		seenTargets[t.ID] = true

		seenKeys := map[string]bool{}
		for pi, pd := range t.Profiles {
			ref := fmt.Sprintf("target %q profile %d", t.ID, pi)
			if pd.Key == "" {
				warnings = append(warnings, ref+" has no key, dropped")
				continue
			}
			if seenKeys[pd.Key] {
				warnings = append(warnings, fmt.Sprintf("duplicate profile key %q in target %q, later entry dropped", pd.Key, t.ID))
				continue
			}
			if pd.Timezone != "" {
				if _, err := time.LoadLocation(pd.Timezone); err != nil {
					warnings = append(warnings, fmt.Sprintf("profile %s/%s has unknown timezone %q, dropped", t.ID, pd.Key, pd.Timezone))
					continue
				}
			}
			auto := pd.Automation
			if auto.Mode == "" {
				auto.Mode = ModeBefore
			}
			if auto.Mode != ModeBefore && auto.Mode != ModeAfter && auto.Mode != ModeMonthly {
				warnings = append(warnings, fmt.Sprintf("profile %s/%s has unknown automation mode %q, dropped", t.ID, pd.Key, auto.Mode))
				continue
			}
			if auto.Repeat == "" {
				auto.Repeat = RepeatIndefinite
			}
			if auto.Repeat != RepeatIndefinite && auto.Repeat != RepeatCount {
				warnings = append(warnings, fmt.Sprintf("profile %s/%s has unknown repeat policy %q, dropped", t.ID, pd.Key, auto.Repeat))
				continue
			}
			for i, pat := range pd.Patterns {
				if err := pat.Validate(); err != nil {
					warnings = append(warnings, fmt.Sprintf("profile %s/%s pattern %d: %v (kept, pattern will not expand)", t.ID, pd.Key, i, err))
				}
			}
			seenKeys[pd.Key] = true
			out = append(out, &Profile{
				TargetID:        t.ID,
				Key:             pd.Key,
				Title:           pd.Title,
				Description:     pd.Description,
				Timezone:        pd.Timezone,
				DurationMinutes: pd.DurationMinutes,
				Patterns:        pd.Patterns,
				Automation:      auto,
			})
		}
	}
	return out, warnings, nil
}
