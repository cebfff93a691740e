package autopublish

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is a pending record's lifecycle state.
type Status string

// Record lifecycle states. All but StatusProcessing are durable.
const (
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusMissed    Status = "missed"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"

	// StatusProcessing marks a record whose publish call is in flight.
	// It is never persisted; normalization resets it to scheduled.
	StatusProcessing Status = "processing"
)

// durable reports whether the status may appear in a persisted document.
func (s Status) durable() bool {
	switch s {
	case StatusScheduled, StatusQueued, StatusMissed, StatusPublished, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// terminal reports whether no publisher will touch the record again.
func (s Status) terminal() bool {
	return s == StatusPublished || s == StatusCancelled
}

// active reports whether the record still represents unpublished work.
func (s Status) active() bool {
	return s == StatusScheduled || s == StatusQueued || s == StatusMissed || s == StatusProcessing
}

// PendingRecord is one materialized slot with its computed publish time and
// lifecycle status. ID is the slot key at creation time and never changes;
// SlotKey is recomputed whenever the event start moves.
type PendingRecord struct {
	ID                   string          `json:"id"`
	TargetID             string          `json:"targetId"`
	ProfileKey           string          `json:"profileKey"`
	SlotKey              string          `json:"slotKey"`
	EventStartsAt        time.Time       `json:"eventStartsAt"`
	ScheduledPublishTime *time.Time      `json:"scheduledPublishTime,omitempty"`
	Status               Status          `json:"status"`
	EventID              string          `json:"eventId,omitempty"`
	ManualOverrides      *EventOverrides `json:"manualOverrides,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	QueuedAt             *time.Time      `json:"queuedAt,omitempty"`
	MissedAt             *time.Time      `json:"missedAt,omitempty"`
	DeletedAt            *time.Time      `json:"deletedAt,omitempty"`
}

// Clone returns a deep copy safe to hand outside the engine.
func (r *PendingRecord) Clone() PendingRecord {
	cp := *r
	cp.ScheduledPublishTime = cloneTime(r.ScheduledPublishTime)
	cp.QueuedAt = cloneTime(r.QueuedAt)
	cp.MissedAt = cloneTime(r.MissedAt)
	cp.DeletedAt = cloneTime(r.DeletedAt)
	if r.ManualOverrides != nil {
		ov := r.ManualOverrides.clone()
		cp.ManualOverrides = &ov
	}
	return cp
}

// keys returns the identity strings the record answers to.
func (r *PendingRecord) keys() []string {
	if r.ID == r.SlotKey {
		return []string{r.ID}
	}
	return []string{r.ID, r.SlotKey}
}

// EventOverrides is the user-applied partial of the event details. A nil
// field leaves the generated value in effect.
type EventOverrides struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	EventStartsAt   *time.Time `json:"eventStartsAt,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`

	// PublishTime pins the publish instant, winning over recomputation.
	// The minimum-lead-time cap still applies.
	PublishTime *time.Time `json:"publishTime,omitempty"`
}

func (o *EventOverrides) clone() EventOverrides {
	cp := EventOverrides{}
	if o == nil {
		return cp
	}
	if o.Title != nil {
		v := *o.Title
		cp.Title = &v
	}
	if o.Description != nil {
		v := *o.Description
		cp.Description = &v
	}
	cp.EventStartsAt = cloneTime(o.EventStartsAt)
	if o.DurationMinutes != nil {
		v := *o.DurationMinutes
		cp.DurationMinutes = &v
	}
	cp.PublishTime = cloneTime(o.PublishTime)
	return cp
}

// merge applies in's non-nil fields over o.
func (o *EventOverrides) merge(in EventOverrides) {
	if in.Title != nil {
		o.Title = in.Title
	}
	if in.Description != nil {
		o.Description = in.Description
	}
	if in.EventStartsAt != nil {
		o.EventStartsAt = in.EventStartsAt
	}
	if in.DurationMinutes != nil {
		o.DurationMinutes = in.DurationMinutes
	}
	if in.PublishTime != nil {
		o.PublishTime = in.PublishTime
	}
}

func (o *EventOverrides) isEmpty() bool {
	return o == nil || (o.Title == nil && o.Description == nil && o.EventStartsAt == nil &&
		o.DurationMinutes == nil && o.PublishTime == nil)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// EventDetails is the resolved payload handed to the publish transport.
type EventDetails struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// RemoteEvent is one upcoming event as reported by the remote calendar.
type RemoteEvent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"startsAt"`
}

const slotKeyPrefix = "pending_"

// makeSlotKey builds the canonical slot identifier
// pending_{targetId}_{profileKey}_{eventStartMillis}.
func makeSlotKey(targetID, profileKey string, startsAt time.Time) string {
	return fmt.Sprintf("%s%s_%s_%d", slotKeyPrefix, targetID, profileKey, startsAt.UnixMilli())
}

// slotKeyStartMillis extracts the trailing millisecond timestamp. Target and
// profile tokens may themselves contain underscores, so only the last
// underscore is significant.
func slotKeyStartMillis(key string) (int64, bool) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 || i == len(key)-1 {
		return 0, false
	}
	ms, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// isDeterministicID reports whether id already has the canonical form for
// the record's target and profile.
func isDeterministicID(id, targetID, profileKey string) bool {
	prefix := fmt.Sprintf("%s%s_%s_", slotKeyPrefix, targetID, profileKey)
	rest, found := strings.CutPrefix(id, prefix)
	if !found || rest == "" {
		return false
	}
	_, err := strconv.ParseInt(rest, 10, 64)
	return err == nil
}

// Hooks are optional callbacks fired after the corresponding state change
// has been persisted. They run outside the engine lock and are recovered
// from panics, so a misbehaving listener cannot take the engine down.
type Hooks struct {
	OnPublished func(record PendingRecord)
	OnMissed    func(record PendingRecord)
}
