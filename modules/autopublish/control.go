package autopublish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
	"github.com/Cynacedia/VRC-Event-Creator/patterns"
)

// MissedAction is a user decision applied to a record, usually one whose
// publish window was missed.
type MissedAction string

const (
	ActionPostNow    MissedAction = "postNow"
	ActionReschedule MissedAction = "reschedule"
	ActionCancel     MissedAction = "cancel"
)

// rescheduleFallback is used when a recomputed publish time is already
// past: publish shortly, not immediately.
const rescheduleFallback = 5 * time.Minute

// UpdateResult summarizes one profile re-sync.
type UpdateResult struct {
	Removed   int `json:"removed"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
}

// ReconcileResult summarizes one reconciliation pass over a target.
type ReconcileResult struct {
	Kept     int `json:"kept"`
	Dropped  int `json:"dropped"`
	Repaired int `json:"repaired"`
}

// ActionResult reports what a missed-record action did.
type ActionResult struct {
	Outcome string `json:"outcome"`
	EventID string `json:"eventId,omitempty"`
	Message string `json:"message,omitempty"`
}

// RestoreResult summarizes a deleted-pool restore.
type RestoreResult struct {
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
}

// SetKnownTargets prunes pending and deleted records owned by targets
// outside ids. A nil slice means the target set is unknown and nothing is
// pruned.
func (e *Engine) SetKnownTargets(ids []string) {
	if ids == nil {
		return
	}
	known := map[string]bool{}
	for _, id := range ids {
		known[id] = true
	}

	e.mu.Lock()
	removed := 0
	kept := e.doc.Events[:0]
	for _, rec := range e.doc.Events {
		if !known[rec.TargetID] {
			e.clearTimerLocked(rec.SlotKey)
			e.clearRetryLocked(rec.ID)
			e.gate.Remove(rec.ID)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	e.doc.Events = kept

	keptDeleted := e.doc.DeletedEvents[:0]
	for _, rec := range e.doc.DeletedEvents {
		if !known[rec.TargetID] {
			removed++
			continue
		}
		keptDeleted = append(keptDeleted, rec)
	}
	e.doc.DeletedEvents = keptDeleted

	if removed > 0 {
		e.persistPendingLocked()
	}
	e.mu.Unlock()
	if removed > 0 {
		e.logger.Info("dropped records for unknown targets", "count", removed, "targets", len(ids))
	}
}

// UpdatePendingForProfile re-syncs one profile's materialized records
// against its patterns and automation settings: auto-generated upcoming
// records are dropped and regenerated, records the user touched survive.
func (e *Engine) UpdatePendingForProfile(ctx context.Context, profile *profiles.Profile) (UpdateResult, error) {
	if profile == nil {
		return UpdateResult{}, fmt.Errorf("update pending: nil profile")
	}
	op := uuid.NewString()
	targetID, profileKey := profile.TargetID, profile.Key
	now := time.Now().UTC()

	e.mu.Lock()
	var result UpdateResult

	// Anchor candidate from the records as they stand, before the drop.
	var earliest *time.Time
	for _, rec := range e.doc.Events {
		if rec.TargetID != targetID || rec.ProfileKey != profileKey {
			continue
		}
		if earliest == nil || rec.EventStartsAt.Before(*earliest) {
			s := rec.EventStartsAt
			earliest = &s
		}
	}

	// Drop the auto-generated upcoming records; user-touched ones and
	// anything the gate or worker owns stay put.
	kept := e.doc.Events[:0]
	for _, rec := range e.doc.Events {
		auto := rec.TargetID == targetID && rec.ProfileKey == profileKey &&
			rec.ManualOverrides.isEmpty() &&
			(rec.Status == StatusScheduled || rec.Status == StatusMissed)
		if auto {
			e.clearTimerLocked(rec.SlotKey)
			e.clearRetryLocked(rec.ID)
			e.gate.Remove(rec.ID)
			result.Removed++
			continue
		}
		kept = append(kept, rec)
	}
	e.doc.Events = kept

	if !profile.Automation.Enabled {
		if result.Removed > 0 {
			e.persistPendingLocked()
		}
		e.mu.Unlock()
		e.logger.Info("automation disabled, pending cleared", "op", op, "target", targetID, "profile", profileKey, "removed", result.Removed)
		return result, nil
	}

	st := e.profileStateLocked(targetID, profileKey)
	anchor := st.ActivationStartsAt
	if anchor == nil && earliest != nil {
		anchor = earliest
		st.ActivationStartsAt = cloneTime(earliest)
		e.persistStateLocked()
		e.logger.Info("activation anchor derived from pending", "op", op, "target", targetID, "profile", profileKey, "anchor", *anchor)
	}
	if anchor == nil {
		// Nothing seeds generation yet; a manual event or first publish
		// will.
		if result.Removed > 0 {
			e.persistPendingLocked()
		}
		e.mu.Unlock()
		e.logger.Info("no activation anchor, nothing generated", "op", op, "target", targetID, "profile", profileKey)
		return result, nil
	}

	slots, expandErr := e.expand(profile.Patterns, e.cfg.MonthsAhead, profile.Location(), now)
	if expandErr != nil {
		e.logger.Warn("pattern expansion reported errors", "op", op, "target", targetID, "profile", profileKey, "error", expandErr)
	}
	publishTimes := plannedPublishTimes(profile, slots, st, e.cfg.AfterFirstAnchor, e.cfg.MinLeadTime, now)

	occupied := map[string]bool{}
	active := 0
	for _, rec := range e.doc.Events {
		if rec.TargetID != targetID || rec.ProfileKey != profileKey {
			continue
		}
		for _, k := range rec.keys() {
			occupied[k] = true
		}
		if rec.Status.active() {
			active++
		}
	}
	for _, rec := range e.doc.DeletedEvents {
		if rec.TargetID != targetID || rec.ProfileKey != profileKey {
			continue
		}
		for _, k := range rec.keys() {
			occupied[k] = true
		}
	}

	capacity := e.cfg.MaxMaterialized - active
	if profile.Automation.Repeat == profiles.RepeatCount {
		remaining := profile.Automation.RepeatCount - st.EventsCreated - active
		if remaining < capacity {
			capacity = remaining
		}
	}
	if capacity < 0 {
		capacity = 0
	}

	var generated []*PendingRecord
	for i, slot := range slots {
		start := slot.StartsAt.UTC()
		if !start.After(*anchor) {
			result.Skipped++
			continue
		}
		if st.hasPublishedTime(start.UnixMilli()) {
			result.Skipped++
			continue
		}
		key := makeSlotKey(targetID, profileKey, start)
		if occupied[key] {
			result.Skipped++
			continue
		}
		if len(generated) >= capacity {
			result.Skipped++
			continue
		}
		publish := publishTimes[i]
		rec := &PendingRecord{
			ID:                   key,
			TargetID:             targetID,
			ProfileKey:           profileKey,
			SlotKey:              key,
			EventStartsAt:        start,
			ScheduledPublishTime: &publish,
			Status:               StatusScheduled,
			CreatedAt:            now,
		}
		occupied[key] = true
		generated = append(generated, rec)
	}

	for _, rec := range generated {
		e.doc.Events = append(e.doc.Events, rec)
		e.scheduleRecordLocked(rec)
		result.Generated++
	}
	if result.Removed > 0 || result.Generated > 0 {
		e.persistPendingLocked()
		e.noteLocked(func() {
			e.emit(EventTypeRescheduled, map[string]any{
				"targetId":   targetID,
				"profileKey": profileKey,
				"removed":    result.Removed,
				"generated":  result.Generated,
			})
		})
	}
	notifs := e.takeNotifsLocked()
	e.mu.Unlock()
	e.flush(notifs)

	e.logger.Info("profile re-synced", "op", op, "target", targetID, "profile", profileKey,
		"removed", result.Removed, "generated", result.Generated, "skipped", result.Skipped)
	return result, nil
}

// plannedPublishTimes computes the publish instant for every expanded slot
// in sequence, so after-mode can chain each slot off the previous one.
func plannedPublishTimes(p *profiles.Profile, slots []patterns.Slot, st *ProfileState, firstAnchor string, minLead time.Duration, now time.Time) []time.Time {
	out := make([]time.Time, len(slots))
	auto := p.Automation
	switch auto.Mode {
	case profiles.ModeMonthly:
		loc := p.Location()
		for i, s := range slots {
			out[i] = capPublishTime(monthlyPublishTime(auto, loc, s.StartsAt), s.StartsAt, minLead)
		}
	case profiles.ModeAfter:
		var prevStart, prevEnd time.Time
		switch {
		case st.LastSuccess != nil:
			prevStart, prevEnd = *st.LastSuccess, *st.LastSuccess
		case firstAnchor == AnchorActivation && st.ActivationStartsAt != nil:
			prevStart, prevEnd = *st.ActivationStartsAt, *st.ActivationStartsAt
		default:
			prevStart, prevEnd = now, now
		}
		for i, s := range slots {
			out[i] = capPublishTime(afterPublishTime(auto, prevStart, prevEnd, s.StartsAt), s.StartsAt, minLead)
			prevStart = s.StartsAt
			prevEnd = s.StartsAt.Add(slotLength(p, s))
		}
	default:
		for i, s := range slots {
			out[i] = capPublishTime(beforePublishTime(auto, s.StartsAt), s.StartsAt, minLead)
		}
	}
	return out
}

// slotLength resolves a slot's event length from the pattern, the profile,
// then the default.
func slotLength(p *profiles.Profile, s patterns.Slot) time.Duration {
	minutes := s.DurationMinutes
	if minutes <= 0 {
		minutes = p.DurationMinutes
	}
	if minutes <= 0 {
		minutes = defaultDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// RecordManualEvent seeds or rewinds the profile's activation anchor. The
// anchor only ever moves backward, so an event seeded earlier activates
// earlier slots without un-publishing anything.
func (e *Engine) RecordManualEvent(targetID, profileKey string, startsAt time.Time) error {
	if startsAt.IsZero() {
		return fmt.Errorf("manual event: start time required")
	}
	start := startsAt.UTC()

	e.mu.Lock()
	st := e.profileStateLocked(targetID, profileKey)
	if st.ActivationStartsAt != nil && !start.Before(*st.ActivationStartsAt) {
		e.mu.Unlock()
		return nil
	}
	st.ActivationStartsAt = &start
	e.persistStateLocked()
	e.mu.Unlock()

	e.logger.Info("activation anchor set", "target", targetID, "profile", profileKey, "anchor", start)
	return nil
}

// ReconcilePublished checks this target's published records against the
// remote upcoming list: records whose event is gone remotely are dropped
// and their slot freed, records with a lost eventId are re-matched by start
// time (title as tie-break) and adopt the remote id.
func (e *Engine) ReconcilePublished(targetID string, remote []RemoteEvent) (ReconcileResult, error) {
	op := uuid.NewString()
	now := time.Now().UTC()

	byID := map[string]RemoteEvent{}
	byStart := map[int64][]RemoteEvent{}
	for _, ev := range remote {
		byID[ev.ID] = ev
		byStart[ev.StartsAt.UTC().UnixMilli()] = append(byStart[ev.StartsAt.UTC().UnixMilli()], ev)
	}

	e.mu.Lock()
	var result ReconcileResult
	stateChanged := false
	kept := e.doc.Events[:0]
	for _, rec := range e.doc.Events {
		if rec.TargetID != targetID || rec.Status != StatusPublished {
			kept = append(kept, rec)
			continue
		}
		// The remote list only covers upcoming events; past publishes are
		// out of its domain and stay untouched.
		if !rec.EventStartsAt.After(now) {
			kept = append(kept, rec)
			result.Kept++
			continue
		}

		if rec.EventID != "" {
			if _, ok := byID[rec.EventID]; ok {
				kept = append(kept, rec)
				result.Kept++
				continue
			}
		} else if match, ok := e.matchRemoteLocked(rec, byStart); ok {
			rec.EventID = match.ID
			kept = append(kept, rec)
			result.Repaired++
			continue
		}

		// Gone remotely: free the slot so expansion can regenerate it.
		st := e.profileStateLocked(rec.TargetID, rec.ProfileKey)
		st.removePublishedTime(rec.EventStartsAt.UnixMilli())
		if st.EventsCreated > 0 {
			st.EventsCreated--
		}
		stateChanged = true
		result.Dropped++
		e.logger.Warn("published record lost remotely, slot freed", "op", op,
			"id", rec.ID, "target", targetID, "eventId", rec.EventID)
	}
	e.doc.Events = kept

	if result.Dropped > 0 || result.Repaired > 0 {
		e.persistPendingLocked()
	}
	if stateChanged {
		e.persistStateLocked()
	}
	e.mu.Unlock()

	if result.Dropped > 0 || result.Repaired > 0 {
		e.logger.Info("reconciliation finished", "op", op, "target", targetID,
			"kept", result.Kept, "dropped", result.Dropped, "repaired", result.Repaired)
	}
	return result, nil
}

// matchRemoteLocked pairs a published record lacking an eventId with a
// remote event starting at the same instant, preferring a title match when
// several qualify. Requires e.mu.
func (e *Engine) matchRemoteLocked(rec *PendingRecord, byStart map[int64][]RemoteEvent) (RemoteEvent, bool) {
	candidates := byStart[rec.EventStartsAt.UnixMilli()]
	if len(candidates) == 0 {
		return RemoteEvent{}, false
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	title := ""
	if profile, ok := e.profiles.Profile(rec.TargetID, rec.ProfileKey); ok {
		title = profile.Title
	}
	if rec.ManualOverrides != nil && rec.ManualOverrides.Title != nil {
		title = *rec.ManualOverrides.Title
	}
	if title != "" {
		for _, ev := range candidates {
			if ev.Title == title {
				return ev, true
			}
		}
	}
	return candidates[0], true
}

// ApplyOverrides merges user overrides into a record. A moved event start
// re-keys the slot, recomputes the publish time and re-classifies the
// record; a pinned PublishTime wins over recomputation but still respects
// the lead-time cap.
func (e *Engine) ApplyOverrides(slotOrID string, ov EventOverrides) (*PendingRecord, error) {
	op := uuid.NewString()
	now := time.Now().UTC()

	e.mu.Lock()
	rec := e.findBySlotOrIDLocked(slotOrID)
	if rec == nil {
		e.mu.Unlock()
		return nil, ErrRecordNotFound
	}
	if rec.Status.terminal() || rec.Status == StatusProcessing {
		e.mu.Unlock()
		return nil, ErrRecordNotEditable
	}
	if ov.isEmpty() {
		snapshot := rec.Clone()
		e.mu.Unlock()
		return &snapshot, nil
	}

	newStart := rec.EventStartsAt
	if ov.EventStartsAt != nil {
		newStart = ov.EventStartsAt.UTC()
	}
	startChanged := !newStart.Equal(rec.EventStartsAt)
	if startChanged {
		newKey := makeSlotKey(rec.TargetID, rec.ProfileKey, newStart)
		if other := e.findBySlotOrIDLocked(newKey); other != nil && other != rec {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: slot %s already occupied", ErrActionNotAllowed, newKey)
		}
	}

	if rec.ManualOverrides == nil {
		rec.ManualOverrides = &EventOverrides{}
	}
	rec.ManualOverrides.merge(ov)

	oldStart := rec.EventStartsAt
	oldPublish := cloneTime(rec.ScheduledPublishTime)
	if startChanged {
		e.clearTimerLocked(rec.SlotKey)
		rec.EventStartsAt = newStart
		rec.SlotKey = makeSlotKey(rec.TargetID, rec.ProfileKey, newStart)
	}

	if startChanged || ov.PublishTime != nil {
		var publish time.Time
		profile, haveProfile := e.profiles.Profile(rec.TargetID, rec.ProfileKey)
		switch {
		case rec.ManualOverrides.PublishTime != nil:
			publish = rec.ManualOverrides.PublishTime.UTC()
		case haveProfile && profile.Automation.Mode == profiles.ModeBefore:
			publish = beforePublishTime(profile.Automation, newStart)
		case oldPublish != nil:
			// Other modes keep the original start-to-publish gap.
			publish = newStart.Add(-oldStart.Sub(*oldPublish))
		case haveProfile:
			publish = standalonePublishTime(profile, newStart, e.cfg.MinLeadTime)
		default:
			publish = newStart
		}
		publish = capPublishTime(publish, newStart, e.cfg.MinLeadTime)
		rec.ScheduledPublishTime = &publish
	}

	switch rec.Status {
	case StatusScheduled, StatusMissed:
		if rec.ScheduledPublishTime != nil && rec.ScheduledPublishTime.After(now) {
			rec.Status = StatusScheduled
			rec.MissedAt = nil
			e.scheduleRecordLocked(rec)
		} else if rec.Status == StatusScheduled {
			e.markMissedLocked(rec, now)
		}
	case StatusQueued:
		if startChanged {
			e.gate.Remove(rec.ID)
			e.gate.Enqueue(rec.ID, rec.TargetID, rec.EventStartsAt)
		}
	}

	e.persistPendingLocked()
	snapshot := rec.Clone()
	e.noteLocked(func() {
		e.emit(EventTypeRescheduled, map[string]any{
			"id":            snapshot.ID,
			"targetId":      snapshot.TargetID,
			"eventStartsAt": snapshot.EventStartsAt.Format(time.RFC3339),
		})
	})
	notifs := e.takeNotifsLocked()
	e.mu.Unlock()
	e.flush(notifs)

	e.logger.Info("overrides applied", "op", op, "id", snapshot.ID, "startChanged", startChanged)
	return &snapshot, nil
}

// ActOnMissed applies a user decision to a record: publish immediately,
// push the publish time forward, or soft-delete it.
func (e *Engine) ActOnMissed(ctx context.Context, slotOrID string, action MissedAction) (ActionResult, error) {
	switch action {
	case ActionPostNow, ActionReschedule, ActionCancel:
	default:
		return ActionResult{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	op := uuid.NewString()
	now := time.Now().UTC()

	e.mu.Lock()
	rec := e.findBySlotOrIDLocked(slotOrID)
	if rec == nil {
		e.mu.Unlock()
		return ActionResult{}, ErrRecordNotFound
	}

	switch action {
	case ActionPostNow:
		if rec.Status == StatusQueued || rec.Status.terminal() || rec.Status == StatusProcessing {
			e.mu.Unlock()
			return ActionResult{}, fmt.Errorf("%w: postNow on %s record", ErrActionNotAllowed, rec.Status)
		}
		id := rec.ID
		rec.Status = StatusProcessing
		e.clearTimerLocked(rec.SlotKey)
		e.mu.Unlock()

		e.logger.Info("posting record now", "op", op, "id", id)
		outcome := e.executePublish(ctx, id)
		switch outcome {
		case outcomePublished:
			result := ActionResult{Outcome: "published"}
			e.mu.Lock()
			if done := e.findByIDLocked(id); done != nil {
				result.EventID = done.EventID
			}
			e.mu.Unlock()
			return result, nil
		case outcomeRateLimited:
			e.requeueRecord(id)
			return ActionResult{Outcome: "queued", Message: "target is rate limited"}, nil
		case outcomeErrored:
			return ActionResult{Outcome: "error", Message: "publish failed, retry scheduled"}, nil
		default:
			return ActionResult{Outcome: "error", Message: "record is no longer eligible"}, nil
		}

	case ActionReschedule:
		if rec.Status != StatusScheduled && rec.Status != StatusMissed {
			e.mu.Unlock()
			return ActionResult{}, fmt.Errorf("%w: reschedule on %s record", ErrActionNotAllowed, rec.Status)
		}
		publish := now.Add(rescheduleFallback)
		if profile, ok := e.profiles.Profile(rec.TargetID, rec.ProfileKey); ok && profile.Automation.Mode == profiles.ModeBefore {
			if candidate := beforePublishTime(profile.Automation, rec.EventStartsAt); candidate.After(now) {
				publish = candidate
			}
		}
		publish = capPublishTime(publish, rec.EventStartsAt, e.cfg.MinLeadTime)
		rec.ScheduledPublishTime = &publish
		rec.Status = StatusScheduled
		rec.MissedAt = nil
		e.scheduleRecordLocked(rec)
		e.persistPendingLocked()
		snapshot := rec.Clone()
		e.noteLocked(func() {
			e.emit(EventTypeRescheduled, map[string]any{
				"id":          snapshot.ID,
				"targetId":    snapshot.TargetID,
				"publishTime": publish.Format(time.RFC3339),
			})
		})
		notifs := e.takeNotifsLocked()
		e.mu.Unlock()
		e.flush(notifs)
		e.logger.Info("record rescheduled", "op", op, "id", snapshot.ID, "publishTime", publish)
		return ActionResult{Outcome: "rescheduled"}, nil

	default: // ActionCancel
		if rec.Status == StatusPublished || rec.Status == StatusCancelled {
			e.mu.Unlock()
			return ActionResult{}, fmt.Errorf("%w: cancel on %s record", ErrActionNotAllowed, rec.Status)
		}
		e.cancelRecordLocked(rec, now)
		autoDisabled := e.maybeAutoDisableLocked(rec.TargetID, rec.ProfileKey)
		e.persistPendingLocked()
		if autoDisabled {
			e.persistStateLocked()
		}
		snapshot := rec.Clone()
		e.noteLocked(func() {
			e.emit(EventTypeCancelled, map[string]any{
				"id":       snapshot.ID,
				"targetId": snapshot.TargetID,
				"reason":   "user cancelled",
			})
		})
		notifs := e.takeNotifsLocked()
		e.mu.Unlock()
		e.flush(notifs)
		e.logger.Info("record cancelled", "op", op, "id", snapshot.ID, "autoDisabled", autoDisabled)
		return ActionResult{Outcome: "cancelled"}, nil
	}
}

// cancelRecordLocked soft-deletes a record into the deleted pool.
// Requires e.mu.
func (e *Engine) cancelRecordLocked(rec *PendingRecord, now time.Time) {
	e.clearTimerLocked(rec.SlotKey)
	e.clearRetryLocked(rec.ID)
	e.gate.Remove(rec.ID)

	kept := e.doc.Events[:0]
	for _, r := range e.doc.Events {
		if r == rec {
			continue
		}
		kept = append(kept, r)
	}
	e.doc.Events = kept

	deletedAt := now
	rec.Status = StatusDeleted
	rec.DeletedAt = &deletedAt
	e.doc.DeletedEvents = append(e.doc.DeletedEvents, rec)
}

// maybeAutoDisableLocked wipes a profile's deleted pool and automation
// state once its last active record is gone, so cancelling everything
// leaves no machinery behind. Requires e.mu.
func (e *Engine) maybeAutoDisableLocked(targetID, profileKey string) bool {
	for _, r := range e.doc.Events {
		if r.TargetID == targetID && r.ProfileKey == profileKey && r.Status.active() {
			return false
		}
	}
	kept := e.doc.DeletedEvents[:0]
	for _, r := range e.doc.DeletedEvents {
		if r.TargetID == targetID && r.ProfileKey == profileKey {
			continue
		}
		kept = append(kept, r)
	}
	e.doc.DeletedEvents = kept
	delete(e.state.Profiles, stateKey(targetID, profileKey))
	e.logger.Info("profile auto-disabled, state cleared", "target", targetID, "profile", profileKey)
	return true
}

// RestoreDeleted brings a profile's soft-deleted records back as scheduled
// ones where that still makes sense: future start, after the anchor, slot
// unoccupied, publish time still ahead.
func (e *Engine) RestoreDeleted(ctx context.Context, targetID, profileKey string) (RestoreResult, error) {
	profile, ok := e.profiles.Profile(targetID, profileKey)
	if !ok {
		return RestoreResult{}, fmt.Errorf("%w: %s/%s", ErrProfileNotFound, targetID, profileKey)
	}
	op := uuid.NewString()
	now := time.Now().UTC()

	e.mu.Lock()
	var result RestoreResult
	st := e.profileStateLocked(targetID, profileKey)

	occupied := map[string]bool{}
	for _, rec := range e.doc.Events {
		if rec.TargetID != targetID || rec.ProfileKey != profileKey {
			continue
		}
		for _, k := range rec.keys() {
			occupied[k] = true
		}
	}

	keptDeleted := e.doc.DeletedEvents[:0]
	var restored []*PendingRecord
	for _, rec := range e.doc.DeletedEvents {
		if rec.TargetID != targetID || rec.ProfileKey != profileKey {
			keptDeleted = append(keptDeleted, rec)
			continue
		}

		start, aligned := restoreStart(rec)
		key := makeSlotKey(targetID, profileKey, start)
		publish := standalonePublishTime(profile, start, e.cfg.MinLeadTime)
		eligible := start.After(now) &&
			(st.ActivationStartsAt == nil || start.After(*st.ActivationStartsAt)) &&
			!occupied[key] &&
			!st.hasPublishedTime(start.UnixMilli()) &&
			publish.After(now)
		if !eligible {
			keptDeleted = append(keptDeleted, rec)
			result.Skipped++
			continue
		}

		rec.EventStartsAt = start
		rec.SlotKey = key
		if !isDeterministicID(rec.ID, targetID, profileKey) {
			rec.ID = key
		}
		if !aligned {
			rec.ManualOverrides = nil
		}
		rec.Status = StatusScheduled
		rec.ScheduledPublishTime = &publish
		rec.DeletedAt = nil
		rec.QueuedAt = nil
		rec.MissedAt = nil
		occupied[key] = true
		restored = append(restored, rec)
	}
	e.doc.DeletedEvents = keptDeleted

	for _, rec := range restored {
		e.doc.Events = append(e.doc.Events, rec)
		e.scheduleRecordLocked(rec)
		result.Restored++
	}
	if result.Restored > 0 {
		e.persistPendingLocked()
		e.noteLocked(func() {
			e.emit(EventTypeRestored, map[string]any{
				"targetId":   targetID,
				"profileKey": profileKey,
				"restored":   result.Restored,
			})
		})
	}
	notifs := e.takeNotifsLocked()
	e.mu.Unlock()
	e.flush(notifs)

	e.logger.Info("deleted records restored", "op", op, "target", targetID, "profile", profileKey,
		"restored", result.Restored, "skipped", result.Skipped)
	return result, nil
}

// restoreStart picks the start a deleted entry would restore with. Entries
// whose override moved the start off the original slot restore clean at the
// slot encoded in the immutable id.
func restoreStart(rec *PendingRecord) (time.Time, bool) {
	original := rec.EventStartsAt
	if ms, ok := slotKeyStartMillis(rec.ID); ok && isDeterministicID(rec.ID, rec.TargetID, rec.ProfileKey) {
		original = time.UnixMilli(ms).UTC()
	}
	if rec.ManualOverrides == nil || rec.ManualOverrides.EventStartsAt == nil ||
		rec.ManualOverrides.EventStartsAt.UTC().Equal(original) {
		return original, true
	}
	return original, false
}

// PurgeProfile removes every trace of a profile: pending, deleted pool and
// automation state.
func (e *Engine) PurgeProfile(targetID, profileKey string) error {
	op := uuid.NewString()

	e.mu.Lock()
	removed := 0
	kept := e.doc.Events[:0]
	for _, rec := range e.doc.Events {
		if rec.TargetID == targetID && rec.ProfileKey == profileKey {
			e.clearTimerLocked(rec.SlotKey)
			e.clearRetryLocked(rec.ID)
			e.gate.Remove(rec.ID)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	e.doc.Events = kept

	keptDeleted := e.doc.DeletedEvents[:0]
	for _, rec := range e.doc.DeletedEvents {
		if rec.TargetID == targetID && rec.ProfileKey == profileKey {
			removed++
			continue
		}
		keptDeleted = append(keptDeleted, rec)
	}
	e.doc.DeletedEvents = keptDeleted

	delete(e.state.Profiles, stateKey(targetID, profileKey))
	e.persistPendingLocked()
	e.persistStateLocked()
	e.mu.Unlock()

	e.logger.Info("profile purged", "op", op, "target", targetID, "profile", profileKey, "removed", removed)
	return nil
}
