package autopublish

import (
	"time"
)

// Far-out publish times are tracked with coarse recheck timers instead of a
// single long sleep. Each recheck re-enters scheduling, so the delay walks
// down the ladder and also catches publish times the process slept past.
const (
	recheckFarDelay  = 7 * 24 * time.Hour
	recheckFarEvery  = 24 * time.Hour
	recheckMidDelay  = 2 * 24 * time.Hour
	recheckMidEvery  = 8 * time.Hour
	recheckNearDelay = 24 * time.Hour
	recheckNearEvery = 2 * time.Hour
)

// timerHandle wraps a slot's timer. Fire callbacks identify themselves by
// handle pointer; the timer itself is only touched under e.mu.
type timerHandle struct {
	t *time.Timer
}

// scheduleRecordLocked arms the timer for a scheduled record, replacing any
// timer already tracked under its slot key. A record whose publish time has
// already passed is flipped to missed instead; the caller persists.
// Requires e.mu.
func (e *Engine) scheduleRecordLocked(rec *PendingRecord) (missed bool) {
	if rec.Status != StatusScheduled || rec.ScheduledPublishTime == nil {
		return false
	}
	now := time.Now().UTC()
	delay := rec.ScheduledPublishTime.Sub(now)
	if delay <= 0 {
		e.markMissedLocked(rec, now)
		return true
	}

	e.clearTimerLocked(rec.SlotKey)

	id, slotKey := rec.ID, rec.SlotKey
	h := &timerHandle{}
	var wait time.Duration
	var fire func()
	switch {
	case delay > recheckFarDelay:
		wait, fire = recheckFarEvery, func() { e.onRecheck(id, slotKey, h) }
	case delay > recheckMidDelay:
		wait, fire = recheckMidEvery, func() { e.onRecheck(id, slotKey, h) }
	case delay > recheckNearDelay:
		wait, fire = recheckNearEvery, func() { e.onRecheck(id, slotKey, h) }
	default:
		wait, fire = delay, func() { e.onPublishDue(id, slotKey, h) }
	}

	h.t = time.AfterFunc(wait, fire)
	e.timers[slotKey] = h
	return false
}

// armTimersLocked schedules every scheduled record in the document and
// returns how many were found to be already past due. Requires e.mu.
func (e *Engine) armTimersLocked() (missed int) {
	for _, rec := range e.doc.Events {
		if e.scheduleRecordLocked(rec) {
			missed++
		}
	}
	return missed
}

// onRecheck re-enters scheduling for a record parked on a coarse timer. The
// record may have been rescheduled, republished or re-keyed since the timer
// was armed; stale fires are discarded.
func (e *Engine) onRecheck(id, slotKey string, h *timerHandle) {
	e.mu.Lock()
	e.timerFiredLocked(slotKey, h)
	if e.closed {
		e.mu.Unlock()
		return
	}
	rec := e.findByIDLocked(id)
	if rec == nil || rec.SlotKey != slotKey || rec.Status != StatusScheduled {
		e.mu.Unlock()
		return
	}
	becameMissed := e.scheduleRecordLocked(rec)
	if becameMissed {
		e.persistPendingLocked()
	}
	notifs := e.takeNotifsLocked()
	e.mu.Unlock()
	e.flush(notifs)
}

// onPublishDue hands a due record to the rate-limit gate. Late fires still
// enqueue: the timer was armed for the exact publish time, so lateness here
// is scheduler jitter rather than a missed window.
func (e *Engine) onPublishDue(id, slotKey string, h *timerHandle) {
	e.mu.Lock()
	e.timerFiredLocked(slotKey, h)
	if e.closed {
		e.mu.Unlock()
		return
	}
	rec := e.findByIDLocked(id)
	if rec == nil || rec.SlotKey != slotKey || rec.Status != StatusScheduled {
		e.mu.Unlock()
		return
	}
	e.gate.Enqueue(rec.ID, rec.TargetID, rec.EventStartsAt)
	e.mu.Unlock()
}

// markMissedLocked flips a record to missed and buffers the notification
// side effects. The caller persists. Requires e.mu.
func (e *Engine) markMissedLocked(rec *PendingRecord, now time.Time) {
	e.clearTimerLocked(rec.SlotKey)
	rec.Status = StatusMissed
	missedAt := now
	rec.MissedAt = &missedAt
	rec.QueuedAt = nil

	snapshot := rec.Clone()
	e.noteLocked(func() {
		e.metrics.missedTotal.Inc()
		if e.hooks.OnMissed != nil {
			e.hooks.OnMissed(snapshot)
		}
		e.emit(EventTypeMissed, map[string]any{
			"id":            snapshot.ID,
			"targetId":      snapshot.TargetID,
			"profileKey":    snapshot.ProfileKey,
			"eventStartsAt": snapshot.EventStartsAt,
		})
	})
	e.logger.Warn("publish window missed", "id", rec.ID, "target", rec.TargetID, "profile", rec.ProfileKey)
}

// timerFiredLocked forgets the map entry for a timer that just fired, unless
// the slot key has already been re-armed with a newer timer. Requires e.mu.
func (e *Engine) timerFiredLocked(slotKey string, h *timerHandle) {
	if e.timers[slotKey] == h {
		delete(e.timers, slotKey)
	}
}

// clearTimerLocked stops and forgets the timer for a slot key. Requires e.mu.
func (e *Engine) clearTimerLocked(slotKey string) {
	if h, ok := e.timers[slotKey]; ok {
		h.t.Stop()
		delete(e.timers, slotKey)
	}
}

// stopTimersLocked stops every tracked timer. Requires e.mu.
func (e *Engine) stopTimersLocked() {
	for key, h := range e.timers {
		h.t.Stop()
		delete(e.timers, key)
	}
}
