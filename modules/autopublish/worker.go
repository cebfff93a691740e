package autopublish

import (
	"context"
	"time"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
)

// resolveEventDetails merges the live profile fields with the record's
// overrides (overrides win) and computes the event window.
func resolveEventDetails(p *profiles.Profile, rec *PendingRecord) (EventDetails, time.Time, time.Time) {
	details := EventDetails{Title: p.Title, Description: p.Description}
	if ov := rec.ManualOverrides; ov != nil {
		if ov.Title != nil {
			details.Title = *ov.Title
		}
		if ov.Description != nil {
			details.Description = *ov.Description
		}
	}
	start := rec.EventStartsAt
	return details, start, start.Add(eventDuration(p, rec))
}

// executePublish runs one publish attempt for a record. It is the only
// place the transport is called; execMu keeps attempts serialized across
// the gate, retries and direct actions. The engine lock is dropped across
// the transport call and the record is re-resolved afterwards, since the
// world may have changed in flight.
func (e *Engine) executePublish(ctx context.Context, recordID string) execOutcome {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	e.mu.Lock()
	rec := e.findByIDLocked(recordID)
	if rec == nil || rec.Status.terminal() {
		e.mu.Unlock()
		return outcomeSkipped
	}
	if rec.Status == StatusQueued {
		rec.Status = StatusScheduled
		rec.QueuedAt = nil
	}

	profile, ok := e.profiles.Profile(rec.TargetID, rec.ProfileKey)
	if !ok {
		// Owner vanished between scheduling and execution.
		e.clearTimerLocked(rec.SlotKey)
		e.clearRetryLocked(rec.ID)
		rec.Status = StatusCancelled
		e.persistPendingLocked()
		snapshot := rec.Clone()
		e.noteLocked(func() {
			e.emit(EventTypeCancelled, map[string]any{
				"id":       snapshot.ID,
				"targetId": snapshot.TargetID,
				"reason":   "profile removed",
			})
		})
		notifs := e.takeNotifsLocked()
		e.mu.Unlock()
		e.flush(notifs)
		return outcomeSkipped
	}

	details, start, end := resolveEventDetails(profile, rec)
	rec.Status = StatusProcessing
	targetID, profileKey := rec.TargetID, rec.ProfileKey
	eventStartsAt := rec.EventStartsAt
	e.mu.Unlock()

	eventID, err := e.publisher.PublishEvent(ctx, targetID, details, start, end)
	now := time.Now().UTC()

	e.mu.Lock()
	rec = e.findByIDLocked(recordID)
	if rec == nil || rec.Status != StatusProcessing {
		if err == nil {
			// The event exists remotely regardless; keep the window and
			// the profile state honest and let reconciliation sort the
			// rest out.
			e.gate.RecordSuccess(targetID, now)
			st := e.profileStateLocked(targetID, profileKey)
			st.EventsCreated++
			ts := now
			st.LastSuccess = &ts
			st.LastEventID = eventID
			st.addPublishedTime(eventStartsAt.UnixMilli())
			e.persistStateLocked()
			e.logger.Warn("publish finished for a record removed mid-flight", "id", recordID, "eventId", eventID)
		}
		e.mu.Unlock()
		return outcomeSkipped
	}

	var outcome execOutcome
	switch {
	case err == nil:
		e.gate.RecordSuccess(targetID, now)
		e.clearTimerLocked(rec.SlotKey)
		e.clearRetryLocked(rec.ID)
		rec.Status = StatusPublished
		rec.EventID = eventID
		rec.ScheduledPublishTime = nil
		rec.QueuedAt = nil
		rec.MissedAt = nil

		st := e.profileStateLocked(rec.TargetID, rec.ProfileKey)
		st.EventsCreated++
		ts := now
		st.LastSuccess = &ts
		st.LastEventID = eventID
		if st.ActivationStartsAt == nil {
			anchor := rec.EventStartsAt
			st.ActivationStartsAt = &anchor
		}
		st.addPublishedTime(rec.EventStartsAt.UnixMilli())

		e.persistPendingLocked()
		e.persistStateLocked()
		snapshot := rec.Clone()
		e.noteLocked(func() {
			e.metrics.publishedTotal.WithLabelValues(snapshot.TargetID).Inc()
			if e.hooks.OnPublished != nil {
				e.hooks.OnPublished(snapshot)
			}
			e.emit(EventTypePublished, map[string]any{
				"id":            snapshot.ID,
				"targetId":      snapshot.TargetID,
				"profileKey":    snapshot.ProfileKey,
				"eventId":       snapshot.EventID,
				"eventStartsAt": snapshot.EventStartsAt.Format(time.RFC3339),
			})
		})
		e.logger.Info("event published", "id", rec.ID, "target", targetID, "eventId", eventID)
		outcome = outcomePublished

	case IsRateLimitError(err):
		lockedUntil := e.gate.NoteRateLimit(targetID)
		rec.Status = StatusQueued
		ts := now
		rec.QueuedAt = &ts
		e.clearTimerLocked(rec.SlotKey)
		e.persistPendingLocked()
		snapshot := rec.Clone()
		e.noteLocked(func() {
			e.metrics.rateLimitedTotal.WithLabelValues(snapshot.TargetID).Inc()
			e.emit(EventTypeQueued, map[string]any{
				"id":          snapshot.ID,
				"targetId":    snapshot.TargetID,
				"lockedUntil": lockedUntil.Format(time.RFC3339),
			})
		})
		e.logger.Warn("publish rate limited", "id", rec.ID, "target", targetID, "lockedUntil", lockedUntil)
		outcome = outcomeRateLimited

	default:
		rec.Status = StatusScheduled
		e.armRetryLocked(rec.ID)
		e.persistPendingLocked()
		e.noteLocked(func() {
			e.metrics.publishErrors.Inc()
			e.emit(EventTypeError, map[string]any{
				"id":       recordID,
				"targetId": targetID,
				"error":    err.Error(),
			})
		})
		e.logger.Error("publish failed, retry armed", "id", rec.ID, "target", targetID, "error", err, "retryIn", e.cfg.RetryDelay)
		outcome = outcomeErrored
	}

	notifs := e.takeNotifsLocked()
	e.mu.Unlock()
	e.flush(notifs)
	return outcome
}

// markQueuedByGate flips a record the gate refused to admit. Runs without
// the gate lock held; the record may already have moved on.
func (e *Engine) markQueuedByGate(recordID string, lockedUntil time.Time) {
	e.mu.Lock()
	rec := e.findByIDLocked(recordID)
	if rec == nil || rec.Status != StatusScheduled {
		e.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	rec.Status = StatusQueued
	rec.QueuedAt = &now
	e.clearTimerLocked(rec.SlotKey)
	e.persistPendingLocked()
	snapshot := rec.Clone()
	e.noteLocked(func() {
		e.emit(EventTypeQueued, map[string]any{
			"id":          snapshot.ID,
			"targetId":    snapshot.TargetID,
			"lockedUntil": lockedUntil.Format(time.RFC3339),
		})
	})
	notifs := e.takeNotifsLocked()
	e.mu.Unlock()
	e.flush(notifs)
	e.logger.Debug("record held back by rate gate", "id", recordID, "until", lockedUntil)
}

// armRetryLocked schedules a delayed re-attempt for a record. Retries
// coalesce: an armed retry is never doubled. Requires e.mu.
func (e *Engine) armRetryLocked(recordID string) {
	if e.closed {
		return
	}
	if _, ok := e.retries[recordID]; ok {
		return
	}
	e.retries[recordID] = time.AfterFunc(e.cfg.RetryDelay, func() { e.onRetry(recordID) })
}

// onRetry re-enters a previously failed record through the gate, so the
// retry is still subject to admission and spacing.
func (e *Engine) onRetry(recordID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.retries, recordID)
	if e.closed {
		return
	}
	rec := e.findByIDLocked(recordID)
	if rec == nil || (rec.Status != StatusScheduled && rec.Status != StatusQueued) {
		return
	}
	e.gate.Enqueue(rec.ID, rec.TargetID, rec.EventStartsAt)
}

// requeueRecord puts a rate-limited record back into the gate after a
// direct (non-gate) execution path.
func (e *Engine) requeueRecord(recordID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.findByIDLocked(recordID)
	if rec == nil || rec.Status != StatusQueued {
		return
	}
	e.gate.Enqueue(rec.ID, rec.TargetID, rec.EventStartsAt)
}

// clearRetryLocked drops a pending retry timer. Requires e.mu.
func (e *Engine) clearRetryLocked(recordID string) {
	if t, ok := e.retries[recordID]; ok {
		t.Stop()
		delete(e.retries, recordID)
	}
}

// stopRetriesLocked stops every pending retry. Requires e.mu.
func (e *Engine) stopRetriesLocked() {
	for id, t := range e.retries {
		t.Stop()
		delete(e.retries, id)
	}
}
