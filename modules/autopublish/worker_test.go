package autopublish

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateLimitFailure() error {
	return &PublishError{Code: "UPCOMING_LIMIT", StatusCode: 400, Message: "calendar is full for this group"}
}

func serverFailure() error {
	return &PublishError{StatusCode: 502, Message: "bad gateway"}
}

func TestWorkerRateLimitedRecordQueuesAndReleases(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(time.Hour)

		profile := danceProfile()
		profile.Automation.DaysBefore = 0
		profile.Automation.MinutesBefore = 30

		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{}
		pub.failWith(rateLimitFailure())
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		_, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)

		time.Sleep(30*time.Minute + time.Second)
		synctest.Wait()

		require.Equal(t, 1, pub.callCount())
		pending := h.engine.Pending("")
		require.Len(t, pending, 1)
		assert.Equal(t, StatusQueued, pending[0].Status)
		require.NotNil(t, pending[0].QueuedAt)
		assert.Equal(t, 1, h.events.count(EventTypeQueued))
		require.Contains(t, h.engine.LockedTargets(), "grp_1")
		assert.Equal(t, 1, h.engine.QueueDepth())

		// The backoff lock opens after two minutes and the retry succeeds.
		time.Sleep(3 * time.Minute)
		synctest.Wait()

		assert.Equal(t, 2, pub.callCount())
		require.Len(t, h.engine.Published("grp_1"), 1)
		assert.Empty(t, h.engine.LockedTargets())
		st, ok := h.engine.ProfileState("grp_1", "weekly-dance")
		require.True(t, ok)
		assert.Equal(t, 1, st.EventsCreated)
	})
}

func TestWorkerTransientErrorRetriesAfterDelay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(4 * time.Hour)

		profile := danceProfile()
		profile.Automation.DaysBefore = 0
		profile.Automation.MinutesBefore = 30

		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{}
		pub.failWith(serverFailure())
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		_, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)

		time.Sleep(3*time.Hour + 30*time.Minute + time.Second)
		synctest.Wait()

		require.Equal(t, 1, pub.callCount())
		pending := h.engine.Pending("")
		require.Len(t, pending, 1)
		assert.Equal(t, StatusScheduled, pending[0].Status, "a transient failure leaves the record scheduled")
		assert.Equal(t, 1, h.events.count(EventTypeError))
		assert.Empty(t, h.engine.LockedTargets(), "transient failures do not lock the target")

		// The delayed retry flows back through the gate.
		time.Sleep(15*time.Minute + time.Second)
		synctest.Wait()

		assert.Equal(t, 2, pub.callCount())
		require.Len(t, h.engine.Published("grp_1"), 1)
		_, missedHooks := h.hooks.counts()
		assert.Zero(t, missedHooks)
	})
}

func TestWorkerCancelsWhenProfileVanishesMidFlight(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(time.Hour)

		profile := danceProfile()
		profile.Automation.DaysBefore = 0
		profile.Automation.MinutesBefore = 30

		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{}
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		_, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)
		require.Len(t, h.engine.Pending(""), 1)

		// The profile disappears without the change feed noticing.
		source.mu.Lock()
		source.list = nil
		source.mu.Unlock()

		time.Sleep(31 * time.Minute)
		synctest.Wait()

		assert.Zero(t, pub.callCount(), "nothing is published for a vanished profile")
		assert.Empty(t, h.engine.Pending(""))
		assert.Equal(t, 1, h.events.count(EventTypeCancelled))
	})
}

func TestWorkerRecordsSuccessForRecordRemovedMidFlight(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(time.Hour)

		profile := danceProfile()
		profile.Automation.DaysBefore = 0
		profile.Automation.MinutesBefore = 30

		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{delay: 5 * time.Second}
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		_, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)

		time.Sleep(30*time.Minute + time.Second)
		synctest.Wait() // the transport call is now in flight

		require.NoError(t, h.engine.PurgeProfile("grp_1", "weekly-dance"))
		assert.Empty(t, h.engine.Pending(""))

		time.Sleep(10 * time.Second)
		synctest.Wait()

		assert.Equal(t, 1, pub.callCount())
		assert.Empty(t, h.engine.Published("grp_1"), "the record itself is gone")
		st, ok := h.engine.ProfileState("grp_1", "weekly-dance")
		require.True(t, ok, "the success is still accounted against the profile")
		assert.Equal(t, 1, st.EventsCreated)
		assert.Equal(t, "evt_1", st.LastEventID)
		assert.True(t, st.hasPublishedTime(start.UnixMilli()))
	})
}

func TestActOnMissedRestrictions(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(time.Hour)

		profile := danceProfile()
		profile.Automation.DaysBefore = 0
		profile.Automation.MinutesBefore = 30

		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{}
		pub.failWith(rateLimitFailure())
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		_, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)
		pending := h.engine.Pending("")
		require.Len(t, pending, 1)
		recID := pending[0].ID

		_, err = h.engine.ActOnMissed(ctx, recID, MissedAction("explode"))
		assert.ErrorIs(t, err, ErrInvalidAction)
		_, err = h.engine.ActOnMissed(ctx, "nope", ActionCancel)
		assert.ErrorIs(t, err, ErrRecordNotFound)

		// Rate-limit the record into the queued state.
		time.Sleep(30*time.Minute + time.Second)
		synctest.Wait()
		pending = h.engine.Pending("")
		require.Len(t, pending, 1)
		require.Equal(t, StatusQueued, pending[0].Status)

		_, err = h.engine.ActOnMissed(ctx, recID, ActionPostNow)
		assert.ErrorIs(t, err, ErrActionNotAllowed)
		_, err = h.engine.ActOnMissed(ctx, recID, ActionReschedule)
		assert.ErrorIs(t, err, ErrActionNotAllowed)

		// Let it publish, then confirm terminal restrictions.
		time.Sleep(3 * time.Minute)
		synctest.Wait()
		require.Len(t, h.engine.Published("grp_1"), 1)

		_, err = h.engine.ActOnMissed(ctx, recID, ActionCancel)
		assert.ErrorIs(t, err, ErrActionNotAllowed)
		_, err = h.engine.ActOnMissed(ctx, recID, ActionPostNow)
		assert.ErrorIs(t, err, ErrActionNotAllowed)

		title := "late edit"
		_, err = h.engine.ApplyOverrides(recID, EventOverrides{Title: &title})
		assert.ErrorIs(t, err, ErrRecordNotEditable)
	})
}
