package autopublish

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerWalksRecheckLadderToExactFire(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(13 * 24 * time.Hour) // publish lands ten days out

		profile := danceProfile()
		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{}
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		_, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)

		publish := start.Add(-72 * time.Hour)

		// One hour short of the publish instant nothing has fired.
		time.Sleep(publish.Sub(now) - time.Hour)
		synctest.Wait()
		assert.Zero(t, pub.callCount())
		pending := h.engine.Pending("")
		require.Len(t, pending, 1)
		assert.Equal(t, StatusScheduled, pending[0].Status)

		// The final timer fires on the dot, not a recheck tier later.
		time.Sleep(time.Hour + time.Second)
		synctest.Wait()
		require.Equal(t, 1, pub.callCount())
		assert.True(t, pub.call(0).At.Equal(publish))
	})
}

func TestSchedulerNearPublishFiresExactly(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(74 * time.Hour) // publish in two hours

		profile := danceProfile()
		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{}
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		_, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)

		time.Sleep(2*time.Hour - time.Minute)
		synctest.Wait()
		assert.Zero(t, pub.callCount())

		time.Sleep(2 * time.Minute)
		synctest.Wait()
		require.Equal(t, 1, pub.callCount())
		assert.True(t, pub.call(0).At.Equal(now.Add(2*time.Hour)))
	})
}

func TestSchedulerFlipsLatePublishToMissed(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC()
		start := now.Add(2 * time.Hour) // three days before puts the publish in the past

		profile := danceProfile()
		source := newFakeProfiles(profile)
		pub := &scriptedPublisher{}
		h := newEngineHarness(t, source, pub, nil, WithExpander(fixedSlots(start)))
		defer h.stop(t)

		require.NoError(t, h.engine.Start(ctx))
		require.NoError(t, h.engine.RecordManualEvent("grp_1", "weekly-dance", now.Add(-24*time.Hour)))
		res, err := h.engine.UpdatePendingForProfile(ctx, profile)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Generated)

		missed, _ := h.engine.Counts("grp_1")
		assert.Equal(t, 1, missed)
		_, missedHooks := h.hooks.counts()
		assert.Equal(t, 1, missedHooks)
		assert.Equal(t, 1, h.events.count(EventTypeMissed))

		time.Sleep(3 * time.Hour)
		synctest.Wait()
		assert.Zero(t, pub.callCount(), "missed records never reach the publisher on their own")
	})
}

func TestTimerFiredIgnoresStaleTimer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newEngineHarness(t, newFakeProfiles(), &scriptedPublisher{}, nil)
		defer h.stop(t)

		current := &timerHandle{t: time.AfterFunc(time.Hour, func() {})}
		stale := &timerHandle{t: time.AfterFunc(time.Hour, func() {})}
		defer current.t.Stop()
		defer stale.t.Stop()

		h.engine.mu.Lock()
		h.engine.timers["slot"] = current
		h.engine.timerFiredLocked("slot", stale)
		_, ok := h.engine.timers["slot"]
		assert.True(t, ok, "a stale fire must not clear a newer timer")
		h.engine.timerFiredLocked("slot", current)
		_, stillThere := h.engine.timers["slot"]
		h.engine.mu.Unlock()
		assert.False(t, stillThere)
	})
}
