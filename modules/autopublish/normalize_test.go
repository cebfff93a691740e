package autopublish

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
)

func normalizeProfileFixture() *profiles.Profile {
	return &profiles.Profile{
		TargetID:        "grp_1",
		Key:             "weekly-dance",
		Title:           "Friday Dance",
		DurationMinutes: 120,
		Automation: profiles.AutomationSettings{
			Enabled:    true,
			Mode:       profiles.ModeBefore,
			DaysBefore: 3,
		},
	}
}

func normalizeDepsFixture(p *profiles.Profile) normalizeDeps {
	return normalizeDeps{
		lookupProfile: func(targetID, profileKey string) (*profiles.Profile, bool) {
			if p != nil && p.TargetID == targetID && p.Key == profileKey {
				return p, true
			}
			return nil, false
		},
		minLead: 30 * time.Minute,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func pendingFixture(start time.Time, status Status) *PendingRecord {
	key := makeSlotKey("grp_1", "weekly-dance", start)
	publish := start.Add(-72 * time.Hour)
	return &PendingRecord{
		ID:                   key,
		TargetID:             "grp_1",
		ProfileKey:           "weekly-dance",
		SlotKey:              key,
		EventStartsAt:        start,
		ScheduledPublishTime: &publish,
		Status:               status,
		CreatedAt:            time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeCleanDocumentUnchanged(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	doc := &pendingDocument{Events: []*PendingRecord{pendingFixture(start, StatusScheduled)}}

	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.False(t, changed)
	assert.Zero(t, dropped)
	assert.Len(t, doc.Events, 1)
}

func TestNormalizeDropsUnknownProfiles(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	foreign := pendingFixture(start, StatusScheduled)
	foreign.ProfileKey = "retired-profile"

	doc := &pendingDocument{Events: []*PendingRecord{
		pendingFixture(start, StatusScheduled),
		foreign,
	}}
	deps := normalizeDepsFixture(normalizeProfileFixture())
	deps.known = func(targetID, profileKey string) bool {
		return targetID == "grp_1" && profileKey == "weekly-dance"
	}

	changed, dropped := normalizeDocument(doc, deps)

	assert.True(t, changed)
	assert.Equal(t, 1, dropped)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, "weekly-dance", doc.Events[0].ProfileKey)
}

func TestNormalizeKeepsAllWithoutKnownSet(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	foreign := pendingFixture(start, StatusScheduled)
	foreign.TargetID = "grp_gone"
	foreign.SlotKey = makeSlotKey("grp_gone", "weekly-dance", start)
	foreign.ID = foreign.SlotKey

	doc := &pendingDocument{Events: []*PendingRecord{foreign}}
	deps := normalizeDepsFixture(normalizeProfileFixture())
	deps.lookupProfile = func(string, string) (*profiles.Profile, bool) {
		return normalizeProfileFixture(), true
	}

	changed, dropped := normalizeDocument(doc, deps)

	assert.False(t, changed)
	assert.Zero(t, dropped)
	assert.Len(t, doc.Events, 1)
}

func TestNormalizeRecoversStartFromOverride(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusScheduled)
	rec.EventStartsAt = time.Time{}
	rec.ManualOverrides = &EventOverrides{EventStartsAt: &start}

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.True(t, changed)
	assert.Zero(t, dropped)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, start, doc.Events[0].EventStartsAt)
}

func TestNormalizeDropsRecordWithoutStart(t *testing.T) {
	rec := pendingFixture(time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC), StatusScheduled)
	rec.EventStartsAt = time.Time{}

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.True(t, changed)
	assert.Equal(t, 1, dropped)
	assert.Empty(t, doc.Events)
}

func TestNormalizeResetsProcessingToScheduled(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusProcessing)

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	changed, _ := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.True(t, changed)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, StatusScheduled, doc.Events[0].Status)
}

func TestNormalizeDropsCancelled(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	doc := &pendingDocument{Events: []*PendingRecord{pendingFixture(start, StatusCancelled)}}

	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.True(t, changed)
	assert.Equal(t, 1, dropped)
	assert.Empty(t, doc.Events)
}

func TestNormalizeMovesDeletedToPool(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	doc := &pendingDocument{Events: []*PendingRecord{pendingFixture(start, StatusDeleted)}}

	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.True(t, changed)
	assert.Zero(t, dropped)
	assert.Empty(t, doc.Events)
	require.Len(t, doc.DeletedEvents, 1)
	assert.Equal(t, StatusDeleted, doc.DeletedEvents[0].Status)
}

func TestNormalizeRepairsMissingPublishTime(t *testing.T) {
	profile := normalizeProfileFixture()
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusScheduled)
	rec.ScheduledPublishTime = nil

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	deps := normalizeDepsFixture(profile)
	changed, _ := normalizeDocument(doc, deps)

	assert.True(t, changed)
	require.NotNil(t, doc.Events[0].ScheduledPublishTime)
	want := standalonePublishTime(profile, start, deps.minLead)
	assert.Equal(t, want, *doc.Events[0].ScheduledPublishTime)
}

func TestNormalizeDropsUnrepairableRecord(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusScheduled)
	rec.ScheduledPublishTime = nil

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(nil))

	assert.True(t, changed)
	assert.Equal(t, 1, dropped)
	assert.Empty(t, doc.Events)
}

func TestNormalizePublishedWithoutPublishTimeKept(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusPublished)
	rec.ScheduledPublishTime = nil
	rec.EventID = "evt_remote"

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(nil))

	assert.False(t, changed)
	assert.Zero(t, dropped)
	require.Len(t, doc.Events, 1)
	assert.Nil(t, doc.Events[0].ScheduledPublishTime)
}

func TestNormalizeRepairsLegacyID(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusScheduled)
	rec.ID = uuid.NewString()
	rec.SlotKey = "stale"

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	changed, _ := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.True(t, changed)
	want := makeSlotKey("grp_1", "weekly-dance", start)
	assert.Equal(t, want, doc.Events[0].SlotKey)
	assert.Equal(t, want, doc.Events[0].ID)
}

func TestNormalizeBackfillsCreatedAt(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusScheduled)
	rec.CreatedAt = time.Time{}

	doc := &pendingDocument{Events: []*PendingRecord{rec}}
	deps := normalizeDepsFixture(normalizeProfileFixture())
	changed, _ := normalizeDocument(doc, deps)

	assert.True(t, changed)
	assert.Equal(t, deps.now, doc.Events[0].CreatedAt)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	rec := pendingFixture(start, StatusProcessing)
	rec.ID = uuid.NewString()
	rec.SlotKey = "stale"
	rec.ScheduledPublishTime = nil
	rec.CreatedAt = time.Time{}

	doc := &pendingDocument{Events: []*PendingRecord{rec, pendingFixture(start.AddDate(0, 0, 7), StatusDeleted)}}
	deps := normalizeDepsFixture(normalizeProfileFixture())

	changed, _ := normalizeDocument(doc, deps)
	require.True(t, changed)

	changed, dropped := normalizeDocument(doc, deps)
	assert.False(t, changed, "second pass over a repaired document must be a no-op")
	assert.Zero(t, dropped)
}

func TestDedupPendingKeepsHighestPriority(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)

	published := pendingFixture(start, StatusPublished)
	published.EventID = "evt_live"
	scheduled := pendingFixture(start, StatusScheduled)

	doc := &pendingDocument{Events: []*PendingRecord{scheduled, published}}
	changed, dropped := normalizeDocument(doc, normalizeDepsFixture(normalizeProfileFixture()))

	assert.True(t, changed)
	assert.Equal(t, 1, dropped)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, StatusPublished, doc.Events[0].Status)
	assert.Equal(t, "evt_live", doc.Events[0].EventID)
}

func TestDedupPendingPrefersOverridesOverQueued(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)

	title := "Special Edition"
	overridden := pendingFixture(start, StatusScheduled)
	overridden.ManualOverrides = &EventOverrides{Title: &title}
	queued := pendingFixture(start, StatusQueued)

	deduped, removed := dedupPending([]*PendingRecord{queued, overridden})

	assert.Equal(t, 1, removed)
	require.Len(t, deduped, 1)
	assert.NotNil(t, deduped[0].ManualOverrides)
}

func TestDedupPendingTiesGoToOldest(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)

	older := pendingFixture(start, StatusScheduled)
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := pendingFixture(start, StatusScheduled)
	newer.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	deduped, removed := dedupPending([]*PendingRecord{newer, older})

	assert.Equal(t, 1, removed)
	require.Len(t, deduped, 1)
	assert.Equal(t, older.CreatedAt, deduped[0].CreatedAt)
}

func TestDedupPendingJoinsTransitiveIdentities(t *testing.T) {
	origin := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	moved := time.Date(2026, 4, 11, 19, 0, 0, 0, time.UTC)

	// A record whose start moved keeps its original ID but carries the new
	// slot key, linking the two identities into one class.
	bridge := pendingFixture(origin, StatusScheduled)
	bridge.SlotKey = makeSlotKey("grp_1", "weekly-dance", moved)
	bridge.EventStartsAt = moved

	atOrigin := pendingFixture(origin, StatusPublished)
	atOrigin.EventID = "evt_live"
	atMoved := pendingFixture(moved, StatusScheduled)

	deduped, removed := dedupPending([]*PendingRecord{bridge, atOrigin, atMoved})

	assert.Equal(t, 2, removed)
	require.Len(t, deduped, 1)
	assert.Equal(t, StatusPublished, deduped[0].Status)
}

func TestCleanDeletedPoolDropsShadowedEntries(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)

	live := pendingFixture(start, StatusScheduled)
	shadowed := pendingFixture(start, StatusDeleted)
	distinct := pendingFixture(start.AddDate(0, 0, 7), StatusDeleted)
	duplicate := pendingFixture(start.AddDate(0, 0, 7), StatusDeleted)

	doc := &pendingDocument{
		Events:        []*PendingRecord{live},
		DeletedEvents: []*PendingRecord{shadowed, distinct, duplicate},
	}

	assert.True(t, cleanDeletedPool(doc))
	require.Len(t, doc.DeletedEvents, 1)
	assert.Equal(t, distinct.SlotKey, doc.DeletedEvents[0].SlotKey)
}

func TestCleanDeletedPoolCoercesStatus(t *testing.T) {
	start := time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC)
	entry := pendingFixture(start, StatusScheduled)

	doc := &pendingDocument{DeletedEvents: []*PendingRecord{entry}}

	assert.True(t, cleanDeletedPool(doc))
	assert.Equal(t, StatusDeleted, doc.DeletedEvents[0].Status)
}
