package autopublish

import (
	"time"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
	"github.com/samber/lo"
)

// normalizeDeps carries the context normalization needs. known is nil when
// no known-profile set has been registered yet (fresh load); lookupProfile
// resolves automation settings for publish-time repair.
type normalizeDeps struct {
	known         func(targetID, profileKey string) bool
	lookupProfile func(targetID, profileKey string) (*profiles.Profile, bool)
	minLead       time.Duration
	now           time.Time
}

// normalizeDocument repairs a loaded pending document in place: foreign or
// stale fields are fixed, unsalvageable records dropped, and duplicate slot
// identities collapsed. It reports whether anything changed and how many
// records were dropped, so the caller saves back only when needed.
func normalizeDocument(doc *pendingDocument, deps normalizeDeps) (changed bool, dropped int) {
	var kept []*PendingRecord
	for _, rec := range doc.Events {
		switch repairRecord(rec, deps) {
		case repairKept:
			kept = append(kept, rec)
		case repairChanged:
			kept = append(kept, rec)
			changed = true
		case repairToDeleted:
			doc.DeletedEvents = append(doc.DeletedEvents, rec)
			changed = true
		case repairDropped:
			dropped++
			changed = true
		}
	}

	deduped, removed := dedupPending(kept)
	if removed > 0 {
		dropped += removed
		changed = true
	}
	doc.Events = deduped

	if cleanDeletedPool(doc) {
		changed = true
	}
	return changed, dropped
}

type repairOutcome int

const (
	repairKept repairOutcome = iota
	repairChanged
	repairToDeleted
	repairDropped
)

// repairRecord applies the per-record normalization steps.
func repairRecord(rec *PendingRecord, deps normalizeDeps) repairOutcome {
	outcome := repairKept

	// Unknown owner: only applies once a known set is registered.
	if deps.known != nil && !deps.known(rec.TargetID, rec.ProfileKey) {
		return repairDropped
	}

	// A missing start can sometimes be recovered from an override.
	if rec.EventStartsAt.IsZero() {
		if rec.ManualOverrides != nil && rec.ManualOverrides.EventStartsAt != nil {
			rec.EventStartsAt = rec.ManualOverrides.EventStartsAt.UTC()
			outcome = repairChanged
		} else {
			return repairDropped
		}
	}

	if !rec.Status.durable() {
		rec.Status = StatusScheduled
		outcome = repairChanged
	}

	switch rec.Status {
	case StatusCancelled:
		// Cancelled never survives a restart.
		return repairDropped
	case StatusDeleted:
		return repairToDeleted
	}

	if rec.ScheduledPublishTime == nil && rec.Status != StatusPublished {
		profile, ok := deps.lookupProfile(rec.TargetID, rec.ProfileKey)
		if !ok {
			return repairDropped
		}
		publish := standalonePublishTime(profile, rec.EventStartsAt, deps.minLead)
		rec.ScheduledPublishTime = &publish
		outcome = repairChanged
	}

	if key := makeSlotKey(rec.TargetID, rec.ProfileKey, rec.EventStartsAt); rec.SlotKey != key {
		rec.SlotKey = key
		outcome = repairChanged
	}
	if !isDeterministicID(rec.ID, rec.TargetID, rec.ProfileKey) {
		rec.ID = rec.SlotKey
		outcome = repairChanged
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = deps.now
		outcome = repairChanged
	}
	return outcome
}

// dedupPending collapses records whose identity key sets ({id, slotKey})
// transitively intersect, keeping the highest-priority member of each
// class.
func dedupPending(records []*PendingRecord) ([]*PendingRecord, int) {
	if len(records) < 2 {
		return records, 0
	}

	parent := map[string]string{}
	var find func(string) string
	find = func(k string) string {
		if parent[k] != k {
			parent[k] = find(parent[k])
		}
		return parent[k]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		parent[find(a)] = find(b)
	}
	for _, rec := range records {
		union(rec.ID, rec.SlotKey)
	}

	classes := map[string][]*PendingRecord{}
	for _, rec := range records {
		root := find(rec.ID)
		classes[root] = append(classes[root], rec)
	}

	winners := map[*PendingRecord]bool{}
	for _, class := range classes {
		winners[pickSurvivor(class)] = true
	}

	kept := lo.Filter(records, func(rec *PendingRecord, _ int) bool { return winners[rec] })
	return kept, len(records) - len(kept)
}

// statusPriority ranks records for dedup survival.
func statusPriority(rec *PendingRecord) int {
	switch {
	case rec.Status == StatusPublished:
		return 5
	case !rec.ManualOverrides.isEmpty():
		return 4
	case rec.Status == StatusQueued:
		return 3
	case rec.Status == StatusScheduled:
		return 2
	case rec.Status == StatusMissed:
		return 1
	default:
		return 0
	}
}

// pickSurvivor keeps the highest-priority record; ties go to the earliest
// CreatedAt, then to the first encountered.
func pickSurvivor(class []*PendingRecord) *PendingRecord {
	best := class[0]
	for _, rec := range class[1:] {
		bp, rp := statusPriority(best), statusPriority(rec)
		if rp > bp || (rp == bp && rec.CreatedAt.Before(best.CreatedAt)) {
			best = rec
		}
	}
	return best
}

// cleanDeletedPool drops deleted entries shadowed by a live pending record
// and collapses duplicate slot keys inside the pool itself.
func cleanDeletedPool(doc *pendingDocument) bool {
	pendingKeys := map[string]bool{}
	for _, rec := range doc.Events {
		for _, k := range rec.keys() {
			pendingKeys[k] = true
		}
	}

	seen := map[string]bool{}
	kept := doc.DeletedEvents[:0]
	changed := false
	for _, rec := range doc.DeletedEvents {
		shadowed := false
		for _, k := range rec.keys() {
			if pendingKeys[k] || seen[k] {
				shadowed = true
				break
			}
		}
		if shadowed {
			changed = true
			continue
		}
		for _, k := range rec.keys() {
			seen[k] = true
		}
		if rec.Status != StatusDeleted {
			rec.Status = StatusDeleted
			changed = true
		}
		kept = append(kept, rec)
	}
	doc.DeletedEvents = kept
	return changed
}
