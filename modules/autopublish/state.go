package autopublish

import (
	"sort"
	"time"
)

// ProfileState is the per-profile automation bookkeeping: how many events
// automation has created, the activation anchor, the last success, and the
// set of event start instants (millis) already published.
type ProfileState struct {
	EventsCreated       int        `json:"eventsCreated"`
	ActivationStartsAt  *time.Time `json:"activationStartsAt,omitempty"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastEventID         string     `json:"lastEventId,omitempty"`
	PublishedEventTimes []int64    `json:"publishedEventTimes,omitempty"`
}

// stateKey joins target and profile into the state document's map key.
func stateKey(targetID, profileKey string) string {
	return targetID + "::" + profileKey
}

// Clone returns a copy safe to hand outside the engine.
func (s *ProfileState) Clone() ProfileState {
	cp := *s
	cp.ActivationStartsAt = cloneTime(s.ActivationStartsAt)
	cp.LastSuccess = cloneTime(s.LastSuccess)
	cp.PublishedEventTimes = append([]int64(nil), s.PublishedEventTimes...)
	return cp
}

func (s *ProfileState) hasPublishedTime(ms int64) bool {
	i := sort.Search(len(s.PublishedEventTimes), func(i int) bool {
		return s.PublishedEventTimes[i] >= ms
	})
	return i < len(s.PublishedEventTimes) && s.PublishedEventTimes[i] == ms
}

// addPublishedTime inserts ms keeping the slice a sorted set.
func (s *ProfileState) addPublishedTime(ms int64) {
	i := sort.Search(len(s.PublishedEventTimes), func(i int) bool {
		return s.PublishedEventTimes[i] >= ms
	})
	if i < len(s.PublishedEventTimes) && s.PublishedEventTimes[i] == ms {
		return
	}
	s.PublishedEventTimes = append(s.PublishedEventTimes, 0)
	copy(s.PublishedEventTimes[i+1:], s.PublishedEventTimes[i:])
	s.PublishedEventTimes[i] = ms
}

func (s *ProfileState) removePublishedTime(ms int64) {
	i := sort.Search(len(s.PublishedEventTimes), func(i int) bool {
		return s.PublishedEventTimes[i] >= ms
	})
	if i < len(s.PublishedEventTimes) && s.PublishedEventTimes[i] == ms {
		s.PublishedEventTimes = append(s.PublishedEventTimes[:i], s.PublishedEventTimes[i+1:]...)
	}
}

// normalizePublishedTimes enforces the sorted-set representation on states
// loaded from foreign documents.
func (s *ProfileState) normalizePublishedTimes() bool {
	if len(s.PublishedEventTimes) == 0 {
		return false
	}
	sorted := append([]int64(nil), s.PublishedEventTimes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	dedup := sorted[:0]
	for _, ms := range sorted {
		if len(dedup) > 0 && dedup[len(dedup)-1] == ms {
			continue
		}
		dedup = append(dedup, ms)
	}
	if len(dedup) == len(s.PublishedEventTimes) {
		same := true
		for i, ms := range dedup {
			if s.PublishedEventTimes[i] != ms {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}
	s.PublishedEventTimes = dedup
	return true
}
