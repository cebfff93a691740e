package vrchat

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/google/uuid"

	"github.com/Cynacedia/VRC-Event-Creator/modules/autopublish"
)

// DryRunPublisher simulates the VRChat API. Publishes fabricate an
// event id and land in an in-memory upcoming list per target, so
// reconciliation behaves exactly as it would against the real API.
type DryRunPublisher struct {
	logger modular.Logger
	hooks  Hooks

	mu       sync.Mutex
	upcoming map[string][]autopublish.RemoteEvent
}

// NewDryRunPublisher builds a simulated publisher.
func NewDryRunPublisher(logger modular.Logger, hooks Hooks) *DryRunPublisher {
	return &DryRunPublisher{
		logger:   logger,
		hooks:    hooks,
		upcoming: make(map[string][]autopublish.RemoteEvent),
	}
}

// PublishEvent records the event in memory and returns a fabricated id.
func (p *DryRunPublisher) PublishEvent(ctx context.Context, targetID string, details autopublish.EventDetails, startsAt, endsAt time.Time) (string, error) {
	eventID := "evt_" + uuid.NewString()

	p.mu.Lock()
	p.upcoming[targetID] = append(p.upcoming[targetID], autopublish.RemoteEvent{
		ID:       eventID,
		Title:    details.Title,
		StartsAt: startsAt.UTC(),
	})
	p.mu.Unlock()

	p.logger.Info("dry-run publish",
		"target", targetID,
		"title", details.Title,
		"startsAt", startsAt.UTC().Format(time.RFC3339),
		"eventId", eventID)
	if p.hooks.OnPublished != nil {
		p.hooks.OnPublished(targetID, eventID)
	}
	return eventID, nil
}

// UpcomingEvents returns the simulated upcoming list, dropping entries
// whose start has passed.
func (p *DryRunPublisher) UpcomingEvents(ctx context.Context, targetID string) ([]autopublish.RemoteEvent, error) {
	now := time.Now().UTC()

	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.upcoming[targetID][:0]
	for _, evt := range p.upcoming[targetID] {
		if evt.StartsAt.After(now) {
			kept = append(kept, evt)
		}
	}
	p.upcoming[targetID] = kept

	out := make([]autopublish.RemoteEvent, len(kept))
	copy(out, kept)
	return out, nil
}
