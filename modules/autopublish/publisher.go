package autopublish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
)

// EventPublisher creates a calendar event on a target and returns the
// remote event id. Implementations signal rate limiting through a
// *PublishError so the engine can classify it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, targetID string, details EventDetails, startsAt, endsAt time.Time) (string, error)
}

// RemoteCalendar lists a target's current upcoming events. Used by
// reconciliation; optional.
type RemoteCalendar interface {
	UpcomingEvents(ctx context.Context, targetID string) ([]RemoteEvent, error)
}

// ProfileSource is the engine's read-only view of the profile store.
type ProfileSource interface {
	Profile(targetID, key string) (*profiles.Profile, bool)
	All() []*profiles.Profile
	TargetIDs() []string
	Subscribe(fn func(profiles.ProfilesChange))
}

// PublishError is a structured failure from the publish transport.
type PublishError struct {
	Code       string
	StatusCode int
	Message    string
}

func (e *PublishError) Error() string {
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("publish failed: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("publish failed (%d): %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("publish failed: %s", e.Message)
	}
}

// rateLimitCode is the remote's error code for calendar quota exhaustion.
const rateLimitCode = "UPCOMING_LIMIT"

// IsRateLimitError reports whether err carries the remote's rate-limit
// signal: code UPCOMING_LIMIT, HTTP 429, or a message mentioning
// "rate limit" in any casing.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		if pe.Code == rateLimitCode || pe.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return strings.Contains(strings.ToLower(pe.Message), "rate limit")
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// IsTransientPublishError reports whether err is worth a delayed retry:
// anything that is neither a rate limit nor a client-side rejection.
func IsTransientPublishError(err error) bool {
	if err == nil || IsRateLimitError(err) {
		return false
	}
	var pe *PublishError
	if errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500 {
		return false
	}
	return true
}
