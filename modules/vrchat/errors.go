package vrchat

import "errors"

var (
	// ErrMissingAuthCookie is returned when dry_run is disabled without credentials.
	ErrMissingAuthCookie = errors.New("vrchat: auth cookie required when dry_run is disabled")

	// ErrEmptyEventID is returned when the API accepts a publish but omits the event id.
	ErrEmptyEventID = errors.New("vrchat: response missing event id")

	// ErrNoSubjectForEventEmission is returned when event emission is attempted without a subject.
	ErrNoSubjectForEventEmission = errors.New("no subject available for event emission")
)
