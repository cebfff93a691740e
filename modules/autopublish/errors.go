package autopublish

import (
	"errors"
)

// Module-specific errors for the autopublish module.
var (
	// ErrRecordNotFound is returned when no pending record matches the id.
	ErrRecordNotFound = errors.New("pending record not found")
	// ErrProfileNotFound is returned when an operation names an unknown profile.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidAction is returned for an unknown missed-record action.
	ErrInvalidAction = errors.New("unknown action")
	// ErrActionNotAllowed is returned when the record's status forbids the action.
	ErrActionNotAllowed = errors.New("action not allowed for record status")
	// ErrRecordNotEditable is returned when overrides target a terminal record.
	ErrRecordNotEditable = errors.New("record cannot be overridden in its current status")
	// ErrInvalidDisplayLimit is returned for a negative display limit.
	ErrInvalidDisplayLimit = errors.New("display limit must not be negative")
	// ErrProfilesServiceInvalid is returned when the profiles service has the wrong type.
	ErrProfilesServiceInvalid = errors.New("profiles service does not implement ProfileSource")
	// ErrPublisherServiceInvalid is returned when the publisher service has the wrong type.
	ErrPublisherServiceInvalid = errors.New("publisher service does not implement EventPublisher")
	// ErrNoSubjectForEventEmission is returned when trying to emit events without a subject
	ErrNoSubjectForEventEmission = errors.New("no subject available for event emission")
)
