package controlapi

import "errors"

var (
	// ErrEngineServiceInvalid is returned when the engine service has the wrong type.
	ErrEngineServiceInvalid = errors.New("autopublish.engine service has unexpected type")

	// ErrProfilesServiceInvalid is returned when the profiles service has the wrong type.
	ErrProfilesServiceInvalid = errors.New("profiles.store service has unexpected type")

	// ErrNoSubjectForEventEmission is returned when event emission is attempted without a subject.
	ErrNoSubjectForEventEmission = errors.New("no subject available for event emission")
)
