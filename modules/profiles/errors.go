package profiles

import (
	"errors"
)

// Module-specific errors for the profiles module.
var (
	// ErrDocumentRead is returned when the profiles document cannot be read.
	ErrDocumentRead = errors.New("cannot read profiles document")
	// ErrDocumentParse is returned when the profiles document is not valid YAML.
	ErrDocumentParse = errors.New("cannot parse profiles document")
	// ErrNoSubjectForEventEmission is returned when trying to emit events without a subject
	ErrNoSubjectForEventEmission = errors.New("no subject available for event emission")
)
