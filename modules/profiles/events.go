package profiles

// Event type constants for profiles module events.
// Following CloudEvents specification reverse domain notation.
const (
	// EventTypeLoaded fires after the document is (re)loaded successfully.
	EventTypeLoaded = "com.vrcreator.profiles.loaded"
	// EventTypeChanged fires when a reload produced a different profile set.
	EventTypeChanged = "com.vrcreator.profiles.changed"
	// EventTypeError fires when a load or watch failure occurs.
	EventTypeError = "com.vrcreator.profiles.error"
)
