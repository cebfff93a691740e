package autopublish

// Event type constants for autopublish module events.
// Following CloudEvents specification reverse domain notation.
const (
	// Record lifecycle events
	EventTypePublished   = "com.vrcreator.autopublish.published"
	EventTypeMissed      = "com.vrcreator.autopublish.missed"
	EventTypeQueued      = "com.vrcreator.autopublish.queued"
	EventTypeCancelled   = "com.vrcreator.autopublish.cancelled"
	EventTypeRestored    = "com.vrcreator.autopublish.restored"
	EventTypeRescheduled = "com.vrcreator.autopublish.rescheduled"

	// Module lifecycle events
	EventTypeConfigLoaded = "com.vrcreator.autopublish.config.loaded"

	// Error events
	EventTypeError = "com.vrcreator.autopublish.error"
)
