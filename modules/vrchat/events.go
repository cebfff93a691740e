package vrchat

// Event type constants for vrchat module events.
// Following CloudEvents specification reverse-DNS naming convention.
const (
	// EventTypePublished is emitted after a calendar event is created remotely.
	EventTypePublished = "com.vrcreator.vrchat.published"

	// EventTypeRequestFailed is emitted when an API call fails after retries.
	EventTypeRequestFailed = "com.vrcreator.vrchat.request.failed"

	// EventTypeConfigLoaded is emitted when the module configuration is loaded.
	EventTypeConfigLoaded = "com.vrcreator.vrchat.config.loaded"
)
