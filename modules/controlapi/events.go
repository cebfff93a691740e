package controlapi

// Event type constants for controlapi module events.
// Following CloudEvents specification reverse-DNS naming convention.
const (
	// EventTypeStarted is emitted once the listener is bound and serving.
	EventTypeStarted = "com.vrcreator.controlapi.started"

	// EventTypeStopped is emitted after graceful shutdown completes.
	EventTypeStopped = "com.vrcreator.controlapi.stopped"

	// EventTypeConfigLoaded is emitted when the module configuration is loaded.
	EventTypeConfigLoaded = "com.vrcreator.controlapi.config.loaded"
)
