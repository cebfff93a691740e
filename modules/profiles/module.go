// Package profiles provides the system of record for publish targets and
// their event profiles.
//
// Operators describe targets (VRChat groups) and per-target profiles in a
// YAML document. The module loads that document at startup, serves lookups
// through the profiles.store service, and hot-reloads when the file changes
// on disk so edits apply without a restart.
//
// # Service Registration
//
// The module registers the store for dependency injection:
//
//	store := app.GetService("profiles.store").(*profiles.Store)
//	profile, ok := store.Profile("grp_...", "weekly-dance")
//
// # Change Notification
//
// Consumers subscribe to document changes:
//
//	store.Subscribe(func(change profiles.ProfilesChange) {
//	    // change.Updated: new or modified profiles
//	    // change.Removed: refs no longer present
//	})
package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/modular"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// ModuleName is the unique identifier for the profiles module.
const ModuleName = "profiles"

// ServiceName is the name of the service provided by this module.
// Other modules can use this name to request the profile store through
// dependency injection.
const ServiceName = "profiles.store"

// Module loads and watches the profiles document.
//
// The module implements the following interfaces:
//   - modular.Module: Basic module lifecycle
//   - modular.Configurable: Configuration management
//   - modular.ServiceAware: Service dependency management
//   - modular.Startable: Startup logic
//   - modular.Stoppable: Shutdown logic
type Module struct {
	name    string
	config  *ProfilesConfig
	logger  modular.Logger
	store   *Store
	subject modular.Subject
}

// NewModule creates a new instance of the profiles module.
//
// Example:
//
//	app.RegisterModule(profiles.NewModule())
func NewModule() modular.Module {
	return &Module{
		name: ModuleName,
	}
}

// Name returns the unique identifier for this module.
func (m *Module) Name() string {
	return m.name
}

// RegisterConfig registers the module's configuration structure.
//
// Default configuration:
//   - Path: "profiles.yaml"
//   - Watch: true
func (m *Module) RegisterConfig(app modular.Application) error {
	// If a non-nil config provider is already registered (e.g., tests), don't override it
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}

	defaultConfig := &ProfilesConfig{
		Path:  "profiles.yaml",
		Watch: true,
	}

	app.RegisterConfigSection(m.Name(), modular.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init initializes the module
func (m *Module) Init(app modular.Application) error {
	cfg, err := app.GetConfigSection(m.name)
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.name, err)
	}

	m.config = cfg.GetConfig().(*ProfilesConfig)
	m.logger = app.Logger()
	m.store = NewStore(m.config.Path, m.logger)

	m.store.Subscribe(func(change ProfilesChange) {
		m.emitEvent(context.Background(), EventTypeChanged, map[string]interface{}{
			"updated": len(change.Updated),
			"removed": len(change.Removed),
		})
	})
	m.store.OnReload(func(reloadErr error) {
		if reloadErr != nil {
			m.emitEvent(context.Background(), EventTypeError, map[string]interface{}{
				"error": reloadErr.Error(),
			})
			return
		}
		m.emitEvent(context.Background(), EventTypeLoaded, map[string]interface{}{
			"profiles": len(m.store.All()),
		})
	})

	m.logger.Info("Profiles module initialized", "path", m.config.Path)
	return nil
}

// Start loads the document and begins watching it when enabled.
func (m *Module) Start(ctx context.Context) error {
	if err := m.store.Load(); err != nil {
		// A missing or broken document is not fatal: the daemon starts
		// empty and the watcher picks the file up once it is usable.
		m.logger.Warn("Profiles document not loaded, starting empty", "path", m.config.Path, "error", err)
		m.emitEvent(ctx, EventTypeError, map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		profileCount := len(m.store.All())
		m.logger.Info("Profiles loaded", "profiles", profileCount, "targets", len(m.store.TargetIDs()))
		m.emitEvent(ctx, EventTypeLoaded, map[string]interface{}{
			"profiles": profileCount,
		})
	}

	if m.config.Watch {
		if err := m.store.Watch(); err != nil {
			m.logger.Warn("Profiles watch unavailable, document loads at start only", "error", err)
		}
	}
	return nil
}

// Stop closes the document watcher.
func (m *Module) Stop(ctx context.Context) error {
	return m.store.Close()
}

// Dependencies returns the names of modules this module depends on
func (m *Module) Dependencies() []string {
	return nil
}

// ProvidesServices declares services provided by this module
func (m *Module) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Profile and target lookups with change notification",
			Instance:    m.store,
		},
	}
}

// RequiresServices declares services required by this module
func (m *Module) RequiresServices() []modular.ServiceDependency {
	return nil
}

// RegisterObservers implements the ObservableModule interface.
func (m *Module) RegisterObservers(subject modular.Subject) error {
	m.subject = subject
	return nil
}

// EmitEvent implements the ObservableModule interface.
func (m *Module) EmitEvent(ctx context.Context, event cloudevents.Event) error {
	if m.subject == nil {
		return ErrNoSubjectForEventEmission
	}
	if err := m.subject.NotifyObservers(ctx, event); err != nil {
		return fmt.Errorf("failed to notify observers: %w", err)
	}
	return nil
}

// emitEvent builds and emits a CloudEvent, quietly skipping emission when
// no subject is registered (non-observable applications).
func (m *Module) emitEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if m.subject == nil {
		return
	}

	event := modular.NewCloudEvent(eventType, "profiles-service", data, nil)

	if emitErr := m.EmitEvent(ctx, event); emitErr != nil {
		if errors.Is(emitErr, ErrNoSubjectForEventEmission) {
			return
		}
		if m.logger != nil {
			m.logger.Warn("Failed to emit profiles event", "eventType", eventType, "error", emitErr)
		}
	}
}

// GetRegisteredEventTypes implements the ObservableModule interface.
func (m *Module) GetRegisteredEventTypes() []string {
	return []string{
		EventTypeLoaded,
		EventTypeChanged,
		EventTypeError,
	}
}
