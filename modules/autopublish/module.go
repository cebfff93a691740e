// Package autopublish implements the event-publication engine: it expands
// profile patterns into concrete event slots, keeps a durable pending store,
// schedules wall-clock publish timers, and pushes due events through a
// per-target rate-limit gate to the publish transport.
//
// The engine is exposed as the autopublish.engine service:
//
//	engine := app.GetService("autopublish.engine").(*autopublish.Engine)
//	records := engine.Pending("grp_...")
//
// All state lives in two JSON documents (pending events and automation
// state) rewritten atomically on every change, so an unclean shutdown is
// recovered by normalization and missed-detection on the next boot.
package autopublish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modular"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
)

// ModuleName is the unique identifier for the autopublish module.
const ModuleName = "autopublish"

// ServiceName is the name of the engine service provided by this module.
const ServiceName = "autopublish.engine"

// Names of the services this module consumes.
const (
	profilesServiceName  = "profiles.store"
	publisherServiceName = "vrchat.publisher"
	calendarServiceName  = "vrchat.calendar"
)

// Module wires the engine into the application lifecycle.
//
// The module implements the following interfaces:
//   - modular.Module: Basic module lifecycle
//   - modular.Configurable: Configuration management
//   - modular.ServiceAware: Service dependency management
//   - modular.Startable: Startup logic
//   - modular.Stoppable: Shutdown logic
type Module struct {
	name      string
	config    *AutoPublishConfig
	logger    modular.Logger
	source    ProfileSource
	publisher EventPublisher
	calendar  RemoteCalendar
	engine    *Engine
	subject   modular.Subject
}

// NewModule creates a new instance of the autopublish module.
//
// Example:
//
//	app.RegisterModule(autopublish.NewModule())
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
func (m *Module) RegisterConfig(app modular.Application) error {
	// If a non-nil config provider is already registered (e.g., tests), don't override it
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}

	defaultConfig := &AutoPublishConfig{
		PendingFile:       "pending_events.json",
		StateFile:         "automation_state.json",
		MonthsAhead:       2,
		MaxMaterialized:   10,
		MinLeadTime:       30 * time.Minute,
		RateLimitWindow:   time.Hour,
		RateLimitMax:      10,
		PublishSpacing:    100 * time.Millisecond,
		RetryDelay:        15 * time.Minute,
		ReconcileInterval: time.Hour,
		AfterFirstAnchor:  AnchorNow,
	}

	app.RegisterConfigSection(m.Name(), modular.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init builds the engine from the injected services and configuration.
func (m *Module) Init(app modular.Application) error {
	cfg, err := app.GetConfigSection(m.name)
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.name, err)
	}

	m.config = cfg.GetConfig().(*AutoPublishConfig)
	m.logger = app.Logger()

	opts := []Option{
		WithEventEmitter(func(eventType string, data map[string]any) {
			m.emitEvent(context.Background(), eventType, data)
		}),
	}
	if m.calendar != nil {
		opts = append(opts, WithCalendar(m.calendar))
	}
	m.engine = NewEngine(m.config, m.source, m.publisher, m.logger, opts...)

	m.logger.Info("Autopublish module initialized",
		"pendingFile", m.config.PendingFile, "stateFile", m.config.StateFile,
		"monthsAhead", m.config.MonthsAhead, "maxMaterialized", m.config.MaxMaterialized)
	m.emitEvent(context.Background(), EventTypeConfigLoaded, map[string]interface{}{
		"pendingFile": m.config.PendingFile,
		"stateFile":   m.config.StateFile,
	})
	return nil
}

// Start brings the engine up: documents are loaded and repaired, timers
// armed, and profiles synced.
func (m *Module) Start(ctx context.Context) error {
	return m.engine.Start(ctx)
}

// Stop shuts the engine down and writes both documents a final time.
func (m *Module) Stop(ctx context.Context) error {
	return m.engine.Stop(ctx)
}

// Dependencies returns the names of modules this module depends on.
func (m *Module) Dependencies() []string {
	return []string{"profiles", "vrchat"}
}

// ProvidesServices declares services provided by this module.
func (m *Module) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Automated event publication engine",
			Instance:    m.engine,
		},
	}
}

// RequiresServices declares services required by this module. The remote
// calendar is optional; without it reconciliation stays off.
func (m *Module) RequiresServices() []modular.ServiceDependency {
	return []modular.ServiceDependency{
		{Name: profilesServiceName, Required: true},
		{Name: publisherServiceName, Required: true},
		{Name: calendarServiceName, Required: false},
	}
}

// Constructor returns a ModuleConstructor that captures the injected
// services before Init runs.
func (m *Module) Constructor() modular.ModuleConstructor {
	return func(app modular.Application, services map[string]any) (modular.Module, error) {
		source, ok := services[profilesServiceName].(ProfileSource)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrProfilesServiceInvalid, services[profilesServiceName])
		}
		publisher, ok := services[publisherServiceName].(EventPublisher)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrPublisherServiceInvalid, services[publisherServiceName])
		}
		m.source = source
		m.publisher = publisher
		if calendar, ok := services[calendarServiceName].(RemoteCalendar); ok {
			m.calendar = calendar
		}
		return m, nil
	}
}

// Engine exposes the engine to in-process callers that hold the module
// rather than the service registry.
func (m *Module) Engine() *Engine {
	return m.engine
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

	event := modular.NewCloudEvent(eventType, "autopublish-service", data, nil)

	if emitErr := m.EmitEvent(ctx, event); emitErr != nil {
		if errors.Is(emitErr, ErrNoSubjectForEventEmission) {
			return
		}
		if m.logger != nil {
			m.logger.Warn("Failed to emit autopublish event", "eventType", eventType, "error", emitErr)
		}
	}
}

// GetRegisteredEventTypes implements the ObservableModule interface.
func (m *Module) GetRegisteredEventTypes() []string {
	return []string{
		EventTypePublished,
		EventTypeMissed,
		EventTypeQueued,
		EventTypeCancelled,
		EventTypeRestored,
		EventTypeRescheduled,
		EventTypeConfigLoaded,
		EventTypeError,
	}
}

// The profile store must satisfy the engine's read-only view.
var _ ProfileSource = (*profiles.Store)(nil)
