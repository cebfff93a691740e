// Package vrchat provides the transport to the VRChat group-calendar API.
//
// The module registers two services backed by the same client: the
// vrchat.publisher service creates calendar events, and the
// vrchat.calendar service lists a target's upcoming events for
// reconciliation. With dry_run enabled (the default) both services are
// backed by an in-memory simulator, so the whole pipeline can be
// exercised without credentials or network access.
//
// # Service Registration
//
// Consumers request the services through dependency injection:
//
//	publisher := app.GetService("vrchat.publisher").(autopublish.EventPublisher)
//	id, err := publisher.PublishEvent(ctx, targetID, details, startsAt, endsAt)
package vrchat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modular"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Cynacedia/VRC-Event-Creator/modules/autopublish"
)

// ModuleName is the unique identifier for the vrchat module.
const ModuleName = "vrchat"

// PublisherServiceName is the name of the event-creation service.
const PublisherServiceName = "vrchat.publisher"

// CalendarServiceName is the name of the upcoming-events service.
const CalendarServiceName = "vrchat.calendar"

// Interface guards: both transports satisfy the engine's contracts.
var (
	_ autopublish.EventPublisher = (*Client)(nil)
	_ autopublish.RemoteCalendar = (*Client)(nil)
	_ autopublish.EventPublisher = (*DryRunPublisher)(nil)
	_ autopublish.RemoteCalendar = (*DryRunPublisher)(nil)
)

// Module wires the VRChat API client into the application.
//
// The module implements the following interfaces:
//   - modular.Module: Basic module lifecycle
//   - modular.Configurable: Configuration management
//   - modular.ServiceAware: Service dependency management
//   - modular.Startable: Startup logic
//   - modular.Stoppable: Shutdown logic
type Module struct {
	name      string
	config    *VRChatConfig
	logger    modular.Logger
	publisher autopublish.EventPublisher
	calendar  autopublish.RemoteCalendar
	subject   modular.Subject
}

// NewModule creates a new instance of the vrchat module.
//
// Example:
//
//	app.RegisterModule(vrchat.NewModule())
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
//   - BaseURL: the public VRChat API
//   - RequestTimeout: 15s
//   - DryRun: true
//   - ListCacheTTL: 5m
func (m *Module) RegisterConfig(app modular.Application) error {
	// If a non-nil config provider is already registered (e.g., tests), don't override it
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}

	defaultConfig := &VRChatConfig{
		BaseURL:        "https://api.vrchat.cloud/api/1",
		UserAgent:      "VRC-Event-Creator/1.0 (+https://github.com/Cynacedia/VRC-Event-Creator)",
		RequestTimeout: 15 * time.Second,
		DryRun:         true,
		ListCacheTTL:   5 * time.Minute,
	}

	app.RegisterConfigSection(m.Name(), modular.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init builds the live client or the dry-run simulator depending on
// configuration. A live client without credentials is refused outright
// rather than failing on the first publish.
func (m *Module) Init(app modular.Application) error {
	cfg, err := app.GetConfigSection(m.name)
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.name, err)
	}

	m.config = cfg.GetConfig().(*VRChatConfig)
	m.logger = app.Logger()

	hooks := Hooks{
		OnPublished: func(targetID, eventID string) {
			m.emitEvent(context.Background(), EventTypePublished, map[string]interface{}{
				"target":  targetID,
				"eventId": eventID,
			})
		},
		OnFailed: func(targetID string, failErr error) {
			m.emitEvent(context.Background(), EventTypeRequestFailed, map[string]interface{}{
				"target": targetID,
				"error":  failErr.Error(),
			})
		},
	}

	if m.config.DryRun {
		sim := NewDryRunPublisher(m.logger, hooks)
		m.publisher = sim
		m.calendar = sim
	} else {
		if m.config.AuthCookie == "" {
			return ErrMissingAuthCookie
		}
		client := NewClient(m.config, m.logger, hooks)
		m.publisher = client
		m.calendar = client
	}

	m.logger.Info("VRChat module initialized", "dryRun", m.config.DryRun, "baseUrl", m.config.BaseURL)
	m.emitEvent(context.Background(), EventTypeConfigLoaded, map[string]interface{}{
		"dryRun":  m.config.DryRun,
		"baseUrl": m.config.BaseURL,
	})
	return nil
}

// Start logs the operating mode; the client itself is stateless.
func (m *Module) Start(ctx context.Context) error {
	mode := "live"
	if m.config.DryRun {
		mode = "dry-run"
	}
	m.logger.Info("VRChat transport ready", "mode", mode)
	return nil
}

// Stop is a no-op; requests are bounded by their own timeouts.
func (m *Module) Stop(ctx context.Context) error {
	return nil
}

// Dependencies returns the names of modules this module depends on
func (m *Module) Dependencies() []string {
	return nil
}

// ProvidesServices declares services provided by this module
func (m *Module) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        PublisherServiceName,
			Description: "Creates VRChat group-calendar events",
			Instance:    m.publisher,
		},
		{
			Name:        CalendarServiceName,
			Description: "Lists upcoming VRChat group-calendar events",
			Instance:    m.calendar,
		},
	}
}

// RequiresServices declares services required by this module
func (m *Module) RequiresServices() []modular.ServiceDependency {
	return nil
}

// Publisher returns the configured event publisher. Exposed for tests.
func (m *Module) Publisher() autopublish.EventPublisher {
	return m.publisher
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

	event := modular.NewCloudEvent(eventType, "vrchat-service", data, nil)

	if emitErr := m.EmitEvent(ctx, event); emitErr != nil {
		if errors.Is(emitErr, ErrNoSubjectForEventEmission) {
			return
		}
		if m.logger != nil {
			m.logger.Warn("Failed to emit vrchat event", "eventType", eventType, "error", emitErr)
		}
	}
}

// GetRegisteredEventTypes implements the ObservableModule interface.
func (m *Module) GetRegisteredEventTypes() []string {
	return []string{
		EventTypePublished,
		EventTypeRequestFailed,
		EventTypeConfigLoaded,
	}
}
