// Package controlapi exposes the automation engine over HTTP.
//
// The module serves the operator-facing control surface: pending and
// deleted record listings, per-profile sync/restore/purge, overrides
// and missed-record actions, reconciliation triggers, aggregated
// health and Prometheus metrics. It owns its http.Server; Start binds
// the listener so a bad address fails startup instead of surfacing on
// the first request.
package controlapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/GoCodeAlone/modular"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Cynacedia/VRC-Event-Creator/modules/autopublish"
	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
)

// ModuleName is the unique identifier for the controlapi module.
const ModuleName = "controlapi"

const (
	engineServiceName   = "autopublish.engine"
	profilesServiceName = "profiles.store"
	calendarServiceName = "vrchat.calendar"
)

// Module serves the control API.
//
// The module implements the following interfaces:
//   - modular.Module: Basic module lifecycle
//   - modular.Configurable: Configuration management
//   - modular.ServiceAware: Service dependency management
//   - modular.Startable: Startup logic
//   - modular.Stoppable: Shutdown logic
type Module struct {
	name     string
	config   *ControlAPIConfig
	logger   modular.Logger
	engine   *autopublish.Engine
	store    *profiles.Store
	calendar autopublish.RemoteCalendar
	server   *http.Server
	listener net.Listener
	subject  modular.Subject
	started  bool
}

// NewModule creates a new instance of the controlapi module.
//
// Example:
//
//	app.RegisterModule(controlapi.NewModule())
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
//   - Address: ":8422"
//   - ReadTimeout: 10s
//   - ShutdownTimeout: 5s
//   - EnableMetrics: true
func (m *Module) RegisterConfig(app modular.Application) error {
	// If a non-nil config provider is already registered (e.g., tests), don't override it
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}

	defaultConfig := &ControlAPIConfig{
		Address:         ":8422",
		ReadTimeout:     10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		EnableMetrics:   true,
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

	m.config = cfg.GetConfig().(*ControlAPIConfig)
	m.logger = app.Logger()

	m.logger.Info("Control API module initialized", "address", m.config.Address, "metrics", m.config.EnableMetrics)
	m.emitEvent(context.Background(), EventTypeConfigLoaded, map[string]interface{}{
		"address": m.config.Address,
	})
	return nil
}

// Start binds the listener and begins serving. A bind failure is
// returned immediately so the application refuses to start.
func (m *Module) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.config.Address)
	if err != nil {
		return fmt.Errorf("control api listen on %s: %w", m.config.Address, err)
	}
	m.listener = listener

	m.server = &http.Server{
		Handler:     m.routes(),
		ReadTimeout: m.config.ReadTimeout,
	}

	go func() {
		if serveErr := m.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			m.logger.Error("Control API server error", "error", serveErr)
		}
	}()

	m.started = true
	m.logger.Info("Control API listening", "address", listener.Addr().String())
	m.emitEvent(ctx, EventTypeStarted, map[string]interface{}{
		"address": listener.Addr().String(),
	})
	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (m *Module) Stop(ctx context.Context) error {
	if !m.started || m.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	err := m.server.Shutdown(shutdownCtx)
	m.started = false
	if err != nil {
		return fmt.Errorf("control api shutdown: %w", err)
	}

	m.logger.Info("Control API stopped")
	m.emitEvent(ctx, EventTypeStopped, nil)
	return nil
}

// Dependencies returns the names of modules this module depends on
func (m *Module) Dependencies() []string {
	return []string{"autopublish", "profiles"}
}

// ProvidesServices declares services provided by this module
func (m *Module) ProvidesServices() []modular.ServiceProvider {
	return nil
}

// RequiresServices declares services required by this module
func (m *Module) RequiresServices() []modular.ServiceDependency {
	return []modular.ServiceDependency{
		{Name: engineServiceName, Required: true},
		{Name: profilesServiceName, Required: true},
		{Name: calendarServiceName, Required: false},
	}
}

// Constructor returns a dependency-injected module constructor.
func (m *Module) Constructor() modular.ModuleConstructor {
	return func(app modular.Application, services map[string]any) (modular.Module, error) {
		engine, ok := services[engineServiceName].(*autopublish.Engine)
		if !ok {
			return nil, ErrEngineServiceInvalid
		}
		m.engine = engine

		store, ok := services[profilesServiceName].(*profiles.Store)
		if !ok {
			return nil, ErrProfilesServiceInvalid
		}
		m.store = store

		if svc, found := services[calendarServiceName]; found && svc != nil {
			if calendar, isCalendar := svc.(autopublish.RemoteCalendar); isCalendar {
				m.calendar = calendar
			}
		}
		return m, nil
	}
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

	event := modular.NewCloudEvent(eventType, "controlapi-service", data, nil)

	if emitErr := m.EmitEvent(ctx, event); emitErr != nil {
		if errors.Is(emitErr, ErrNoSubjectForEventEmission) {
			return
		}
		if m.logger != nil {
			m.logger.Warn("Failed to emit controlapi event", "eventType", eventType, "error", emitErr)
		}
	}
}

// GetRegisteredEventTypes implements the ObservableModule interface.
func (m *Module) GetRegisteredEventTypes() []string {
	return []string{
		EventTypeStarted,
		EventTypeStopped,
		EventTypeConfigLoaded,
	}
}
