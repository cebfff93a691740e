package autopublish

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockApp struct {
	configSections map[string]modular.ConfigProvider
	logger         modular.Logger
	configProvider modular.ConfigProvider
	modules        []modular.Module
	services       modular.ServiceRegistry
}

func newMockApp() *mockApp {
	return &mockApp{
		configSections: make(map[string]modular.ConfigProvider),
		logger:         testLogger{},
		configProvider: &mockConfigProvider{},
		services:       make(modular.ServiceRegistry),
	}
}

func (a *mockApp) RegisterConfigSection(name string, provider modular.ConfigProvider) {
	a.configSections[name] = provider
}

func (a *mockApp) GetConfigSection(name string) (modular.ConfigProvider, error) {
	return a.configSections[name], nil
}

func (a *mockApp) ConfigSections() map[string]modular.ConfigProvider {
	return a.configSections
}

func (a *mockApp) Logger() modular.Logger {
	return a.logger
}

func (a *mockApp) SetLogger(logger modular.Logger) {
	a.logger = logger
}

func (a *mockApp) ConfigProvider() modular.ConfigProvider {
	return a.configProvider
}

func (a *mockApp) SvcRegistry() modular.ServiceRegistry {
	return a.services
}

func (a *mockApp) RegisterModule(module modular.Module) {
	a.modules = append(a.modules, module)
}

func (a *mockApp) RegisterService(name string, service any) error {
	a.services[name] = service
	return nil
}

func (a *mockApp) GetService(name string, target any) error {
	return nil
}

func (a *mockApp) Init() error {
	return nil
}

func (a *mockApp) Start() error {
	return nil
}

func (a *mockApp) Stop() error {
	return nil
}

func (a *mockApp) Run() error {
	return nil
}

func (a *mockApp) IsVerboseConfig() bool {
	return false
}

func (a *mockApp) SetVerboseConfig(verbose bool) {
	// No-op in mock
}

// Context returns a background context for compliance
func (a *mockApp) Context() context.Context { return context.Background() }

// GetServicesByModule mock implementation returns empty slice
func (a *mockApp) GetServicesByModule(moduleName string) []string { return []string{} }

// GetServiceEntry mock implementation returns nil
func (a *mockApp) GetServiceEntry(serviceName string) (*modular.ServiceRegistryEntry, bool) {
	return nil, false
}

// GetServicesByInterface mock implementation returns empty slice
func (a *mockApp) GetServicesByInterface(interfaceType reflect.Type) []*modular.ServiceRegistryEntry {
	return []*modular.ServiceRegistryEntry{}
}

type mockConfigProvider struct{}

func (m *mockConfigProvider) GetConfig() interface{} {
	return nil
}

func TestModuleRegisterConfigDefaults(t *testing.T) {
	module := NewModule().(*Module)
	assert.Equal(t, ModuleName, module.Name())

	app := newMockApp()
	require.NoError(t, module.RegisterConfig(app))

	provider, err := app.GetConfigSection(ModuleName)
	require.NoError(t, err)
	require.NotNil(t, provider)
	cfg := provider.GetConfig().(*AutoPublishConfig)
	assert.Equal(t, "pending_events.json", cfg.PendingFile)
	assert.Equal(t, "automation_state.json", cfg.StateFile)
	assert.Equal(t, 2, cfg.MonthsAhead)
	assert.Equal(t, 10, cfg.MaxMaterialized)
	assert.Equal(t, 30*time.Minute, cfg.MinLeadTime)
	assert.Equal(t, time.Hour, cfg.RateLimitWindow)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, 100*time.Millisecond, cfg.PublishSpacing)
	assert.Equal(t, 15*time.Minute, cfg.RetryDelay)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, AnchorNow, cfg.AfterFirstAnchor)
}

func TestModuleRespectsPreRegisteredConfig(t *testing.T) {
	module := NewModule().(*Module)
	app := newMockApp()
	custom := &AutoPublishConfig{PendingFile: "custom.json"}
	app.RegisterConfigSection(ModuleName, modular.NewStdConfigProvider(custom))

	require.NoError(t, module.RegisterConfig(app))
	provider, err := app.GetConfigSection(ModuleName)
	require.NoError(t, err)
	assert.Same(t, custom, provider.GetConfig().(*AutoPublishConfig))
}

func TestModuleConstructorValidatesServices(t *testing.T) {
	app := newMockApp()

	_, err := NewModule().(*Module).Constructor()(app, map[string]any{
		profilesServiceName:  42,
		publisherServiceName: &scriptedPublisher{},
	})
	assert.ErrorIs(t, err, ErrProfilesServiceInvalid)

	_, err = NewModule().(*Module).Constructor()(app, map[string]any{
		profilesServiceName:  newFakeProfiles(),
		publisherServiceName: "not a publisher",
	})
	assert.ErrorIs(t, err, ErrPublisherServiceInvalid)

	module := NewModule().(*Module)
	built, err := module.Constructor()(app, map[string]any{
		profilesServiceName:  newFakeProfiles(),
		publisherServiceName: &scriptedPublisher{},
		calendarServiceName:  &fakeCalendar{},
	})
	require.NoError(t, err)
	assert.Same(t, module, built)
	assert.NotNil(t, module.source)
	assert.NotNil(t, module.publisher)
	assert.NotNil(t, module.calendar)
}

func TestModuleLifecycle(t *testing.T) {
	module := NewModule().(*Module)
	app := newMockApp()

	dir := t.TempDir()
	app.RegisterConfigSection(ModuleName, modular.NewStdConfigProvider(&AutoPublishConfig{
		PendingFile:      filepath.Join(dir, "pending_events.json"),
		StateFile:        filepath.Join(dir, "automation_state.json"),
		MonthsAhead:      2,
		MaxMaterialized:  10,
		MinLeadTime:      30 * time.Minute,
		RateLimitWindow:  time.Hour,
		RateLimitMax:     10,
		PublishSpacing:   time.Millisecond,
		RetryDelay:       15 * time.Minute,
		AfterFirstAnchor: AnchorNow,
	}))
	require.NoError(t, module.RegisterConfig(app))

	_, err := module.Constructor()(app, map[string]any{
		profilesServiceName:  newFakeProfiles(),
		publisherServiceName: &scriptedPublisher{},
	})
	require.NoError(t, err)
	require.NoError(t, module.Init(app))

	services := module.ProvidesServices()
	require.Len(t, services, 1)
	assert.Equal(t, ServiceName, services[0].Name)
	assert.Same(t, module.Engine(), services[0].Instance)

	deps := module.RequiresServices()
	require.Len(t, deps, 3)
	assert.True(t, deps[0].Required)
	assert.True(t, deps[1].Required)
	assert.False(t, deps[2].Required, "the remote calendar is optional")
	assert.Equal(t, []string{"profiles", "vrchat"}, module.Dependencies())

	ctx := context.Background()
	require.NoError(t, module.Start(ctx))
	assert.True(t, module.Engine().Started())

	reports, err := module.HealthCheck(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, modular.StatusHealthy, reports[0].Status)

	require.NoError(t, module.Stop(ctx))
	assert.False(t, module.Engine().Started())
}

func TestModuleHealthBeforeConstruction(t *testing.T) {
	module := NewModule().(*Module)

	reports, err := module.HealthCheck(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, modular.StatusUnhealthy, reports[0].Status)
	assert.Equal(t, "engine not constructed", reports[0].Message)

	assert.Equal(t, 5*time.Second, module.GetHealthTimeout())
}

func TestModuleEmitWithoutSubject(t *testing.T) {
	module := NewModule().(*Module)
	event := modular.NewCloudEvent(EventTypeError, "autopublish-service", nil, nil)
	assert.ErrorIs(t, module.EmitEvent(context.Background(), event), ErrNoSubjectForEventEmission)
}

func TestModuleGetRegisteredEventTypes(t *testing.T) {
	module := NewModule().(*Module)
	types := module.GetRegisteredEventTypes()
	assert.Len(t, types, 8)
	for _, want := range []string{
		EventTypePublished, EventTypeMissed, EventTypeQueued, EventTypeCancelled,
		EventTypeRestored, EventTypeRescheduled, EventTypeConfigLoaded, EventTypeError,
	} {
		assert.Contains(t, types, want)
	}
}
