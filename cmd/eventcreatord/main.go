// Command eventcreatord runs the VRChat event auto-publication daemon.
//
// It assembles the profile store, the VRChat transport, the publication
// engine and the HTTP control surface into one modular application and
// blocks until SIGINT/SIGTERM.
package main

import (
	"log/slog"
	"os"
	"strings"
	_ "time/tzdata" // profile timezones must resolve on zoneinfo-less hosts

	"github.com/GoCodeAlone/modular"
	"github.com/GoCodeAlone/modular/feeders"

	"github.com/Cynacedia/VRC-Event-Creator/modules/autopublish"
	"github.com/Cynacedia/VRC-Event-Creator/modules/controlapi"
	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
	"github.com/Cynacedia/VRC-Event-Creator/modules/vrchat"
)

const configFile = "config.yaml"

type appConfig struct{}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	configFeeders := []modular.Feeder{feeders.NewEnvFeeder()}
	if _, err := os.Stat(configFile); err == nil {
		configFeeders = append([]modular.Feeder{feeders.NewYamlFeeder(configFile)}, configFeeders...)
	} else {
		logger.Info("No config file found, using defaults and environment", "path", configFile)
	}
	modular.ConfigFeeders = configFeeders

	app := modular.NewObservableApplication(
		modular.NewStdConfigProvider(&appConfig{}),
		logger,
	)

	app.RegisterModule(profiles.NewModule())
	app.RegisterModule(vrchat.NewModule())
	app.RegisterModule(autopublish.NewModule())
	app.RegisterModule(controlapi.NewModule())

	if err := app.Run(); err != nil {
		logger.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
