package controlapi

import "time"

// ControlAPIConfig defines the configuration for the controlapi module.
type ControlAPIConfig struct {
	// Address the HTTP server listens on.
	Address string `json:"address" yaml:"address" env:"ADDRESS" default:":8422" desc:"Listen address for the control API"`

	// ReadTimeout bounds how long a request may take to arrive.
	ReadTimeout time.Duration `json:"readTimeout" yaml:"read_timeout" env:"READ_TIMEOUT" default:"10s" desc:"HTTP read timeout"`

	// ShutdownTimeout bounds graceful shutdown on Stop.
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"5s" desc:"Graceful shutdown timeout"`

	// EnableMetrics exposes the engine's Prometheus registry at /metrics.
	EnableMetrics bool `json:"enableMetrics" yaml:"enable_metrics" env:"ENABLE_METRICS" default:"true" desc:"Expose Prometheus metrics"`
}
