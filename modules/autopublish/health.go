package autopublish

import (
	"context"
	"time"

	"github.com/GoCodeAlone/modular"
)

// HealthCheck reports the engine's operational state. Missed records and
// rate-locked targets degrade the report rather than fail it: both resolve
// through user action or the passage of time.
func (e *Engine) HealthCheck(ctx context.Context) ([]modular.HealthReport, error) {
	checkTime := time.Now()
	report := modular.HealthReport{
		Module:        ModuleName,
		Component:     "engine",
		CheckedAt:     checkTime,
		ObservedSince: checkTime,
		Optional:      false,
		Details:       make(map[string]any),
	}

	if !e.Started() {
		report.Status = modular.StatusUnhealthy
		report.Message = "engine not started"
		return []modular.HealthReport{report}, nil
	}

	missed, queued := e.Counts("")
	locked := e.LockedTargets()
	report.Details["pending"] = len(e.Pending(""))
	report.Details["deleted"] = len(e.Deleted(""))
	report.Details["missed"] = missed
	report.Details["queued"] = queued
	report.Details["queue_depth"] = e.QueueDepth()
	report.Details["locked_targets"] = len(locked)

	switch {
	case missed > 0:
		report.Status = modular.StatusDegraded
		report.Message = "records are waiting for a missed-publish decision"
	case len(locked) > 0:
		report.Status = modular.StatusDegraded
		report.Message = "one or more targets are rate limited"
	default:
		report.Status = modular.StatusHealthy
		report.Message = "engine running"
	}
	return []modular.HealthReport{report}, nil
}

// HealthCheck implements the HealthProvider interface for the autopublish
// module by delegating to the engine.
func (m *Module) HealthCheck(ctx context.Context) ([]modular.HealthReport, error) {
	if m.engine == nil {
		checkTime := time.Now()
		return []modular.HealthReport{{
			Module:        ModuleName,
			Component:     "engine",
			Status:        modular.StatusUnhealthy,
			Message:       "engine not constructed",
			CheckedAt:     checkTime,
			ObservedSince: checkTime,
		}}, nil
	}
	return m.engine.HealthCheck(ctx)
}

// GetHealthTimeout returns the maximum time needed for health checks to
// complete.
func (m *Module) GetHealthTimeout() time.Duration {
	return 5 * time.Second
}
