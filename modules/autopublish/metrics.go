package autopublish

import (
	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics collects the engine's counters on a module-owned registry
// so the control API can expose them without touching the global default.
type engineMetrics struct {
	registry         *prometheus.Registry
	publishedTotal   *prometheus.CounterVec
	missedTotal      prometheus.Counter
	rateLimitedTotal *prometheus.CounterVec
	publishErrors    prometheus.Counter
	pendingRecords   *prometheus.GaugeVec
}

func newEngineMetrics(gate *rateGate) *engineMetrics {
	m := &engineMetrics{
		registry: prometheus.NewRegistry(),
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopublish_published_total",
			Help: "Events published successfully, by target.",
		}, []string{"target"}),
		missedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopublish_missed_total",
			Help: "Records whose publish window was missed.",
		}),
		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopublish_rate_limited_total",
			Help: "Rate-limit responses observed, by target.",
		}, []string{"target"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopublish_publish_errors_total",
			Help: "Publish attempts that failed for reasons other than rate limiting.",
		}),
		pendingRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autopublish_pending_records",
			Help: "Records currently held, by status.",
		}, []string{"status"}),
	}
	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "autopublish_queue_depth",
		Help: "Records waiting in the publish queue.",
	}, func() float64 { return float64(gate.Depth()) })

	m.registry.MustRegister(
		m.publishedTotal,
		m.missedTotal,
		m.rateLimitedTotal,
		m.publishErrors,
		m.pendingRecords,
		queueDepth,
	)
	return m
}

// refreshGaugesLocked recounts the per-status gauge from the document.
// Requires e.mu.
func (e *Engine) refreshGaugesLocked() {
	counts := map[Status]int{}
	for _, rec := range e.doc.Events {
		counts[rec.Status]++
	}
	counts[StatusDeleted] = len(e.doc.DeletedEvents)
	for _, s := range []Status{StatusScheduled, StatusQueued, StatusMissed, StatusPublished, StatusDeleted, StatusProcessing} {
		e.metrics.pendingRecords.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
