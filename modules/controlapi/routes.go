package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cynacedia/VRC-Event-Creator/modules/autopublish"
)

func (m *Module) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/targets", m.handleTargets)
		r.Post("/targets/{target}/reconcile", m.handleReconcile)

		r.Route("/pending", func(r chi.Router) {
			r.Get("/", m.handlePending)
			r.Get("/counts", m.handleCounts)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/overrides", m.handleOverrides)
				r.Post("/action", m.handleAction)
			})
		})

		r.Get("/deleted", m.handleDeleted)

		r.Route("/profiles/{target}/{key}", func(r chi.Router) {
			r.Post("/sync", m.handleSync)
			r.Post("/manual-event", m.handleManualEvent)
			r.Post("/restore", m.handleRestore)
			r.Delete("/", m.handlePurge)
		})

		r.Put("/settings/display-limit", m.handleDisplayLimit)
	})

	r.Get("/healthz", m.handleHealthz)
	if m.config.EnableMetrics {
		r.Handle("/metrics", promhttp.HandlerFor(m.engine.MetricsRegistry(), promhttp.HandlerOpts{}))
	}
	return r
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"ok": false, "error": errorBody{Message: err.Error()}})
}

// fail maps engine errors onto HTTP statuses.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, autopublish.ErrRecordNotFound),
		errors.Is(err, autopublish.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, autopublish.ErrInvalidAction),
		errors.Is(err, autopublish.ErrInvalidDisplayLimit):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, autopublish.ErrActionNotAllowed),
		errors.Is(err, autopublish.ErrRecordNotEditable):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

type profileInfo struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Enabled bool   `json:"enabled"`
}

type targetSummary struct {
	ID       string        `json:"id"`
	Profiles []profileInfo `json:"profiles"`
}

func (m *Module) handleTargets(w http.ResponseWriter, r *http.Request) {
	byTarget := map[string][]profileInfo{}
	for _, p := range m.store.All() {
		byTarget[p.TargetID] = append(byTarget[p.TargetID], profileInfo{
			Key:     p.Key,
			Title:   p.Title,
			Enabled: p.Automation.Enabled,
		})
	}

	out := make([]targetSummary, 0, len(byTarget))
	for _, id := range m.store.TargetIDs() {
		out = append(out, targetSummary{ID: id, Profiles: byTarget[id]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (m *Module) handlePending(w http.ResponseWriter, r *http.Request) {
	records := m.engine.Pending(r.URL.Query().Get("target"))
	total := len(records)
	if limit := m.engine.DisplayLimit(); limit > 0 && total > limit {
		records = records[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func (m *Module) handleCounts(w http.ResponseWriter, r *http.Request) {
	missed, queued := m.engine.Counts(r.URL.Query().Get("target"))
	writeJSON(w, http.StatusOK, map[string]int{
		"missed": missed,
		"queued": queued,
	})
}

func (m *Module) handleDeleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"records": m.engine.Deleted(r.URL.Query().Get("target")),
	})
}

func (m *Module) handleSync(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	key := chi.URLParam(r, "key")

	profile, ok := m.store.Profile(target, key)
	if !ok {
		writeError(w, http.StatusNotFound, autopublish.ErrProfileNotFound)
		return
	}

	result, err := m.engine.UpdatePendingForProfile(r.Context(), profile)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"removed":   result.Removed,
		"generated": result.Generated,
		"skipped":   result.Skipped,
	})
}

func (m *Module) handleManualEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartsAt time.Time `json:"startsAt"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("startsAt is required"))
		return
	}

	if err := m.engine.RecordManualEvent(chi.URLParam(r, "target"), chi.URLParam(r, "key"), body.StartsAt); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (m *Module) handleRestore(w http.ResponseWriter, r *http.Request) {
	result, err := m.engine.RestoreDeleted(r.Context(), chi.URLParam(r, "target"), chi.URLParam(r, "key"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"restored": result.Restored,
		"skipped":  result.Skipped,
	})
}

func (m *Module) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := m.engine.PurgeProfile(chi.URLParam(r, "target"), chi.URLParam(r, "key")); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (m *Module) handleOverrides(w http.ResponseWriter, r *http.Request) {
	var ov autopublish.EventOverrides
	if !decodeBody(w, r, &ov) {
		return
	}

	record, err := m.engine.ApplyOverrides(chi.URLParam(r, "id"), ov)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"record": record,
	})
}

func (m *Module) handleAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := m.engine.ActOnMissed(r.Context(), chi.URLParam(r, "id"), autopublish.MissedAction(body.Action))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"result": result,
	})
}

func (m *Module) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if m.calendar == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no calendar service configured"))
		return
	}

	result, err := m.engine.ReconcileTarget(r.Context(), chi.URLParam(r, "target"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"kept":     result.Kept,
		"dropped":  result.Dropped,
		"repaired": result.Repaired,
	})
}

func (m *Module) handleDisplayLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit int `json:"limit"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := m.engine.SetDisplayLimit(body.Limit); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"limit": body.Limit,
	})
}

type healthEntry struct {
	Module    string         `json:"module"`
	Component string         `json:"component,omitempty"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	CheckedAt time.Time      `json:"checkedAt"`
	Details   map[string]any `json:"details,omitempty"`
}

// handleHealthz aggregates health reports. Unhealthy non-optional
// components yield 503 so load balancers stop routing here.
func (m *Module) handleHealthz(w http.ResponseWriter, r *http.Request) {
	reports, err := m.engine.HealthCheck(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	overall := modular.StatusHealthy
	entries := make([]healthEntry, 0, len(reports))
	for _, report := range reports {
		entries = append(entries, healthEntry{
			Module:    report.Module,
			Component: report.Component,
			Status:    report.Status.String(),
			Message:   report.Message,
			CheckedAt: report.CheckedAt,
			Details:   report.Details,
		})
		if report.Optional {
			continue
		}
		switch report.Status {
		case modular.StatusUnhealthy:
			overall = modular.StatusUnhealthy
		case modular.StatusDegraded:
			if overall == modular.StatusHealthy {
				overall = modular.StatusDegraded
			}
		}
	}

	status := http.StatusOK
	if overall == modular.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":  overall.String(),
		"reports": entries,
	})
}
