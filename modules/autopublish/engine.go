package autopublish

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/Cynacedia/VRC-Event-Creator/modules/profiles"
	"github.com/Cynacedia/VRC-Event-Creator/patterns"
)

// expandFunc materializes pattern slots. Swappable so tests can pin the
// expansion output.
type expandFunc func(pats []patterns.Pattern, monthsAhead int, loc *time.Location, now time.Time) ([]patterns.Slot, error)

// Engine owns the pending and state documents and everything that moves
// them: materialization, scheduling, the rate gate, the publish worker and
// the control operations. All mutation is serialized on one mutex; the
// transport call is the only operation running outside it.
type Engine struct {
	cfg       *AutoPublishConfig
	logger    modular.Logger
	store     *documentStore
	profiles  ProfileSource
	publisher EventPublisher
	calendar  RemoteCalendar
	expand    expandFunc
	hooks     Hooks
	emitter   func(eventType string, data map[string]any)
	gate      *rateGate
	metrics   *engineMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// execMu serializes publish executions engine-wide, covering both
	// gate-driven and direct paths.
	execMu sync.Mutex

	mu            sync.Mutex
	doc           *pendingDocument
	state         *stateDocument
	timers        map[string]*timerHandle
	retries       map[string]*time.Timer
	pendingNotifs []func()
	started       bool
	closed        bool
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithCalendar wires the remote calendar used by reconciliation.
func WithCalendar(c RemoteCalendar) Option {
	return func(e *Engine) { e.calendar = c }
}

// WithHooks registers the published/missed notification callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithEventEmitter wires the observer-event sink the owning module exposes.
func WithEventEmitter(emit func(eventType string, data map[string]any)) Option {
	return func(e *Engine) { e.emitter = emit }
}

// WithExpander replaces the pattern expansion function.
func WithExpander(fn expandFunc) Option {
	return func(e *Engine) { e.expand = fn }
}

func NewEngine(cfg *AutoPublishConfig, source ProfileSource, publisher EventPublisher, logger modular.Logger, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     newDocumentStore(cfg.PendingFile, cfg.StateFile, logger),
		profiles:  source,
		publisher: publisher,
		expand:    patterns.Expand,
		ctx:       ctx,
		cancel:    cancel,
		doc:       &pendingDocument{Settings: documentSettings{DisplayLimit: defaultDisplayLimit}},
		state:     &stateDocument{Profiles: map[string]*ProfileState{}},
		timers:    map[string]*timerHandle{},
		retries:   map[string]*time.Timer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gate = newRateGate(gateConfig{
		window:       cfg.RateLimitWindow,
		maxPerWindow: cfg.RateLimitMax,
		spacing:      cfg.PublishSpacing,
	}, logger, e.executePublish, e.markQueuedByGate)
	e.metrics = newEngineMetrics(e.gate)
	return e
}

// Start loads and repairs the documents, runs missed detection, arms
// timers, re-enqueues queued records and brings every profile up to date.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true

	now := time.Now().UTC()
	e.doc = e.store.loadPending()
	e.state = e.store.loadState()

	stateChanged := false
	for _, st := range e.state.Profiles {
		if st.normalizePublishedTimes() {
			stateChanged = true
		}
	}

	docChanged, dropped := normalizeDocument(e.doc, normalizeDeps{
		lookupProfile: e.profiles.Profile,
		minLead:       e.cfg.MinLeadTime,
		now:           now,
	})
	if dropped > 0 {
		e.logger.Warn("normalization dropped unsalvageable records", "count", dropped)
	}
	if e.gcDeletedLocked(now) {
		docChanged = true
	}

	missed := e.armTimersLocked()
	if missed > 0 {
		docChanged = true
	}
	queued := 0
	for _, rec := range e.doc.Events {
		if rec.Status == StatusQueued {
			e.gate.Enqueue(rec.ID, rec.TargetID, rec.EventStartsAt)
			queued++
		}
	}

	if docChanged {
		e.persistPendingLocked()
	} else {
		e.refreshGaugesLocked()
	}
	if stateChanged {
		e.persistStateLocked()
	}
	e.logger.Info("autopublish engine started",
		"pending", len(e.doc.Events), "deleted", len(e.doc.DeletedEvents),
		"missedOnStart", missed, "requeued", queued)
	notifs := e.takeNotifsLocked()
	e.mu.Unlock()
	e.flush(notifs)

	e.profiles.Subscribe(e.onProfilesChange)

	if ids := e.profiles.TargetIDs(); len(ids) > 0 {
		e.SetKnownTargets(ids)
	}
	for _, p := range e.profiles.All() {
		if _, err := e.UpdatePendingForProfile(ctx, p); err != nil {
			e.logger.Error("initial profile sync failed", "target", p.TargetID, "profile", p.Key, "error", err)
		}
	}

	if e.cfg.ReconcileInterval > 0 && e.calendar != nil {
		e.wg.Add(1)
		go e.reconcileLoop()
	}
	return nil
}

// Stop halts timers, the gate and the reconcile loop, then writes both
// documents one last time.
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopTimersLocked()
	e.stopRetriesLocked()
	e.mu.Unlock()

	e.gate.Stop()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	return multierr.Combine(
		e.store.savePending(e.doc),
		e.store.saveState(e.state),
	)
}

// onProfilesChange reacts to live edits of the profiles document.
func (e *Engine) onProfilesChange(change profiles.ProfilesChange) {
	for _, p := range change.Updated {
		if _, err := e.UpdatePendingForProfile(e.ctx, p); err != nil {
			e.logger.Error("profile sync failed", "target", p.TargetID, "profile", p.Key, "error", err)
		}
	}
	for _, ref := range change.Removed {
		e.dropProfilePending(ref.TargetID, ref.Key)
	}
	if ids := e.profiles.TargetIDs(); len(ids) > 0 {
		e.SetKnownTargets(ids)
	}
}

// dropProfilePending removes a vanished profile's unpublished records.
// State and the deleted pool survive, so re-adding the profile resumes
// where it left off.
func (e *Engine) dropProfilePending(targetID, profileKey string) {
	e.mu.Lock()
	kept := e.doc.Events[:0]
	removed := 0
	for _, rec := range e.doc.Events {
		if rec.TargetID == targetID && rec.ProfileKey == profileKey && rec.Status.active() {
			e.clearTimerLocked(rec.SlotKey)
			e.clearRetryLocked(rec.ID)
			e.gate.Remove(rec.ID)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	e.doc.Events = kept
	if removed > 0 {
		e.persistPendingLocked()
	}
	e.mu.Unlock()
	if removed > 0 {
		e.logger.Info("profile removed, pending records dropped", "target", targetID, "profile", profileKey, "count", removed)
	}
}

// gcDeletedLocked drops deleted-pool entries whose event start has passed;
// nothing can restore those. Requires e.mu.
func (e *Engine) gcDeletedLocked(now time.Time) bool {
	kept := e.doc.DeletedEvents[:0]
	changed := false
	for _, rec := range e.doc.DeletedEvents {
		if rec.EventStartsAt.Before(now) {
			changed = true
			continue
		}
		kept = append(kept, rec)
	}
	e.doc.DeletedEvents = kept
	return changed
}

// persistPendingLocked writes the pending document; failures are logged and
// the in-memory state stays authoritative. Requires e.mu.
func (e *Engine) persistPendingLocked() {
	if err := e.store.savePending(e.doc); err != nil {
		e.logger.Error("cannot persist pending document", "error", err)
	}
	e.refreshGaugesLocked()
}

func (e *Engine) persistStateLocked() {
	if err := e.store.saveState(e.state); err != nil {
		e.logger.Error("cannot persist state document", "error", err)
	}
}

// noteLocked buffers a notification to run after the current persisted
// mutation is released, preserving notify-after-persist. Requires e.mu.
func (e *Engine) noteLocked(fn func()) {
	e.pendingNotifs = append(e.pendingNotifs, fn)
}

func (e *Engine) takeNotifsLocked() []func() {
	notifs := e.pendingNotifs
	e.pendingNotifs = nil
	return notifs
}

// flush runs buffered notifications outside the engine lock. Listener
// panics are contained.
func (e *Engine) flush(notifs []func()) {
	for _, fn := range notifs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("notification listener panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}

func (e *Engine) emit(eventType string, data map[string]any) {
	if e.emitter != nil {
		e.emitter(eventType, data)
	}
}

// findByIDLocked resolves a record by its immutable id. Requires e.mu.
func (e *Engine) findByIDLocked(id string) *PendingRecord {
	for _, rec := range e.doc.Events {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// findBySlotOrIDLocked resolves by id first, then by current slot key.
// Requires e.mu.
func (e *Engine) findBySlotOrIDLocked(key string) *PendingRecord {
	if rec := e.findByIDLocked(key); rec != nil {
		return rec
	}
	for _, rec := range e.doc.Events {
		if rec.SlotKey == key {
			return rec
		}
	}
	return nil
}

// profileStateLocked returns the profile's state, creating it on first
// touch. Requires e.mu.
func (e *Engine) profileStateLocked(targetID, profileKey string) *ProfileState {
	key := stateKey(targetID, profileKey)
	st, ok := e.state.Profiles[key]
	if !ok {
		st = &ProfileState{}
		e.state.Profiles[key] = st
	}
	return st
}

// Pending returns the unpublished records, soonest event first. Empty
// targetID means all targets.
func (e *Engine) Pending(targetID string) []PendingRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []PendingRecord
	for _, rec := range e.doc.Events {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		if rec.Status.terminal() {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventStartsAt.Before(out[j].EventStartsAt) })
	return out
}

// Published returns the published records for a target, soonest first.
func (e *Engine) Published(targetID string) []PendingRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []PendingRecord
	for _, rec := range e.doc.Events {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		if rec.Status != StatusPublished {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventStartsAt.Before(out[j].EventStartsAt) })
	return out
}

// Deleted returns the soft-deleted records, soonest event first.
func (e *Engine) Deleted(targetID string) []PendingRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []PendingRecord
	for _, rec := range e.doc.DeletedEvents {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventStartsAt.Before(out[j].EventStartsAt) })
	return out
}

// Counts reports how many records for a target are missed and queued.
func (e *Engine) Counts(targetID string) (missed, queued int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.doc.Events {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		switch rec.Status {
		case StatusMissed:
			missed++
		case StatusQueued:
			queued++
		}
	}
	return missed, queued
}

// ProfileState returns a copy of the profile's automation state.
func (e *Engine) ProfileState(targetID, profileKey string) (ProfileState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state.Profiles[stateKey(targetID, profileKey)]
	if !ok {
		return ProfileState{}, false
	}
	return st.Clone(), true
}

// DisplayLimit returns the persisted display preference.
func (e *Engine) DisplayLimit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Settings.DisplayLimit
}

// SetDisplayLimit stores the display preference. Zero means unlimited.
func (e *Engine) SetDisplayLimit(limit int) error {
	if limit < 0 {
		return ErrInvalidDisplayLimit
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc.Settings.DisplayLimit = limit
	e.persistPendingLocked()
	return nil
}

// Started reports whether the engine is up and not shut down.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.closed
}

// QueueDepth reports how many records sit in the publish queue.
func (e *Engine) QueueDepth() int {
	return e.gate.Depth()
}

// LockedTargets reports the targets currently held by the rate gate.
func (e *Engine) LockedTargets() map[string]time.Time {
	return e.gate.LockedTargets()
}

// MetricsRegistry exposes the engine's metric registry for scraping.
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.metrics.registry
}
