package autopublish

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
	"golang.org/x/time/rate"
)

// wakeSlack pads the gate's wake-up past a lock expiry so the re-check never
// lands a hair before the window actually opens.
const wakeSlack = 100 * time.Millisecond

// backoffLadder holds the lock durations applied on consecutive rate-limit
// responses when the local window is not the cause.
var backoffLadder = []time.Duration{
	2 * time.Minute,
	4 * time.Minute,
	8 * time.Minute,
	16 * time.Minute,
	32 * time.Minute,
	60 * time.Minute,
}

type execOutcome int

const (
	outcomeSkipped execOutcome = iota
	outcomePublished
	outcomeRateLimited
	outcomeErrored
)

type queueItem struct {
	recordID string
	targetID string
	startsAt time.Time
	seq      uint64
	index    int
}

// publishQueue orders items by event start, soonest first; enqueue order
// breaks ties so equal starts stay FIFO.
type publishQueue []*queueItem

func (q publishQueue) Len() int { return len(q) }

func (q publishQueue) Less(i, j int) bool {
	if q[i].startsAt.Equal(q[j].startsAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].startsAt.Before(q[j].startsAt)
}

func (q publishQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *publishQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *publishQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// targetWindow tracks one target's sliding success window and lock state.
type targetWindow struct {
	history      []time.Time
	lockedUntil  time.Time
	backoffIndex int
}

type gateConfig struct {
	window       time.Duration
	maxPerWindow int
	spacing      time.Duration
}

// rateGate owns the publish queue and per-target admission. A single
// processor goroutine drains the queue head; when the head's target is
// locked or its window is full, the processor marks the head queued, arms
// one wake-up for the lock expiry and parks.
type rateGate struct {
	cfg    gateConfig
	logger modular.Logger

	// exec runs one publish attempt; markQueued flips the blocked head's
	// record. Both are called without g.mu held.
	exec       func(ctx context.Context, recordID string) execOutcome
	markQueued func(recordID string, lockedUntil time.Time)

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	queue   publishQueue
	items   map[string]*queueItem
	windows map[string]*targetWindow
	seq     uint64
	running bool
	wake    *time.Timer
	closed  bool
}

func newRateGate(cfg gateConfig, logger modular.Logger, exec func(context.Context, string) execOutcome, markQueued func(string, time.Time)) *rateGate {
	ctx, cancel := context.WithCancel(context.Background())
	return &rateGate{
		cfg:        cfg,
		logger:     logger,
		exec:       exec,
		markQueued: markQueued,
		limiter:    rate.NewLimiter(rate.Every(cfg.spacing), 1),
		ctx:        ctx,
		cancel:     cancel,
		items:      map[string]*queueItem{},
		windows:    map[string]*targetWindow{},
	}
}

// Enqueue adds a record to the publish queue and starts the processor if it
// is idle. A record already queued keeps its existing position.
func (g *rateGate) Enqueue(recordID, targetID string, startsAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if _, ok := g.items[recordID]; ok {
		return
	}
	g.seq++
	item := &queueItem{recordID: recordID, targetID: targetID, startsAt: startsAt, seq: g.seq}
	heap.Push(&g.queue, item)
	g.items[recordID] = item
	g.startProcessorLocked()
}

// Remove drops a record from the queue, reporting whether it was present.
func (g *rateGate) Remove(recordID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	item, ok := g.items[recordID]
	if !ok {
		return false
	}
	heap.Remove(&g.queue, item.index)
	delete(g.items, recordID)
	return true
}

// RecordSuccess appends a publish timestamp to the target's window and
// resets its backoff.
func (g *rateGate) RecordSuccess(targetID string, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.windowLocked(targetID)
	w.history = append(w.history, ts)
	g.pruneLocked(w, ts)
	w.backoffIndex = 0
	w.lockedUntil = time.Time{}
}

// NoteRateLimit locks a target after a rate-limit response. A full local
// window locks until its oldest success ages out; otherwise the backoff
// ladder applies and advances. Returns the lock deadline.
func (g *rateGate) NoteRateLimit(targetID string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UTC()
	w := g.windowLocked(targetID)
	g.pruneLocked(w, now)
	if len(w.history) >= g.cfg.maxPerWindow {
		w.lockedUntil = w.history[0].Add(g.cfg.window)
		return w.lockedUntil
	}
	idx := w.backoffIndex
	if idx >= len(backoffLadder) {
		idx = len(backoffLadder) - 1
	}
	w.lockedUntil = now.Add(backoffLadder[idx])
	if w.backoffIndex < len(backoffLadder)-1 {
		w.backoffIndex++
	}
	return w.lockedUntil
}

// Depth reports the number of records waiting in the queue.
func (g *rateGate) Depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queue.Len()
}

// LockedTargets returns the targets currently locked and their deadlines.
func (g *rateGate) LockedTargets() map[string]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UTC()
	locked := map[string]time.Time{}
	for id, w := range g.windows {
		if w.lockedUntil.After(now) {
			locked[id] = w.lockedUntil
		}
	}
	return locked
}

// Stop cancels the processor and waits for it to exit.
func (g *rateGate) Stop() {
	g.cancel()
	g.mu.Lock()
	g.closed = true
	if g.wake != nil {
		g.wake.Stop()
		g.wake = nil
	}
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *rateGate) windowLocked(targetID string) *targetWindow {
	w, ok := g.windows[targetID]
	if !ok {
		w = &targetWindow{}
		g.windows[targetID] = w
	}
	return w
}

// pruneLocked drops history entries that have aged out of the window.
func (g *rateGate) pruneLocked(w *targetWindow, now time.Time) {
	cutoff := now.Add(-g.cfg.window)
	i := 0
	for i < len(w.history) && !w.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.history = append(w.history[:0], w.history[i:]...)
	}
}

func (g *rateGate) startProcessorLocked() {
	if g.running || g.closed {
		return
	}
	g.running = true
	g.wg.Add(1)
	go g.run()
}

// armWakeLocked schedules a single processor restart, replacing any pending
// wake-up.
func (g *rateGate) armWakeLocked(d time.Duration) {
	if g.wake != nil {
		g.wake.Stop()
	}
	g.wake = time.AfterFunc(d, g.onWake)
}

func (g *rateGate) onWake() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.queue.Len() == 0 {
		return
	}
	g.startProcessorLocked()
}

// run drains the queue until it is empty or the head is blocked.
func (g *rateGate) run() {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		if g.closed || g.ctx.Err() != nil || g.queue.Len() == 0 {
			g.running = false
			g.mu.Unlock()
			return
		}

		head := g.queue[0]
		now := time.Now().UTC()
		w := g.windowLocked(head.targetID)
		g.pruneLocked(w, now)
		if !w.lockedUntil.IsZero() && !now.Before(w.lockedUntil) {
			// Lock expired while nothing was flowing.
			w.lockedUntil = time.Time{}
			w.backoffIndex = 0
		}

		var blockedUntil time.Time
		if now.Before(w.lockedUntil) {
			blockedUntil = w.lockedUntil
		} else if len(w.history) >= g.cfg.maxPerWindow {
			blockedUntil = w.history[0].Add(g.cfg.window)
			w.lockedUntil = blockedUntil
		}
		if !blockedUntil.IsZero() {
			g.armWakeLocked(blockedUntil.Add(wakeSlack).Sub(now))
			recordID := head.recordID
			g.running = false
			g.mu.Unlock()
			g.logger.Debug("publish gate parked", "target", head.targetID, "until", blockedUntil)
			g.markQueued(recordID, blockedUntil)
			return
		}

		item := heap.Pop(&g.queue).(*queueItem)
		delete(g.items, item.recordID)
		g.mu.Unlock()

		if err := g.limiter.Wait(g.ctx); err != nil {
			g.mu.Lock()
			g.running = false
			g.mu.Unlock()
			return
		}

		outcome := g.exec(g.ctx, item.recordID)

		if outcome == outcomeRateLimited {
			// Same item goes back in so its queue position survives the
			// retry.
			g.mu.Lock()
			if _, dup := g.items[item.recordID]; !dup && !g.closed {
				heap.Push(&g.queue, item)
				g.items[item.recordID] = item
			}
			g.mu.Unlock()
		}
	}
}
