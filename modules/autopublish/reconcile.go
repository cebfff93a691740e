package autopublish

import (
	"context"
	"fmt"
	"time"
)

// reconcileLoop periodically verifies published records against the remote
// calendar and rolls materialization forward, so a long-running daemon
// keeps its horizon full without waiting for profile edits.
func (e *Engine) reconcileLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.reconcileOnce()
		}
	}
}

func (e *Engine) reconcileOnce() {
	for _, targetID := range e.profiles.TargetIDs() {
		if e.ctx.Err() != nil {
			return
		}
		if _, err := e.ReconcileTarget(e.ctx, targetID); err != nil {
			e.logger.Warn("reconciliation pass failed", "target", targetID, "error", err)
		}
	}
	for _, p := range e.profiles.All() {
		if e.ctx.Err() != nil {
			return
		}
		if !p.Automation.Enabled {
			continue
		}
		if _, err := e.UpdatePendingForProfile(e.ctx, p); err != nil {
			e.logger.Error("periodic re-sync failed", "target", p.TargetID, "profile", p.Key, "error", err)
		}
	}
}

// ReconcileTarget fetches the target's upcoming events and reconciles the
// published records against them.
func (e *Engine) ReconcileTarget(ctx context.Context, targetID string) (ReconcileResult, error) {
	if e.calendar == nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: no remote calendar configured")
	}
	remote, err := e.calendar.UpcomingEvents(ctx, targetID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: list upcoming events: %w", err)
	}
	return e.ReconcilePublished(targetID, remote)
}
