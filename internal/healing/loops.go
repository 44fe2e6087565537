package healing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tdnguyen/healer/internal/metrics"
	"github.com/tdnguyen/healer/internal/notify"
)

// healthWindow is how far back a snapshot looks.
const healthWindow = time.Hour

// StartLoops launches the background maintenance loops. They stop when
// ctx is cancelled; Wait on the returned group before shutdown.
func (o *Orchestrator) StartLoops(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		o.healthLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.optimizeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.predictiveLoop(ctx)
	}()
	return &wg
}

// healthLoop periodically scores the system, persists the snapshot and
// alerts when the score degrades.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runHealthCheck(ctx)
		}
	}
}

func (o *Orchestrator) runHealthCheck(ctx context.Context) {
	snap := o.Snapshot(healthWindow)
	metrics.HealthScore.Set(snap.Score)

	if o.healthRepo != nil {
		if err := o.healthRepo.Append(ctx, snap); err != nil {
			o.log.Warn("Failed to persist health snapshot", "error", err)
		}
	}

	o.log.Info("Health check",
		"score", fmt.Sprintf("%.3f", snap.Score),
		"status", snap.Status,
		"active_issues", snap.ActiveIssues)

	if snap.Score < o.cfg.NotifyBelow {
		o.notifier.Notify(ctx, notify.Message{
			Severity: notify.SevWarning,
			Title:    "System health degraded",
			Body:     fmt.Sprintf("Health score %.3f (%s) is below the %.2f threshold.", snap.Score, snap.Status, o.cfg.NotifyBelow),
			Fields: map[string]string{
				"status":        string(snap.Status),
				"active_issues": fmt.Sprintf("%d", snap.ActiveIssues),
			},
		})
	} else if o.emergency.Active() {
		// Score recovered while emergency mode was holding: stand down.
		o.emergency.Clear()
	}
}

// optimizeLoop periodically re-scores learned strategies offline.
func (o *Orchestrator) optimizeLoop(ctx context.Context) {
	if o.optimizer == nil {
		return
	}
	ticker := time.NewTicker(o.cfg.OptimizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.emergency.Shedding() {
				o.log.Debug("Skipping optimization pass during emergency")
				continue
			}
			updated, err := o.optimizer.OptimizeAll(ctx)
			if err != nil {
				o.log.Warn("Optimization pass failed", "error", err)
				continue
			}
			if updated > 0 {
				o.log.Info("Optimization pass finished", "strategies_updated", updated)
			}
		}
	}
}

// predictiveLoop scans recent healing history for error types that keep
// recurring without resolution and alerts before they escalate.
func (o *Orchestrator) predictiveLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PredictiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.emergency.Shedding() {
				continue
			}
			o.runPredictiveScan(ctx)
		}
	}
}

// predictiveThreshold is the number of failed healings of one error
// type inside the scan window that constitutes a trend.
const predictiveThreshold = 3

func (o *Orchestrator) runPredictiveScan(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.PredictiveInterval * 4)
	failures := make(map[string]int)
	for _, r := range o.Records() {
		if r.CreatedAt.Before(cutoff) {
			break
		}
		if !r.Success {
			failures[r.ErrorType]++
		}
	}

	for errorType, n := range failures {
		if n < predictiveThreshold {
			continue
		}
		o.log.Warn("Recurring unresolved error detected",
			"error_type", errorType, "failures", n)
		o.notifier.Notify(ctx, notify.Message{
			Severity: notify.SevWarning,
			Title:    "Recurring failure trend: " + errorType,
			Body:     fmt.Sprintf("%d unresolved occurrences in the last %s; intervention likely needed.", n, o.cfg.PredictiveInterval*4),
			Fields:   map[string]string{"error_type": errorType},
		})
		o.rescanFailure(ctx, errorType)
	}
}

// rescanFailure re-heals the last remembered incident of a recurring
// error type ahead of its next occurrence. The resubmission carries
// the predictive origin tag; one attempt per scan cycle.
func (o *Orchestrator) rescanFailure(ctx context.Context, errorType string) {
	inc, ok := o.recallFailure(errorType)
	if !ok {
		return
	}
	inc.ID = inc.ID + ":predictive"
	inc.Context[originKey] = originPredictiveScan

	o.log.Info("Re-healing recurring error ahead of next failure",
		"error_type", errorType, "task", inc.TaskID)
	if _, err := o.HandleIncident(ctx, inc); err != nil {
		o.log.Warn("Predictive re-heal failed",
			"error_type", errorType, "task", inc.TaskID, "error", err)
	}
}
