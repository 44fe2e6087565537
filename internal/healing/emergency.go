package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/metrics"
	"github.com/tdnguyen/healer/internal/notify"
)

// CacheClearer drops transient shared state during an emergency.
// Satisfied by the redis client.
type CacheClearer interface {
	ClearTransient(ctx context.Context, pattern string) (int, error)
}

// minActivationGap rate-limits emergency mode so a burst of critical
// incidents triggers one response, not one per incident.
const minActivationGap = 5 * time.Minute

// emergencyHold is how long emergency mode stays active after the last
// activation before it auto-clears.
const emergencyHold = 10 * time.Minute

// EmergencyController handles the last-resort healing path: shed
// non-essential work, drop transient caches and page an operator.
type EmergencyController struct {
	orch   *Orchestrator
	caches CacheClearer
	log    *slog.Logger

	mu            sync.Mutex
	lastActivated time.Time
	shedding      bool
}

func NewEmergencyController(orch *Orchestrator, log *slog.Logger) *EmergencyController {
	if log == nil {
		log = slog.Default()
	}
	return &EmergencyController{orch: orch, log: log}
}

// SetCacheClearer attaches the shared-state backend; nil keeps cache
// clearing disabled.
func (e *EmergencyController) SetCacheClearer(c CacheClearer) {
	e.mu.Lock()
	e.caches = c
	e.mu.Unlock()
}

// Active reports whether emergency mode currently applies.
func (e *EmergencyController) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.lastActivated.IsZero() && time.Since(e.lastActivated) < emergencyHold
}

// Shedding reports whether non-essential load is currently shed. The
// background loops consult this and skip their work while it holds.
func (e *EmergencyController) Shedding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shedding && time.Since(e.lastActivated) < emergencyHold
}

// Activate runs the emergency response for an incident and returns the
// actions taken. Repeated activations inside the rate-limit window only
// record the triggering incident.
func (e *EmergencyController) Activate(ctx context.Context, incident *domain.Incident) []string {
	e.mu.Lock()
	throttled := time.Since(e.lastActivated) < minActivationGap && !e.lastActivated.IsZero()
	if !throttled {
		e.lastActivated = time.Now()
		e.shedding = true
	}
	caches := e.caches
	e.mu.Unlock()

	if throttled {
		e.log.Warn("Emergency already active, incident folded in",
			"task", incident.TaskID, "error", incident.ErrorText)
		return []string{"emergency: folded into active response"}
	}

	metrics.EmergencyActivations.Inc()
	e.log.Error("Emergency healing activated",
		"task", incident.TaskID, "category", incident.Category, "error", incident.ErrorText)

	actions := []string{"emergency: shed non-essential load"}
	if caches != nil {
		n, err := caches.ClearTransient(ctx, "healing:cache:*")
		if err != nil {
			e.log.Warn("Failed to clear transient caches", "error", err)
		} else {
			actions = append(actions, fmt.Sprintf("emergency: cleared %d transient cache keys", n))
		}
	}

	e.orch.notifier.Notify(ctx, notify.Message{
		Severity: notify.SevCritical,
		Title:    "Emergency healing activated",
		Body:     "Error rate or severity crossed the emergency threshold; load shed and caches cleared.",
		Fields: map[string]string{
			"task_id":  incident.TaskID,
			"category": string(incident.Category),
		},
	})
	actions = append(actions, "emergency: operator paged")
	return actions
}

// Clear ends emergency mode, typically once the health loop sees the
// score recover.
func (e *EmergencyController) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shedding {
		e.log.Info("Emergency mode cleared")
	}
	e.lastActivated = time.Time{}
	e.shedding = false
}
