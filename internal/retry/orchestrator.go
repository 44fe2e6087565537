// Package retry decides whether a healed task should run again,
// computes category-specific backoff, resubmits the task to its
// originating queue and tracks the per-task state machine.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/metrics"
)

// TaskQueue abstracts the task transport the retried task goes back to.
type TaskQueue interface {
	PublishTask(ctx context.Context, queue string, payload []byte) error
	GetResult(ctx context.Context, taskID string) ([]byte, error)
	ClearResult(ctx context.Context, taskID string) error
	Ping(ctx context.Context) error
}

// FixVerifier re-checks an applied fix before a retry is allowed.
type FixVerifier interface {
	Verify(ctx context.Context, s *domain.Strategy) bool
}

// Outcome is the terminal result of one orchestrated retry.
type Outcome struct {
	Status   domain.RetryStatus
	TimedOut bool
	Result   *domain.TaskResult
}

// Config tunes the orchestrator.
type Config struct {
	DefaultQueue  string
	PollInterval  time.Duration
	ResultTimeout time.Duration
}

// Orchestrator owns retry decisions and execution.
type Orchestrator struct {
	cfg      Config
	queue    TaskQueue
	verifier FixVerifier
	tracker  *Tracker
	policies map[domain.ErrorCategory]CategoryPolicy

	jitterMu sync.Mutex
	rng      *rand.Rand

	log *slog.Logger
}

// NewOrchestrator creates a retry orchestrator with default policies.
func NewOrchestrator(
	cfg Config,
	queue TaskQueue,
	verifier FixVerifier,
	log *slog.Logger,
) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 5 * time.Minute
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = "tasks"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		queue:    queue,
		verifier: verifier,
		tracker:  NewTracker(),
		policies: DefaultPolicies(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
	}
}

// Tracker exposes the per-task state machine.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// PolicyFor returns the retry policy for a category, falling back to
// the unknown-category policy.
func (o *Orchestrator) PolicyFor(category domain.ErrorCategory) CategoryPolicy {
	if p, ok := o.policies[category]; ok {
		return p
	}
	return o.policies[domain.CategoryUnknown]
}

// ShouldRetry evaluates whether the original task may be resubmitted.
func (o *Orchestrator) ShouldRetry(
	ctx context.Context,
	incident *domain.Incident,
	category domain.ErrorCategory,
	fixResult *domain.FixResult,
) domain.RetryDecision {
	policy := o.PolicyFor(category)
	state := o.tracker.Get(incident.TaskID)

	decision := domain.RetryDecision{
		RetryCount: state.RetryCount,
		MaxRetries: policy.MaxRetries,
	}

	if state.Status.Terminal() {
		decision.Reason = fmt.Sprintf("task state is terminal (%s)", state.Status)
		return decision
	}
	if state.RetryCount >= policy.MaxRetries {
		decision.Reason = "max retries reached"
		return decision
	}
	if fixResult == nil || !fixResult.Success {
		decision.Reason = "fix did not succeed"
		return decision
	}
	if policy.VerifyFix && fixResult.StrategyUsed != nil {
		if !o.verifier.Verify(ctx, fixResult.StrategyUsed) {
			decision.Reason = "pre-retry verification failed"
			return decision
		}
	}
	if policy.ProbeLiveness {
		if err := o.queue.Ping(ctx); err != nil {
			decision.Reason = fmt.Sprintf("liveness probe failed: %v", err)
			return decision
		}
	}

	decision.Retry = true
	decision.Reason = "retry allowed"
	decision.Delay = Delay(policy, state.RetryCount, o.jitter)
	return decision
}

// OrchestrateRetry waits out the backoff delay, republishes the task
// with retry metadata and polls for its completion. A missing result
// before the deadline is a terminal timeout outcome, not an indefinite
// wait.
func (o *Orchestrator) OrchestrateRetry(
	ctx context.Context,
	incident *domain.Incident,
	category domain.ErrorCategory,
	fixResult *domain.FixResult,
	decision domain.RetryDecision,
) (*Outcome, error) {
	state, err := o.tracker.Begin(incident.TaskID)
	if err != nil {
		return nil, err
	}

	if decision.Delay > 0 {
		timer := time.NewTimer(decision.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			_ = o.tracker.Complete(incident.TaskID, domain.RetryPending)
			return nil, ctx.Err()
		}
	}

	msg := domain.RetryMessage{
		Task: incident.TaskPayload,
		RetryMetadata: domain.RetryMetadata{
			OriginalError:  incident.ErrorText,
			FixApplied:     fixResult != nil && fixResult.Success,
			RetryTimestamp: time.Now().UTC(),
			RetryCount:     state.RetryCount,
		},
	}
	if fixResult != nil && fixResult.StrategyUsed != nil {
		msg.RetryMetadata.FixCommand = fixResult.StrategyUsed.Command
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		_ = o.tracker.Complete(incident.TaskID, domain.RetryPending)
		return nil, fmt.Errorf("failed to encode retry message: %w", err)
	}

	queue := incident.SourceQueue
	if queue == "" {
		queue = o.cfg.DefaultQueue
	}
	if err := o.queue.PublishTask(ctx, queue, payload); err != nil {
		_ = o.tracker.Complete(incident.TaskID, domain.RetryPending)
		metrics.RetriesTotal.WithLabelValues("publish_error").Inc()
		return nil, fmt.Errorf("failed to republish task: %w", err)
	}
	o.log.Info("Task resubmitted for retry",
		"task", incident.TaskID, "queue", queue, "attempt", state.RetryCount)

	outcome, err := o.awaitResult(ctx, incident.TaskID)
	if err != nil {
		_ = o.tracker.Complete(incident.TaskID, domain.RetryPending)
		return nil, err
	}

	policy := o.PolicyFor(category)
	switch {
	case outcome.TimedOut:
		outcome.Status = domain.RetryFailed
		metrics.RetriesTotal.WithLabelValues("timeout").Inc()
	case outcome.Result.Success:
		outcome.Status = domain.RetrySuccess
		metrics.RetriesTotal.WithLabelValues("success").Inc()
	case state.RetryCount >= policy.MaxRetries:
		outcome.Status = domain.RetryExhausted
		metrics.RetriesTotal.WithLabelValues("exhausted").Inc()
	default:
		// Failed but retries remain: eligible for another cycle when
		// the error is reported again.
		outcome.Status = domain.RetryPending
		metrics.RetriesTotal.WithLabelValues("failed").Inc()
	}
	if err := o.tracker.Complete(incident.TaskID, outcome.Status); err != nil {
		o.log.Warn("Failed to record retry completion", "task", incident.TaskID, "error", err)
	}
	return outcome, nil
}

// awaitResult polls the transport for the retried task's result until
// the bounded timeout elapses.
func (o *Orchestrator) awaitResult(ctx context.Context, taskID string) (*Outcome, error) {
	deadline := time.Now().Add(o.cfg.ResultTimeout)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		raw, err := o.queue.GetResult(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll result: %w", err)
		}
		if raw != nil {
			var result domain.TaskResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return nil, fmt.Errorf("failed to decode task result: %w", err)
			}
			if err := o.queue.ClearResult(ctx, taskID); err != nil {
				o.log.Warn("Failed to clear consumed result", "task", taskID, "error", err)
			}
			return &Outcome{Result: &result}, nil
		}
		if time.Now().After(deadline) {
			return &Outcome{TimedOut: true}, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (o *Orchestrator) jitter() float64 {
	o.jitterMu.Lock()
	defer o.jitterMu.Unlock()
	return o.rng.Float64()
}
