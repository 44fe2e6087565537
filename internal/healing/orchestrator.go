// Package healing is the top-level coordinator: it takes classified
// incidents through fix execution, learning and retry, tracks the
// aggregate health score and runs the background maintenance loops.
package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tdnguyen/healer/internal/classify"
	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/core/worker"
	"github.com/tdnguyen/healer/internal/metrics"
	"github.com/tdnguyen/healer/internal/notify"
	"github.com/tdnguyen/healer/internal/retry"
)

// recordRingSize bounds the in-memory healing history the stats and
// predictive scan read from.
const recordRingSize = 1024

// taskLockTTL bounds how long a distributed per-task lock may outlive
// a crashed holder. Held locks are refreshed at half the TTL so a long
// fix does not lose its lock mid-flight.
const taskLockTTL = 10 * time.Minute

// Origin tags mark incidents the pipeline synthesized itself (or that
// an upstream monitor submitted proactively) rather than reports of a
// live task failure.
const (
	originKey             = "origin"
	originPredictiveScan  = "predictive_scan"
	originPreventiveCheck = "preventive_check"
)

// preventiveOccurrences is the pattern occurrence count from which a
// reliably auto-fixable error is healed preventively: the failure mode
// is known and the fix is applied before anyone has to look at it.
const preventiveOccurrences = 5

// Classifier matches raw error text to an analysis.
type Classifier interface {
	ShouldIgnore(text string) bool
	Classify(ctx context.Context, text string, taskCtx map[string]string) (*classify.Analysis, error)
}

// Fixer executes candidate strategies for an incident.
type Fixer interface {
	Execute(ctx context.Context, analysis *classify.Analysis, incident *domain.Incident) *domain.FixResult
}

// Retrier decides on and performs task resubmission.
type Retrier interface {
	ShouldRetry(ctx context.Context, incident *domain.Incident, category domain.ErrorCategory, fixResult *domain.FixResult) domain.RetryDecision
	OrchestrateRetry(ctx context.Context, incident *domain.Incident, category domain.ErrorCategory, fixResult *domain.FixResult, decision domain.RetryDecision) (*retry.Outcome, error)
}

// Learner feeds execution outcomes back into strategy selection.
type Learner interface {
	RecordExecution(ctx context.Context, errorType string, strategy domain.Strategy, result *domain.FixResult, execCtx map[string]string) error
	GetOptimizedStrategy(ctx context.Context, errorType string, execCtx map[string]string) (*domain.LearnedStrategy, error)
}

// TaskLocker is the optional distributed per-task lock. Nil disables
// it; the in-process keyed mutex always applies.
type TaskLocker interface {
	AcquireTaskLock(ctx context.Context, taskID string, ttl time.Duration) (bool, error)
	RefreshTaskLock(ctx context.Context, taskID string, ttl time.Duration) error
	ReleaseTaskLock(ctx context.Context, taskID string) error
}

// Config tunes the orchestrator and its loops.
type Config struct {
	HealthCheckInterval  time.Duration
	OptimizeInterval     time.Duration
	PredictiveInterval   time.Duration
	NotifyBelow          float64 // health score threshold for operator alerts
	EmergencyErrorRate   float64 // error rate that trips emergency mode
	EmergencyWindow      time.Duration
}

func (c *Config) applyDefaults() {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = time.Minute
	}
	if c.OptimizeInterval <= 0 {
		c.OptimizeInterval = time.Hour
	}
	if c.PredictiveInterval <= 0 {
		c.PredictiveInterval = 5 * time.Minute
	}
	if c.NotifyBelow <= 0 {
		c.NotifyBelow = 0.70
	}
	if c.EmergencyErrorRate <= 0 {
		c.EmergencyErrorRate = 0.5
	}
	if c.EmergencyWindow <= 0 {
		c.EmergencyWindow = 5 * time.Minute
	}
}

// Optimizer re-scores learned strategies offline.
type Optimizer interface {
	OptimizeAll(ctx context.Context) (int, error)
}

// Orchestrator is the healing pipeline's entry point.
type Orchestrator struct {
	cfg        Config
	classifier Classifier
	fixer      Fixer
	retrier    Retrier
	learner    Learner
	optimizer  Optimizer
	pool       *worker.Pool
	locker     TaskLocker
	notifier   notify.Notifier
	emergency  *EmergencyController
	healthRepo HealthAppender
	log        *slog.Logger
	tracer     trace.Tracer

	taskMu *keyedMutex

	mu          sync.Mutex
	records     []domain.HealingRecord // ring buffer, newest at records[head-1]
	head        int
	full        bool
	processed   int64 // incidents accepted for healing
	ignored     int64
	dedupSeen   map[string]time.Time
	lastFailure map[string]*domain.Incident // error type → last unhealed incident
}

// HealthAppender receives periodic health snapshots. Satisfied by the
// storage HealthRepository.
type HealthAppender interface {
	Append(ctx context.Context, s *domain.HealthSnapshot) error
}

// NewOrchestrator wires the pipeline together. locker and healthRepo
// may be nil; notifier falls back to the log.
func NewOrchestrator(
	cfg Config,
	classifier Classifier,
	fixer Fixer,
	retrier Retrier,
	learner Learner,
	optimizer Optimizer,
	pool *worker.Pool,
	locker TaskLocker,
	notifier notify.Notifier,
	healthRepo HealthAppender,
	log *slog.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{Log: log}
	}
	o := &Orchestrator{
		cfg:         cfg,
		classifier:  classifier,
		fixer:       fixer,
		retrier:     retrier,
		learner:     learner,
		optimizer:   optimizer,
		pool:        pool,
		locker:      locker,
		notifier:    notifier,
		healthRepo:  healthRepo,
		log:         log,
		tracer:      otel.Tracer("healer/healing"),
		taskMu:      newKeyedMutex(),
		records:     make([]domain.HealingRecord, recordRingSize),
		dedupSeen:   make(map[string]time.Time),
		lastFailure: make(map[string]*domain.Incident),
	}
	o.emergency = NewEmergencyController(o, log)
	return o
}

// Emergency exposes the emergency controller, mainly for the loops and
// tests.
func (o *Orchestrator) Emergency() *EmergencyController {
	return o.emergency
}

// HandleIncident runs one incident through the full pipeline. Duplicate
// in-flight reports for the same task serialize on the task id; the
// distributed lock, when configured, extends that across processes.
func (o *Orchestrator) HandleIncident(ctx context.Context, incident *domain.Incident) (*domain.HealingRecord, error) {
	if o.classifier.ShouldIgnore(incident.ErrorText) {
		metrics.IncidentsIgnored.Inc()
		o.mu.Lock()
		o.ignored++
		o.mu.Unlock()
		o.log.Debug("Incident ignored as noise", "task", incident.TaskID)
		return nil, nil
	}
	// Synthesized and proactively submitted incidents carry an origin
	// tag and skip duplicate suppression: they are deliberate and
	// already rate-limited by the loop that produced them.
	if incident.Context[originKey] == "" && o.isDuplicate(incident) {
		o.log.Debug("Duplicate incident suppressed",
			"task", incident.TaskID, "hash", incident.DedupHash)
		return nil, nil
	}

	o.taskMu.Lock(incident.TaskID)
	defer o.taskMu.Unlock(incident.TaskID)

	if o.locker != nil {
		acquired, err := o.locker.AcquireTaskLock(ctx, incident.TaskID, taskLockTTL)
		if err != nil {
			o.log.Warn("Task lock unavailable, proceeding with local lock only",
				"task", incident.TaskID, "error", err)
		} else if !acquired {
			o.log.Info("Task already being healed elsewhere", "task", incident.TaskID)
			return nil, nil
		} else {
			stopRefresh := make(chan struct{})
			go o.refreshTaskLock(ctx, incident.TaskID, stopRefresh, taskLockTTL/2)
			defer func() {
				close(stopRefresh)
				if err := o.locker.ReleaseTaskLock(context.WithoutCancel(ctx), incident.TaskID); err != nil {
					o.log.Warn("Failed to release task lock", "task", incident.TaskID, "error", err)
				}
			}()
		}
	}

	record, err := o.heal(ctx, incident)
	if record != nil && !record.Success && incident.Context[originKey] == "" {
		o.rememberFailure(record.ErrorType, incident)
	}
	return record, err
}

// refreshTaskLock keeps the distributed lock alive while a long fix
// runs, until the holder finishes or the context ends.
func (o *Orchestrator) refreshTaskLock(
	ctx context.Context,
	taskID string,
	stop <-chan struct{},
	every time.Duration,
) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.locker.RefreshTaskLock(ctx, taskID, taskLockTTL); err != nil {
				o.log.Warn("Failed to refresh task lock", "task", taskID, "error", err)
			}
		}
	}
}

// rememberFailure keeps the most recent unhealed incident per error
// type so the predictive scan can re-heal a recurring failure.
func (o *Orchestrator) rememberFailure(errorType string, incident *domain.Incident) {
	if errorType == "" {
		return
	}
	cp := *incident
	cp.Context = make(map[string]string, len(incident.Context))
	for k, v := range incident.Context {
		cp.Context[k] = v
	}
	o.mu.Lock()
	o.lastFailure[errorType] = &cp
	o.mu.Unlock()
}

// recallFailure returns a copy of the last unhealed incident for an
// error type, if one is remembered.
func (o *Orchestrator) recallFailure(errorType string) (*domain.Incident, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inc, ok := o.lastFailure[errorType]
	if !ok {
		return nil, false
	}
	cp := *inc
	cp.Context = make(map[string]string, len(inc.Context))
	for k, v := range inc.Context {
		cp.Context[k] = v
	}
	return &cp, true
}

func (o *Orchestrator) heal(ctx context.Context, incident *domain.Incident) (*domain.HealingRecord, error) {
	ctx, span := o.tracer.Start(ctx, "healing.HandleIncident",
		trace.WithAttributes(
			attribute.String("task.id", incident.TaskID),
			attribute.String("worker.type", incident.WorkerType),
		))
	defer span.End()

	start := time.Now()
	o.mu.Lock()
	o.processed++
	o.mu.Unlock()

	analysis, err := o.classifier.Classify(ctx, incident.ErrorText, incident.Context)
	if err != nil {
		span.SetStatus(codes.Error, "classification failed")
		return nil, fmt.Errorf("failed to classify incident: %w", err)
	}
	incident.Category = analysis.Category
	metrics.IncidentsTotal.WithLabelValues(string(analysis.Category)).Inc()
	span.SetAttributes(
		attribute.String("error.type", analysis.RuleName),
		attribute.String("error.category", string(analysis.Category)),
	)

	class := o.selectClass(ctx, incident, analysis)
	span.SetAttributes(attribute.String("healing.class", string(class)))

	record := domain.HealingRecord{
		IncidentID: incident.ID,
		TaskID:     incident.TaskID,
		ErrorType:  analysis.RuleName,
		Class:      class,
		CreatedAt:  start,
	}

	if class == domain.HealEmergency {
		actions := o.emergency.Activate(ctx, incident)
		record.Actions = actions
		record.ManualRequired = true
		record.Duration = time.Since(start)
		o.finish(ctx, &record)
		return &record, nil
	}

	if !analysis.AutoFixable || len(analysis.Candidates) == 0 {
		o.escalate(ctx, incident, analysis, "no auto-fix available")
		record.ManualRequired = true
		record.Duration = time.Since(start)
		o.finish(ctx, &record)
		return &record, nil
	}

	fixResult := o.executeFix(ctx, analysis, incident)
	if fixResult.StrategyUsed != nil {
		record.Actions = append(record.Actions, fixResult.ExecutedCommands...)
	} else {
		record.Actions = fixResult.ExecutedCommands
	}

	o.recordLearning(ctx, analysis, incident, fixResult)

	decision := o.retrier.ShouldRetry(ctx, incident, analysis.Category, fixResult)
	span.SetAttributes(attribute.Bool("retry.allowed", decision.Retry))
	if !decision.Retry {
		record.Success = fixResult.Success
		record.ManualRequired = !fixResult.Success
		record.Duration = time.Since(start)
		if record.ManualRequired {
			o.escalate(ctx, incident, analysis, decision.Reason)
		}
		o.finish(ctx, &record)
		return &record, nil
	}

	outcome, err := o.retrier.OrchestrateRetry(ctx, incident, analysis.Category, fixResult, decision)
	if err != nil {
		span.SetStatus(codes.Error, "retry orchestration failed")
		record.ManualRequired = true
		record.Duration = time.Since(start)
		o.finish(ctx, &record)
		return &record, fmt.Errorf("failed to orchestrate retry: %w", err)
	}

	record.Success = outcome.Status == domain.RetrySuccess
	record.ManualRequired = outcome.Status == domain.RetryExhausted || outcome.Status == domain.RetryFailed
	record.Duration = time.Since(start)
	if record.ManualRequired {
		o.escalate(ctx, incident, analysis, "retry did not recover the task")
	}
	o.finish(ctx, &record)
	return &record, nil
}

// executeFix prefers a learned strategy ranked above the rule-derived
// candidates and runs everything on the bounded worker pool.
func (o *Orchestrator) executeFix(
	ctx context.Context,
	analysis *classify.Analysis,
	incident *domain.Incident,
) *domain.FixResult {
	if learned, err := o.learner.GetOptimizedStrategy(ctx, analysis.RuleName, incident.Context); err != nil {
		o.log.Warn("Failed to load learned strategy", "error_type", analysis.RuleName, "error", err)
	} else if learned != nil && learned.EffectivenessScore > 0 {
		reordered := append([]domain.Strategy{learned.Strategy}, analysis.Candidates...)
		analysis = &classify.Analysis{
			RuleName:    analysis.RuleName,
			Category:    analysis.Category,
			Severity:    analysis.Severity,
			AutoFixable: analysis.AutoFixable,
			Confidence:  analysis.Confidence,
			Occurrences: analysis.Occurrences,
			Candidates:  dedupeStrategies(reordered),
		}
	}

	done := make(chan *domain.FixResult, 1)
	err := o.pool.Submit(ctx, func() {
		done <- o.fixer.Execute(ctx, analysis, incident)
	})
	if err != nil {
		return &domain.FixResult{Error: fmt.Sprintf("fix not scheduled: %v", err)}
	}
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return &domain.FixResult{Error: ctx.Err().Error()}
	}
}

func (o *Orchestrator) recordLearning(
	ctx context.Context,
	analysis *classify.Analysis,
	incident *domain.Incident,
	fixResult *domain.FixResult,
) {
	strategy := fixResult.StrategyUsed
	if strategy == nil {
		if len(analysis.Candidates) == 0 {
			return
		}
		// Record the first attempted candidate as the failed strategy.
		strategy = &analysis.Candidates[0]
	}
	execCtx := map[string]string{"worker_type": incident.WorkerType}
	for k, v := range incident.Context {
		execCtx[k] = v
	}
	if err := o.learner.RecordExecution(ctx, analysis.RuleName, *strategy, fixResult, execCtx); err != nil {
		o.log.Warn("Failed to record execution outcome",
			"error_type", analysis.RuleName, "error", err)
	}
}

// selectClass picks the healing path for an incident. Emergency is a
// system-state decision: it trips on aggregate health, never on a
// single incident's severity, so critical-but-fixable errors still get
// the fix chain.
func (o *Orchestrator) selectClass(
	ctx context.Context,
	incident *domain.Incident,
	analysis *classify.Analysis,
) domain.HealingClass {
	if o.emergency.Active() || o.errorRateExceeded() || o.healthCritical() {
		return domain.HealEmergency
	}
	if incident.Context[originKey] == originPredictiveScan {
		return domain.HealPredictive
	}
	if incident.Context[originKey] == originPreventiveCheck {
		return domain.HealPreventive
	}
	// A pattern seen often enough with a reliable auto-fix is handled
	// preventively: the failure mode is known before anyone triages it.
	if analysis.AutoFixable && analysis.Occurrences >= preventiveOccurrences {
		return domain.HealPreventive
	}
	if learned, err := o.learner.GetOptimizedStrategy(ctx, analysis.RuleName, incident.Context); err == nil &&
		learned != nil && learned.SampleCount > 0 {
		return domain.HealAdaptive
	}
	return domain.HealReactive
}

// healthCritical reports whether the windowed health score has fallen
// into the critical tier.
func (o *Orchestrator) healthCritical() bool {
	return Status(o.Snapshot(healthWindow).Score) == domain.HealthCritical
}

func (o *Orchestrator) escalate(
	ctx context.Context,
	incident *domain.Incident,
	analysis *classify.Analysis,
	reason string,
) {
	metrics.ManualInterventions.Inc()
	o.notifier.Notify(ctx, notify.Message{
		Severity: notify.SevWarning,
		Title:    "Manual intervention required: " + analysis.RuleName,
		Body:     reason,
		Fields: map[string]string{
			"task_id":  incident.TaskID,
			"worker":   incident.WorkerType,
			"category": string(analysis.Category),
		},
	})
}

// finish appends the record to the ring and observes its duration.
func (o *Orchestrator) finish(ctx context.Context, record *domain.HealingRecord) {
	if record.Success &&
		(record.Class == domain.HealPreventive || record.Class == domain.HealPredictive) {
		// Healed before the failure recurred in front of anyone.
		record.Prevented = true
	}
	metrics.HealingDuration.WithLabelValues(string(record.Class)).Observe(record.Duration.Seconds())

	o.mu.Lock()
	o.records[o.head] = *record
	o.head = (o.head + 1) % recordRingSize
	if o.head == 0 {
		o.full = true
	}
	o.mu.Unlock()

	o.log.Info("Healing completed",
		"task", record.TaskID,
		"error_type", record.ErrorType,
		"class", record.Class,
		"success", record.Success,
		"manual", record.ManualRequired,
		"duration", record.Duration)
}

// isDuplicate remembers dedup hashes for a short window so repeated
// reports of one failure heal only once.
func (o *Orchestrator) isDuplicate(incident *domain.Incident) bool {
	const window = 2 * time.Minute
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	if last, ok := o.dedupSeen[incident.DedupHash]; ok && now.Sub(last) < window {
		return true
	}
	o.dedupSeen[incident.DedupHash] = now
	for k, t := range o.dedupSeen {
		if now.Sub(t) > window {
			delete(o.dedupSeen, k)
		}
	}
	return false
}

// Records returns a copy of the healing history, newest first.
func (o *Orchestrator) Records() []domain.HealingRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := o.head
	if o.full {
		n = recordRingSize
	}
	out := make([]domain.HealingRecord, 0, n)
	for i := 0; i < n; i++ {
		idx := (o.head - 1 - i + recordRingSize) % recordRingSize
		out = append(out, o.records[idx])
	}
	return out
}

// Snapshot computes the current health snapshot from the record ring.
func (o *Orchestrator) Snapshot(window time.Duration) *domain.HealthSnapshot {
	records := o.Records()
	cutoff := time.Now().Add(-window)

	var total, healed, prevented, predicted, retried, retriedOK, manual int
	var durSum time.Duration
	for _, r := range records {
		if r.CreatedAt.Before(cutoff) {
			break
		}
		total++
		durSum += r.Duration
		if r.Success && !r.ManualRequired {
			healed++
		}
		if r.ManualRequired {
			manual++
		}
		switch r.Class {
		case domain.HealPreventive:
			if r.Prevented {
				prevented++
			}
		case domain.HealPredictive:
			if r.Prevented {
				predicted++
			}
		}
		if r.Class == domain.HealReactive || r.Class == domain.HealAdaptive {
			retried++
			if r.Success {
				retriedOK++
			}
		}
	}

	o.mu.Lock()
	processed := o.processed
	o.mu.Unlock()

	in := ScoreInputs{}
	if total > 0 {
		in.AutoFixRate = float64(healed) / float64(total)
		in.PreventionRate = rateOrDefault(prevented, total, 1)
		in.PredictionRate = rateOrDefault(predicted, total, 1)
	} else {
		// No incidents in the window means nothing went wrong.
		in.AutoFixRate = 1
		in.PreventionRate = 1
		in.PredictionRate = 1
	}
	if retried > 0 {
		in.RetryRate = float64(retriedOK) / float64(retried)
	} else {
		in.RetryRate = 1
	}
	if processed > 0 {
		in.ErrorRate = float64(manual) / float64(processed)
	}

	score := Score(in)
	snap := &domain.HealthSnapshot{
		Timestamp:       time.Now().UTC(),
		Score:           score,
		Status:          Status(score),
		AutoHealingRate: in.AutoFixRate,
		PreventionRate:  in.PreventionRate,
		ActiveIssues:    manual,
		Metrics: map[string]float64{
			"retry_success_rate": in.RetryRate,
			"prediction_rate":    in.PredictionRate,
			"error_rate":         in.ErrorRate,
			"incidents_windowed": float64(total),
		},
	}
	if total > 0 {
		snap.AvgHealingTime = durSum / time.Duration(total)
	}
	return snap
}

// errorRateExceeded checks the emergency tripwire over the configured
// window.
func (o *Orchestrator) errorRateExceeded() bool {
	records := o.Records()
	cutoff := time.Now().Add(-o.cfg.EmergencyWindow)
	var total, failed int
	for _, r := range records {
		if r.CreatedAt.Before(cutoff) {
			break
		}
		total++
		if !r.Success {
			failed++
		}
	}
	if total < 10 {
		return false
	}
	return float64(failed)/float64(total) >= o.cfg.EmergencyErrorRate
}

func dedupeStrategies(in []domain.Strategy) []domain.Strategy {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

func rateOrDefault(n, d int, def float64) float64 {
	if d == 0 {
		return def
	}
	return float64(n) / float64(d)
}
