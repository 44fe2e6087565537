// Package learning records fix execution outcomes, ranks strategies
// per error type and evolves them as evidence accumulates. It degrades
// to pure rule-based ranking when no model backend is available.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage"
)

// Config tunes the learner.
type Config struct {
	Epsilon       float64       // exploration probability; 0 = fully deterministic
	MinSamples    int           // new samples per error type before re-ranking
	RetrainWindow time.Duration // rolling window for the sample count
	HistoryLimit  int           // ledger rows fed to the predictor per re-rank
}

// Learner owns the execution ledger and the per-strategy performance
// aggregates.
type Learner struct {
	cfg        Config
	ledger     storage.LedgerRepository
	strategies storage.StrategyRepository
	predictor  StrategyPredictor

	mu         sync.Mutex
	perf       map[string]*domain.StrategyPerformance // strategyID|errorType
	newSamples map[string]int                         // error type → samples since last re-rank

	rngMu sync.Mutex
	rng   *rand.Rand

	log *slog.Logger
}

// NewLearner creates a learner. A nil predictor falls back to the
// rule-based implementation rather than failing.
func NewLearner(
	cfg Config,
	ledger storage.LedgerRepository,
	strategies storage.StrategyRepository,
	predictor StrategyPredictor,
	log *slog.Logger,
) *Learner {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.RetrainWindow <= 0 {
		cfg.RetrainWindow = 24 * time.Hour
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	if predictor == nil {
		predictor = NewRuleBasedPredictor()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Learner{
		cfg:        cfg,
		ledger:     ledger,
		strategies: strategies,
		predictor:  predictor,
		perf:       make(map[string]*domain.StrategyPerformance),
		newSamples: make(map[string]int),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        log,
	}
}

// RecordExecution appends one outcome to the ledger, updates the
// strategy's aggregates and triggers re-ranking once enough fresh
// samples arrive for the error type.
func (l *Learner) RecordExecution(
	ctx context.Context,
	errorType string,
	strategy domain.Strategy,
	result *domain.FixResult,
	execCtx map[string]string,
) error {
	now := time.Now().UTC()
	feat := Extract(strategy, execCtx, now)
	mergedCtx := feat.Merge(execCtx)

	exec := &domain.Execution{
		ID:            ulid.Make().String(),
		ErrorType:     errorType,
		Strategy:      strategy,
		Context:       mergedCtx,
		ExecTime:      result.ExecutionTime,
		ResourceUsage: map[string]float64{"memory_mb": feat.MemoryMB, "load_percent": feat.LoadPercent},
		Success:       result.Success,
		SideEffects:   result.ExecutedCommands,
		FeedbackScore: feedbackScore(result),
		ExecutedAt:    now,
	}
	if err := l.ledger.Append(ctx, exec); err != nil {
		return fmt.Errorf("failed to append execution: %w", err)
	}

	perf := l.updatePerformance(errorType, strategy.ID, result)

	learned := &domain.LearnedStrategy{
		StrategyID:         strategy.ID,
		ErrorType:          errorType,
		Strategy:           strategy,
		EffectivenessScore: perf.EffectivenessScore,
		SampleCount:        perf.Samples(),
	}
	if err := l.strategies.Save(ctx, learned); err != nil {
		return fmt.Errorf("failed to save learned strategy: %w", err)
	}

	l.maybeRetrain(ctx, errorType)
	return nil
}

// GetOptimizedStrategy returns the best-ranked stored candidate for an
// error type, or nil when nothing has been learned yet. With a
// non-zero epsilon a non-top candidate is occasionally explored.
func (l *Learner) GetOptimizedStrategy(
	ctx context.Context,
	errorType string,
	execCtx map[string]string,
) (*domain.LearnedStrategy, error) {
	candidates, err := l.strategies.GetByErrorType(ctx, errorType)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := l.predictor.Rank(errorType, candidates, execCtx)
	if l.cfg.Epsilon > 0 && len(ranked) > 1 && l.explore() < l.cfg.Epsilon {
		idx := 1 + l.intn(len(ranked)-1)
		l.log.Debug("Exploring non-top strategy",
			"error_type", errorType, "strategy", ranked[idx].StrategyID)
		return ranked[idx], nil
	}
	return ranked[0], nil
}

// History returns how many executions the ledger holds for an error
// type inside the retrain window.
func (l *Learner) History(ctx context.Context, errorType string) (int, error) {
	return l.ledger.CountSince(ctx, errorType, time.Now().Add(-l.cfg.RetrainWindow))
}

func (l *Learner) updatePerformance(
	errorType, strategyID string,
	result *domain.FixResult,
) domain.StrategyPerformance {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := strategyID + "|" + errorType
	perf, ok := l.perf[key]
	if !ok {
		perf = &domain.StrategyPerformance{StrategyID: strategyID, ErrorType: errorType}
		l.perf[key] = perf
	}
	if result.Success {
		perf.SuccessCount++
	} else {
		perf.FailureCount++
	}
	n := perf.Samples()
	// Running average of execution time.
	prev := perf.AvgExecutionTime
	perf.AvgExecutionTime = prev + (result.ExecutionTime-prev)/time.Duration(n)
	perf.EffectivenessScore = effectiveness(perf)
	return *perf
}

// Performance returns a copy of the current aggregate for a strategy
// against an error type, if any.
func (l *Learner) Performance(strategyID, errorType string) (domain.StrategyPerformance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	perf, ok := l.perf[strategyID+"|"+errorType]
	if !ok {
		return domain.StrategyPerformance{}, false
	}
	return *perf, true
}

func (l *Learner) maybeRetrain(ctx context.Context, errorType string) {
	l.mu.Lock()
	l.newSamples[errorType]++
	fresh := l.newSamples[errorType]
	l.mu.Unlock()

	if fresh < l.cfg.MinSamples {
		return
	}
	windowed, err := l.ledger.CountSince(ctx, errorType, time.Now().Add(-l.cfg.RetrainWindow))
	if err != nil {
		l.log.Warn("Failed to count recent executions", "error_type", errorType, "error", err)
		return
	}
	if windowed < l.cfg.MinSamples {
		return
	}

	history, err := l.ledger.GetByErrorType(ctx, errorType, l.cfg.HistoryLimit)
	if err != nil {
		l.log.Warn("Failed to load history for re-ranking", "error_type", errorType, "error", err)
		return
	}
	if err := l.predictor.Train(history); err != nil {
		l.log.Warn("Predictor training failed, keeping previous ranking",
			"error_type", errorType, "error", err)
		return
	}

	l.mu.Lock()
	l.newSamples[errorType] = 0
	l.mu.Unlock()
	l.log.Info("Re-ranked strategies", "error_type", errorType, "samples", len(history))
}

// effectiveness blends success rate with execution speed. Pure
// function of the aggregate, so identical inputs always score alike.
func effectiveness(p *domain.StrategyPerformance) float64 {
	n := p.Samples()
	if n == 0 {
		return 0
	}
	successRate := float64(p.SuccessCount) / float64(n)
	speed := 1.0 / (1.0 + p.AvgExecutionTime.Seconds())
	return successRate*0.8 + speed*0.2
}

func feedbackScore(result *domain.FixResult) float64 {
	switch {
	case result.Success:
		return 1.0
	case result.RollbackPerformed:
		return 0.2
	default:
		return 0
	}
}

func (l *Learner) explore() float64 {
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	return l.rng.Float64()
}

func (l *Learner) intn(n int) int {
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	return l.rng.Intn(n)
}
