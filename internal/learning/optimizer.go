package learning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage"
)

// Optimization tiers by accumulated sample count.
const (
	tierMinSamples  = 10
	tierCombination = 50
	tierContext     = 100
	tierEvolution   = 500
)

// minImprovement is the relative success-rate gain a context slice must
// show over a strategy's overall rate before the narrowed variant is
// persisted.
const minImprovement = 0.05

// Optimizer periodically revisits learned strategies and replaces them
// with measurably better variants. All candidate evaluation happens
// against recorded ledger data, never against live systems.
type Optimizer struct {
	ledger     storage.LedgerRepository
	strategies storage.StrategyRepository
	log        *slog.Logger
}

func NewOptimizer(
	ledger storage.LedgerRepository,
	strategies storage.StrategyRepository,
	log *slog.Logger,
) *Optimizer {
	if log == nil {
		log = slog.Default()
	}
	return &Optimizer{ledger: ledger, strategies: strategies, log: log}
}

// OptimizeAll walks every error type with learned strategies and runs
// the optimization tier its sample count qualifies for. Returns the
// number of strategies updated.
func (o *Optimizer) OptimizeAll(ctx context.Context) (int, error) {
	errorTypes, err := o.strategies.ErrorTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list error types: %w", err)
	}

	updated := 0
	for _, et := range errorTypes {
		select {
		case <-ctx.Done():
			return updated, ctx.Err()
		default:
		}
		n, err := o.optimizeErrorType(ctx, et)
		if err != nil {
			o.log.Warn("Optimization pass failed", "error_type", et, "error", err)
			continue
		}
		updated += n
	}
	return updated, nil
}

func (o *Optimizer) optimizeErrorType(ctx context.Context, errorType string) (int, error) {
	history, err := o.ledger.GetByErrorType(ctx, errorType, tierEvolution)
	if err != nil {
		return 0, fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) < tierMinSamples {
		return 0, nil
	}

	candidates, err := o.strategies.GetByErrorType(ctx, errorType)
	if err != nil {
		return 0, fmt.Errorf("failed to load strategies: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	var variants []*domain.LearnedStrategy
	switch {
	case len(history) >= tierEvolution:
		variants = o.evolve(candidates, history)
	case len(history) >= tierContext:
		variants = o.adaptContext(candidates, history)
	case len(history) >= tierCombination:
		variants = o.combine(candidates, history)
	default:
		variants = o.tuneParameters(candidates, history)
	}

	updated := 0
	for _, v := range variants {
		incumbent := findIncumbent(candidates, v.StrategyID)
		if incumbent != nil &&
			v.Strategy.Command == incumbent.Strategy.Command &&
			v.Strategy.Target == incumbent.Strategy.Target {
			// Same id, nothing changed: a re-derived variant of an
			// already persisted amendment.
			continue
		}
		score := measuredScore(v, history)
		if incumbent == nil && score == 0 {
			// A new compound id starts from its components' recorded
			// evidence; drop combinations with none.
			continue
		}
		v.EffectivenessScore = score
		if err := o.strategies.Save(ctx, v); err != nil {
			return updated, fmt.Errorf("failed to persist variant: %w", err)
		}
		o.log.Info("Persisted optimized strategy",
			"error_type", errorType, "strategy", v.StrategyID,
			"score", score)
		updated++
	}
	return updated, nil
}

// tuneParameters adjusts numeric knobs inside commands: longer waits
// for strategies that keep timing out, shorter ones for strategies
// that always succeed fast.
func (o *Optimizer) tuneParameters(
	candidates []*domain.LearnedStrategy,
	history []*domain.Execution,
) []*domain.LearnedStrategy {
	var out []*domain.LearnedStrategy
	for _, c := range candidates {
		if c.Strategy.Kind != domain.StrategyRetryWithDelay {
			continue
		}
		stats := strategyStats(c.StrategyID, history)
		if stats.total == 0 {
			continue
		}
		v := cloneLearned(c)
		if stats.successRate() < 0.5 {
			v.Strategy.Command = scaleSleep(v.Strategy.Command, 2)
		} else if stats.successRate() > 0.9 && stats.avgExec > 10*time.Second {
			v.Strategy.Command = scaleSleep(v.Strategy.Command, 0.5)
		} else {
			continue
		}
		if v.Strategy.Command == c.Strategy.Command {
			continue
		}
		out = append(out, v)
	}
	return out
}

// combine chains the two best-performing strategies into a compound
// one when neither alone succeeds reliably.
func (o *Optimizer) combine(
	candidates []*domain.LearnedStrategy,
	history []*domain.Execution,
) []*domain.LearnedStrategy {
	// Only simple strategies combine; chaining an existing compound
	// would grow commands without bound.
	simple := make([]*domain.LearnedStrategy, 0, len(candidates))
	for _, c := range candidates {
		if !strings.Contains(c.StrategyID, "+") {
			simple = append(simple, c)
		}
	}
	if len(simple) < 2 {
		return o.tuneParameters(candidates, history)
	}
	ranked := make([]*domain.LearnedStrategy, len(simple))
	copy(ranked, simple)
	sort.SliceStable(ranked, func(i, j int) bool {
		si := measuredScore(ranked[i], history)
		sj := measuredScore(ranked[j], history)
		if si != sj {
			return si > sj
		}
		return ranked[i].StrategyID < ranked[j].StrategyID
	})

	first, second := ranked[0], ranked[1]
	if measuredScore(first, history) >= 0.9 {
		return o.tuneParameters(candidates, history)
	}
	if first.Strategy.Command == "" || second.Strategy.Command == "" {
		return o.tuneParameters(candidates, history)
	}

	v := cloneLearned(first)
	v.StrategyID = first.StrategyID + "+" + second.StrategyID
	v.Strategy.ID = v.StrategyID
	v.Strategy.Command = first.Strategy.Command + " && " + second.Strategy.Command
	v.Strategy.Description = first.Strategy.Description + ", then " + second.Strategy.Description
	if second.Strategy.Safety == domain.SafetyPrivileged {
		v.Strategy.Safety = domain.SafetyPrivileged
	}
	return []*domain.LearnedStrategy{v}
}

// adaptContext keeps the per-strategy command but narrows it to the
// context slices where it actually works, encoded as a target hint.
func (o *Optimizer) adaptContext(
	candidates []*domain.LearnedStrategy,
	history []*domain.Execution,
) []*domain.LearnedStrategy {
	var out []*domain.LearnedStrategy
	for _, c := range candidates {
		ctxKey, rate := bestContextSlice(c.StrategyID, history)
		if ctxKey == "" {
			continue
		}
		overall := strategyStats(c.StrategyID, history).successRate()
		if rate == 0 || rate < overall*(1+minImprovement) {
			continue
		}
		v := cloneLearned(c)
		if v.Strategy.Target == "" {
			v.Strategy.Target = ctxKey
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return o.combine(candidates, history)
	}
	return out
}

// evolve runs combination on top of parameter tuning, treating tuned
// variants as an extra generation of candidates.
func (o *Optimizer) evolve(
	candidates []*domain.LearnedStrategy,
	history []*domain.Execution,
) []*domain.LearnedStrategy {
	tuned := o.tuneParameters(candidates, history)
	pool := append(append([]*domain.LearnedStrategy{}, candidates...), tuned...)
	return append(tuned, o.combine(pool, history)...)
}

type execStats struct {
	total   int
	success int
	avgExec time.Duration
}

func (s execStats) successRate() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.success) / float64(s.total)
}

func strategyStats(strategyID string, history []*domain.Execution) execStats {
	ids := map[string]bool{strategyID: true}
	for _, component := range strings.Split(strategyID, "+") {
		ids[component] = true
	}
	var s execStats
	var sum time.Duration
	for _, e := range history {
		if !ids[e.Strategy.ID] {
			continue
		}
		s.total++
		if e.Success {
			s.success++
		}
		sum += e.ExecTime
	}
	if s.total > 0 {
		s.avgExec = sum / time.Duration(s.total)
	}
	return s
}

// measuredScore evaluates a strategy purely from recorded executions,
// with the same success/speed blend the learner uses. Compound
// variants inherit the executions of their "+"-separated components.
func measuredScore(s *domain.LearnedStrategy, history []*domain.Execution) float64 {
	stats := strategyStats(s.StrategyID, history)
	if stats.total == 0 {
		return 0
	}
	speed := 1.0 / (1.0 + stats.avgExec.Seconds())
	return stats.successRate()*0.8 + speed*0.2
}

func bestContextSlice(strategyID string, history []*domain.Execution) (string, float64) {
	type bucket struct{ total, success int }
	buckets := make(map[string]*bucket)
	for _, e := range history {
		if e.Strategy.ID != strategyID {
			continue
		}
		for k, v := range e.Context {
			if k != "worker_type" && k != "kind" {
				continue
			}
			key := k + "=" + v
			b, ok := buckets[key]
			if !ok {
				b = &bucket{}
				buckets[key] = b
			}
			b.total++
			if e.Success {
				b.success++
			}
		}
	}
	bestKey, bestRate := "", 0.0
	for k, b := range buckets {
		if b.total < 5 {
			continue
		}
		rate := float64(b.success) / float64(b.total)
		if rate > bestRate || (rate == bestRate && k < bestKey) {
			bestKey, bestRate = k, rate
		}
	}
	return bestKey, bestRate
}

func findIncumbent(candidates []*domain.LearnedStrategy, id string) *domain.LearnedStrategy {
	for _, c := range candidates {
		if c.StrategyID == id {
			return c
		}
	}
	return nil
}

func cloneLearned(c *domain.LearnedStrategy) *domain.LearnedStrategy {
	v := *c
	return &v
}

// maxTunedSleep keeps repeated upward tuning inside the
// retry_with_delay execution timeout; a longer sleep would always fail.
const maxTunedSleep = 60 * time.Second

func scaleSleep(command string, factor float64) string {
	fields := strings.Fields(command)
	if len(fields) != 2 || fields[0] != "sleep" {
		return command
	}
	d, err := time.ParseDuration(fields[1] + "s")
	if err != nil {
		return command
	}
	scaled := time.Duration(float64(d) * factor)
	if scaled < time.Second {
		scaled = time.Second
	}
	if scaled > maxTunedSleep {
		scaled = maxTunedSleep
	}
	return fmt.Sprintf("sleep %d", int(scaled.Seconds()))
}
