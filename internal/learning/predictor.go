package learning

import (
	"sort"
	"sync"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// StrategyPredictor ranks candidate strategies for an error type. A
// model-backed implementation can be plugged in at startup; the
// rule-based fallback keeps the learning loop functional without one.
type StrategyPredictor interface {
	// Rank orders candidates best-first for the given context.
	Rank(
		errorType string,
		candidates []*domain.LearnedStrategy,
		execCtx map[string]string,
	) []*domain.LearnedStrategy

	// Train updates the predictor from ledger history.
	Train(history []*domain.Execution) error

	// Ready reports whether the predictor has enough state to rank.
	Ready() bool
}

// contextMemory caps how many recent contexts are kept per strategy.
const contextMemory = 20

// RuleBasedPredictor orders candidates by effectiveness score, nudged
// by how closely their recent successful contexts match the current
// one. Deterministic for identical inputs.
type RuleBasedPredictor struct {
	mu       sync.RWMutex
	contexts map[string][]map[string]string // strategy id → recent success contexts
}

// NewRuleBasedPredictor creates an empty rule-based predictor.
func NewRuleBasedPredictor() *RuleBasedPredictor {
	return &RuleBasedPredictor{contexts: make(map[string][]map[string]string)}
}

// Rank sorts by effectiveness plus a small context-affinity bonus.
// Ties break on strategy id so repeated calls agree.
func (p *RuleBasedPredictor) Rank(
	errorType string,
	candidates []*domain.LearnedStrategy,
	execCtx map[string]string,
) []*domain.LearnedStrategy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	type scored struct {
		s     *domain.LearnedStrategy
		score float64
	}
	scoredCands := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score := c.EffectivenessScore
		if len(execCtx) > 0 {
			score += 0.1 * p.affinity(c.StrategyID, execCtx)
		}
		scoredCands = append(scoredCands, scored{s: c, score: score})
	}
	sort.SliceStable(scoredCands, func(i, j int) bool {
		if scoredCands[i].score != scoredCands[j].score {
			return scoredCands[i].score > scoredCands[j].score
		}
		return scoredCands[i].s.StrategyID < scoredCands[j].s.StrategyID
	})

	out := make([]*domain.LearnedStrategy, len(scoredCands))
	for i, sc := range scoredCands {
		out[i] = sc.s
	}
	return out
}

// affinity averages similarity between the current context and the
// strategy's remembered success contexts.
func (p *RuleBasedPredictor) affinity(strategyID string, execCtx map[string]string) float64 {
	remembered := p.contexts[strategyID]
	if len(remembered) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range remembered {
		total += contextSimilarity(execCtx, c)
	}
	return total / float64(len(remembered))
}

// Train remembers the contexts in which each strategy succeeded.
func (p *RuleBasedPredictor) Train(history []*domain.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range history {
		if !e.Success || len(e.Context) == 0 {
			continue
		}
		id := e.Strategy.ID
		p.contexts[id] = append(p.contexts[id], e.Context)
		if len(p.contexts[id]) > contextMemory {
			p.contexts[id] = p.contexts[id][len(p.contexts[id])-contextMemory:]
		}
	}
	return nil
}

// Ready always holds for the rule-based fallback.
func (p *RuleBasedPredictor) Ready() bool {
	return true
}
