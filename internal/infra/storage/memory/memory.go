package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage"
)

// MemoryStorage backs all repositories when no database is configured.
// Also used by tests.
type MemoryStorage struct {
	patterns   map[string]*domain.Pattern // keyed by error type
	ledger     []*domain.Execution
	strategies map[string]*domain.LearnedStrategy // keyed by strategy id
	health     []*domain.HealthSnapshot
	mu         sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		patterns:   make(map[string]*domain.Pattern),
		strategies: make(map[string]*domain.LearnedStrategy),
	}
}

// -----------------------------------------------------------------------------
// Pattern Repository
// -----------------------------------------------------------------------------

type PatternRepo struct {
	store *MemoryStorage
}

func NewPatternRepo(store *MemoryStorage) *PatternRepo {
	return &PatternRepo{store: store}
}

func (r *PatternRepo) Upsert(ctx context.Context, p *domain.Pattern) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, ok := r.store.patterns[p.ErrorType]
	if !ok {
		cp := *p
		if cp.OccurrenceCount == 0 {
			cp.OccurrenceCount = 1
		}
		if cp.LastSeen.IsZero() {
			cp.LastSeen = time.Now().UTC()
		}
		r.store.patterns[p.ErrorType] = &cp
		return nil
	}

	existing.OccurrenceCount++
	existing.LastSeen = time.Now().UTC()
	existing.Sample = p.Sample
	return nil
}

func (r *PatternRepo) GetByErrorType(
	ctx context.Context,
	errorType string,
) (*domain.Pattern, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.patterns[errorType]
	if !ok {
		return nil, storage.ErrPatternNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PatternRepo) GetAll(ctx context.Context) ([]*domain.Pattern, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.Pattern, 0, len(r.store.patterns))
	for _, p := range r.store.patterns {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurrenceCount > out[j].OccurrenceCount
	})
	return out, nil
}

func (r *PatternRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.patterns), nil
}

// -----------------------------------------------------------------------------
// Ledger Repository
// -----------------------------------------------------------------------------

type LedgerRepo struct {
	store *MemoryStorage
}

func NewLedgerRepo(store *MemoryStorage) *LedgerRepo {
	return &LedgerRepo{store: store}
}

func (r *LedgerRepo) Append(ctx context.Context, e *domain.Execution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *e
	r.store.ledger = append(r.store.ledger, &cp)
	return nil
}

func (r *LedgerRepo) GetByErrorType(
	ctx context.Context,
	errorType string,
	limit int,
) ([]*domain.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Execution
	for i := len(r.store.ledger) - 1; i >= 0; i-- {
		e := r.store.ledger[i]
		if e.ErrorType != errorType {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *LedgerRepo) CountSince(
	ctx context.Context,
	errorType string,
	since time.Time,
) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, e := range r.store.ledger {
		if e.ErrorType == errorType && e.ExecutedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *LedgerRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.ledger[:0]
	for _, e := range r.store.ledger {
		if e.ExecutedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	r.store.ledger = kept
	return nil
}

// -----------------------------------------------------------------------------
// Strategy Repository
// -----------------------------------------------------------------------------

type StrategyRepo struct {
	store *MemoryStorage
}

func NewStrategyRepo(store *MemoryStorage) *StrategyRepo {
	return &StrategyRepo{store: store}
}

func (r *StrategyRepo) Save(ctx context.Context, s *domain.LearnedStrategy) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *s
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	r.store.strategies[s.StrategyID] = &cp
	return nil
}

func (r *StrategyRepo) GetByErrorType(
	ctx context.Context,
	errorType string,
) ([]*domain.LearnedStrategy, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.LearnedStrategy
	for _, s := range r.store.strategies {
		if s.ErrorType != errorType {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectivenessScore != out[j].EffectivenessScore {
			return out[i].EffectivenessScore > out[j].EffectivenessScore
		}
		return out[i].StrategyID < out[j].StrategyID
	})
	return out, nil
}

func (r *StrategyRepo) GetAll(ctx context.Context) ([]*domain.LearnedStrategy, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.LearnedStrategy, 0, len(r.store.strategies))
	for _, s := range r.store.strategies {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StrategyID < out[j].StrategyID
	})
	return out, nil
}

func (r *StrategyRepo) ErrorTypes(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, s := range r.store.strategies {
		if !seen[s.ErrorType] {
			seen[s.ErrorType] = true
			out = append(out, s.ErrorType)
		}
	}
	sort.Strings(out)
	return out, nil
}

// -----------------------------------------------------------------------------
// Health Repository
// -----------------------------------------------------------------------------

type HealthRepo struct {
	store *MemoryStorage
}

func NewHealthRepo(store *MemoryStorage) *HealthRepo {
	return &HealthRepo{store: store}
}

func (r *HealthRepo) Append(ctx context.Context, s *domain.HealthSnapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *s
	r.store.health = append(r.store.health, &cp)
	return nil
}

func (r *HealthRepo) Latest(
	ctx context.Context,
	limit int,
) ([]*domain.HealthSnapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.HealthSnapshot
	for i := len(r.store.health) - 1; i >= 0; i-- {
		cp := *r.store.health[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *HealthRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.health[:0]
	for _, s := range r.store.health {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	r.store.health = kept
	return nil
}
