package learning

import (
	"context"
	"testing"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage/memory"
)

func newTestLearner(epsilon float64) (*Learner, *memory.LedgerRepo, *memory.StrategyRepo) {
	store := memory.NewMemoryStorage()
	ledger := memory.NewLedgerRepo(store)
	strategies := memory.NewStrategyRepo(store)
	l := NewLearner(Config{Epsilon: epsilon, MinSamples: 3}, ledger, strategies, nil, nil)
	return l, ledger, strategies
}

func strategy(id string) domain.Strategy {
	return domain.Strategy{
		ID:      id,
		Kind:    domain.StrategyInstallPackage,
		Command: "pip install " + id,
		Target:  id,
	}
}

func fixResult(success bool, d time.Duration) *domain.FixResult {
	return &domain.FixResult{Success: success, ExecutionTime: d}
}

func TestRecordExecution_AppendsLedgerAndSavesStrategy(t *testing.T) {
	l, ledger, strategies := newTestLearner(0)
	ctx := context.Background()

	err := l.RecordExecution(ctx, "module_not_found", strategy("requests"), fixResult(true, time.Second), nil)
	if err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	execs, err := ledger.GetByErrorType(ctx, "module_not_found", 10)
	if err != nil {
		t.Fatalf("ledger read failed: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(execs))
	}
	if execs[0].ID == "" {
		t.Error("expected a generated execution id")
	}
	if !execs[0].Success {
		t.Error("expected success recorded")
	}

	saved, err := strategies.GetByErrorType(ctx, "module_not_found")
	if err != nil {
		t.Fatalf("strategies read failed: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("saved strategies = %d, want 1", len(saved))
	}
	if saved[0].SampleCount != 1 {
		t.Errorf("sample count = %d, want 1", saved[0].SampleCount)
	}
	if saved[0].EffectivenessScore <= 0 {
		t.Errorf("effectiveness = %f, want > 0 after a success", saved[0].EffectivenessScore)
	}
}

func TestEffectiveness_BlendsSuccessAndSpeed(t *testing.T) {
	l, _, _ := newTestLearner(0)
	ctx := context.Background()

	// Fast, always successful.
	for i := 0; i < 4; i++ {
		if err := l.RecordExecution(ctx, "et", strategy("fast"), fixResult(true, time.Second), nil); err != nil {
			t.Fatalf("RecordExecution failed: %v", err)
		}
	}
	// Same success rate, much slower.
	for i := 0; i < 4; i++ {
		if err := l.RecordExecution(ctx, "et", strategy("slow"), fixResult(true, 60*time.Second), nil); err != nil {
			t.Fatalf("RecordExecution failed: %v", err)
		}
	}

	fast, ok := l.Performance("fast", "et")
	if !ok {
		t.Fatal("missing fast performance")
	}
	slow, ok := l.Performance("slow", "et")
	if !ok {
		t.Fatal("missing slow performance")
	}
	if fast.EffectivenessScore <= slow.EffectivenessScore {
		t.Errorf("fast score %.3f should beat slow score %.3f", fast.EffectivenessScore, slow.EffectivenessScore)
	}
	// Success dominates: a failing strategy scores below a slow success.
	for i := 0; i < 4; i++ {
		if err := l.RecordExecution(ctx, "et", strategy("broken"), fixResult(false, time.Second), nil); err != nil {
			t.Fatalf("RecordExecution failed: %v", err)
		}
	}
	broken, _ := l.Performance("broken", "et")
	if broken.EffectivenessScore >= slow.EffectivenessScore {
		t.Errorf("broken score %.3f should be below slow success score %.3f", broken.EffectivenessScore, slow.EffectivenessScore)
	}
}

func TestGetOptimizedStrategy_DeterministicAtZeroEpsilon(t *testing.T) {
	l, _, _ := newTestLearner(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = l.RecordExecution(ctx, "et", strategy("good"), fixResult(true, time.Second), nil)
		_ = l.RecordExecution(ctx, "et", strategy("bad"), fixResult(false, time.Second), nil)
	}

	var first string
	for i := 0; i < 20; i++ {
		got, err := l.GetOptimizedStrategy(ctx, "et", nil)
		if err != nil {
			t.Fatalf("GetOptimizedStrategy failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected a strategy")
		}
		if i == 0 {
			first = got.StrategyID
			continue
		}
		if got.StrategyID != first {
			t.Fatalf("selection changed between calls: %s vs %s", first, got.StrategyID)
		}
	}
	if first != "good" {
		t.Errorf("top strategy = %s, want good", first)
	}
}

func TestGetOptimizedStrategy_NoData(t *testing.T) {
	l, _, _ := newTestLearner(0)
	got, err := l.GetOptimizedStrategy(context.Background(), "never_seen", nil)
	if err != nil {
		t.Fatalf("GetOptimizedStrategy failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown error type, got %+v", got)
	}
}

func TestGetOptimizedStrategy_EpsilonExplores(t *testing.T) {
	l, _, _ := newTestLearner(1.0) // always explore
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = l.RecordExecution(ctx, "et", strategy("good"), fixResult(true, time.Second), nil)
		_ = l.RecordExecution(ctx, "et", strategy("bad"), fixResult(false, time.Second), nil)
	}

	// With epsilon 1 and two candidates, the non-top one is always picked.
	got, err := l.GetOptimizedStrategy(ctx, "et", nil)
	if err != nil {
		t.Fatalf("GetOptimizedStrategy failed: %v", err)
	}
	if got.StrategyID == "good" {
		t.Error("epsilon=1 should have explored the non-top candidate")
	}
}
