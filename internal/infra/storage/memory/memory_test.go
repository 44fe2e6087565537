package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage"
)

func TestPatternRepo_UpsertBumpsOccurrence(t *testing.T) {
	repo := NewPatternRepo(NewMemoryStorage())
	ctx := context.Background()

	p := &domain.Pattern{
		ErrorType: "module_not_found",
		Sample:    "ModuleNotFoundError: No module named 'x'",
		Category:  domain.CategoryDependency,
		Severity:  domain.SeverityHigh,
	}
	for i := 0; i < 3; i++ {
		if err := repo.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert %d failed: %v", i, err)
		}
	}

	got, err := repo.GetByErrorType(ctx, "module_not_found")
	if err != nil {
		t.Fatalf("GetByErrorType failed: %v", err)
	}
	if got.OccurrenceCount != 3 {
		t.Errorf("occurrence count = %d, want 3", got.OccurrenceCount)
	}
	if got.LastSeen.IsZero() {
		t.Error("last seen not set")
	}

	n, _ := repo.Count(ctx)
	if n != 1 {
		t.Errorf("pattern count = %d, want 1", n)
	}
}

func TestPatternRepo_NotFound(t *testing.T) {
	repo := NewPatternRepo(NewMemoryStorage())
	_, err := repo.GetByErrorType(context.Background(), "nope")
	if !errors.Is(err, storage.ErrPatternNotFound) {
		t.Errorf("error = %v, want ErrPatternNotFound", err)
	}
}

func TestLedgerRepo_CountSinceAndPrune(t *testing.T) {
	repo := NewLedgerRepo(NewMemoryStorage())
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{time.Minute, time.Hour, 48 * time.Hour} {
		err := repo.Append(ctx, &domain.Execution{
			ID:         string(rune('a' + i)),
			ErrorType:  "et",
			ExecutedAt: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recent, err := repo.CountSince(ctx, "et", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if recent != 2 {
		t.Errorf("recent executions = %d, want 2", recent)
	}

	if err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	all, _ := repo.GetByErrorType(ctx, "et", 10)
	if len(all) != 2 {
		t.Errorf("rows after prune = %d, want 2", len(all))
	}
}

func TestStrategyRepo_OrderingIsDeterministic(t *testing.T) {
	repo := NewStrategyRepo(NewMemoryStorage())
	ctx := context.Background()

	for _, s := range []*domain.LearnedStrategy{
		{StrategyID: "b", ErrorType: "et", EffectivenessScore: 0.5},
		{StrategyID: "a", ErrorType: "et", EffectivenessScore: 0.5},
		{StrategyID: "c", ErrorType: "et", EffectivenessScore: 0.9},
	} {
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := repo.GetByErrorType(ctx, "et")
	if err != nil {
		t.Fatalf("GetByErrorType failed: %v", err)
	}
	ids := []string{got[0].StrategyID, got[1].StrategyID, got[2].StrategyID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}

	types, _ := repo.ErrorTypes(ctx)
	if len(types) != 1 || types[0] != "et" {
		t.Errorf("error types = %v", types)
	}
}

func TestHealthRepo_LatestNewestFirst(t *testing.T) {
	repo := NewHealthRepo(NewMemoryStorage())
	ctx := context.Background()

	for i, score := range []float64{0.5, 0.7, 0.9} {
		err := repo.Append(ctx, &domain.HealthSnapshot{
			Timestamp: time.Now().Add(time.Duration(i) * time.Minute),
			Score:     score,
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := repo.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(got))
	}
	if got[0].Score != 0.9 {
		t.Errorf("newest score = %f, want 0.9", got[0].Score)
	}
}
