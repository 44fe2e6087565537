package healing

import (
	"math"
	"testing"

	"github.com/tdnguyen/healer/internal/core/domain"
)

func TestScore_PerfectSystem(t *testing.T) {
	s := Score(ScoreInputs{
		AutoFixRate:    1,
		PreventionRate: 1,
		PredictionRate: 1,
		RetryRate:      1,
		ErrorRate:      0,
	})
	if math.Abs(s-1.0) > 1e-9 {
		t.Errorf("perfect inputs score = %f, want 1.0", s)
	}
}

func TestScore_WorstSystem(t *testing.T) {
	s := Score(ScoreInputs{ErrorRate: 1})
	if s != 0 {
		t.Errorf("worst inputs score = %f, want 0", s)
	}
}

func TestScore_Weights(t *testing.T) {
	// Only auto-fix at 100%: exactly its weight.
	if s := Score(ScoreInputs{AutoFixRate: 1, ErrorRate: 1}); math.Abs(s-0.30) > 1e-9 {
		t.Errorf("auto-fix-only score = %f, want 0.30", s)
	}
	// Only retry at 100%: exactly its weight.
	if s := Score(ScoreInputs{RetryRate: 1, ErrorRate: 1}); math.Abs(s-0.15) > 1e-9 {
		t.Errorf("retry-only score = %f, want 0.15", s)
	}
}

func TestScore_ClampsInputs(t *testing.T) {
	s := Score(ScoreInputs{
		AutoFixRate:    2.5,
		PreventionRate: -1,
		PredictionRate: 1,
		RetryRate:      1,
		ErrorRate:      -3,
	})
	want := 0.30 + 0 + 0.20 + 0.15 + 0.15
	if math.Abs(s-want) > 1e-9 {
		t.Errorf("clamped score = %f, want %f", s, want)
	}
}

func TestStatus_TierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.HealthStatus
	}{
		{1.00, domain.HealthExcellent},
		{0.95, domain.HealthExcellent},
		{0.949, domain.HealthGood},
		{0.85, domain.HealthGood},
		{0.849, domain.HealthFair},
		{0.70, domain.HealthFair},
		{0.699, domain.HealthPoor},
		{0.40, domain.HealthPoor},
		{0.399, domain.HealthCritical},
		{0, domain.HealthCritical},
	}
	for _, c := range cases {
		if got := Status(c.score); got != c.want {
			t.Errorf("Status(%.3f) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestStatus_Monotonic(t *testing.T) {
	order := map[domain.HealthStatus]int{
		domain.HealthCritical:  0,
		domain.HealthPoor:      1,
		domain.HealthFair:      2,
		domain.HealthGood:      3,
		domain.HealthExcellent: 4,
	}
	prev := -1
	for s := 0.0; s <= 1.0; s += 0.01 {
		rank := order[Status(s)]
		if rank < prev {
			t.Fatalf("status rank dropped at score %.2f", s)
		}
		prev = rank
	}
}
