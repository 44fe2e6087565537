package retry

import (
	"testing"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

func TestDelay_ExponentialGrowth(t *testing.T) {
	p := CategoryPolicy{
		BaseDelay:     30 * time.Second,
		BackoffFactor: 2,
		MaxDelay:      600 * time.Second,
		Exponential:   true,
	}

	cases := []struct {
		count int
		want  time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
	}
	for _, c := range cases {
		got := Delay(p, c.count, nil)
		if got != c.want {
			t.Errorf("Delay(count=%d) = %s, want %s", c.count, got, c.want)
		}
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	// base 30s, factor 2, third attempt: raw delay 120s, jitter adds
	// at most 10% on top, so the result must land in [120s, 132s].
	p := CategoryPolicy{
		BaseDelay:     30 * time.Second,
		BackoffFactor: 2,
		MaxDelay:      600 * time.Second,
		Exponential:   true,
	}

	for _, j := range []float64{0, 0.25, 0.5, 0.999} {
		jitter := func() float64 { return j }
		got := Delay(p, 2, jitter)
		if got < 120*time.Second || got > 132*time.Second {
			t.Errorf("Delay with jitter %.3f = %s, want within [120s, 132s]", j, got)
		}
	}
}

func TestDelay_CapAppliesBeforeJitter(t *testing.T) {
	p := CategoryPolicy{
		BaseDelay:     30 * time.Second,
		BackoffFactor: 2,
		MaxDelay:      300 * time.Second,
		Exponential:   true,
	}

	got := Delay(p, 10, nil)
	if got != 300*time.Second {
		t.Errorf("Delay past cap = %s, want 300s", got)
	}

	// Jitter still applies on top of the capped value.
	got = Delay(p, 10, func() float64 { return 1 - 1e-9 })
	if got < 300*time.Second || got > 330*time.Second {
		t.Errorf("Capped delay with jitter = %s, want within [300s, 330s]", got)
	}
}

func TestDelay_FlatCategory(t *testing.T) {
	p := CategoryPolicy{
		BaseDelay:   15 * time.Second,
		Exponential: false,
	}
	for count := 0; count < 5; count++ {
		if got := Delay(p, count, func() float64 { return 0.9 }); got != 15*time.Second {
			t.Errorf("Flat Delay(count=%d) = %s, want 15s", count, got)
		}
	}
}

func TestDefaultPolicies_SyntaxNeverRetries(t *testing.T) {
	policies := DefaultPolicies()
	if p := policies[domain.CategorySyntax]; p.MaxRetries != 0 {
		t.Errorf("syntax MaxRetries = %d, want 0", p.MaxRetries)
	}
}
