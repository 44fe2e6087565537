package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdnguyen/healer/internal/core/domain"
)

func TestExtract_UsesReportedContext(t *testing.T) {
	at := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC) // a Wednesday
	s := domain.Strategy{Kind: domain.StrategyInstallPackage}

	f := Extract(s, map[string]string{
		"load_percent": "72.5",
		"memory_mb":    "512",
	}, at)

	assert.Equal(t, 14, f.HourOfDay)
	assert.Equal(t, int(time.Wednesday), f.Weekday)
	assert.Equal(t, 72.5, f.LoadPercent)
	assert.Equal(t, 512.0, f.MemoryMB)
	assert.Equal(t, domain.StrategyInstallPackage, f.Kind)
}

func TestExtract_FallsBackToProcessMemory(t *testing.T) {
	f := Extract(domain.Strategy{}, nil, time.Now())
	assert.Greater(t, f.MemoryMB, 0.0, "fallback memory sample should be positive")
}

func TestMerge_KeepsReporterKeys(t *testing.T) {
	f := Features{HourOfDay: 9, Weekday: 1, LoadPercent: 10, MemoryMB: 100, Kind: domain.StrategyCheckEnv}

	out := f.Merge(map[string]string{"worker_type": "etl", "hour_of_day": "23"})

	require.Contains(t, out, "worker_type")
	assert.Equal(t, "etl", out["worker_type"])
	// Feature keys overwrite stale values; reporter keys without a
	// feature equivalent survive untouched.
	assert.Equal(t, "9", out["hour_of_day"])
	assert.Equal(t, string(domain.StrategyCheckEnv), out["strategy_kind"])
}

func TestContextSimilarity(t *testing.T) {
	a := map[string]string{"worker_type": "etl", "hour_of_day": "9"}
	b := map[string]string{"worker_type": "etl", "hour_of_day": "21"}

	assert.Equal(t, 0.5, contextSimilarity(a, b))
	assert.Equal(t, 1.0, contextSimilarity(a, a))
	assert.Equal(t, 0.0, contextSimilarity(a, nil))
	assert.Equal(t, 0.0, contextSimilarity(a, map[string]string{"queue": "x"}))
}

func TestRuleBasedPredictor_TieBreaksOnID(t *testing.T) {
	p := NewRuleBasedPredictor()
	candidates := []*domain.LearnedStrategy{
		{StrategyID: "zeta", ErrorType: "et", EffectivenessScore: 0.5},
		{StrategyID: "alpha", ErrorType: "et", EffectivenessScore: 0.5},
	}

	ranked := p.Rank("et", candidates, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "alpha", ranked[0].StrategyID, "equal scores must order by id")
}
