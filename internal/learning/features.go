package learning

import (
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// Features are the signals extracted from an execution's surroundings.
type Features struct {
	HourOfDay   int
	Weekday     int
	LoadPercent float64
	MemoryMB    float64
	Kind        domain.StrategyKind
}

// Extract pulls features from the execution context, falling back to
// process-local measurements where the reporter gave none.
func Extract(
	strategy domain.Strategy,
	execCtx map[string]string,
	at time.Time,
) Features {
	f := Features{
		HourOfDay: at.Hour(),
		Weekday:   int(at.Weekday()),
		Kind:      strategy.Kind,
	}
	if v, ok := execCtx["load_percent"]; ok {
		if load, err := strconv.ParseFloat(v, 64); err == nil {
			f.LoadPercent = load
		}
	}
	if v, ok := execCtx["memory_mb"]; ok {
		if mem, err := strconv.ParseFloat(v, 64); err == nil {
			f.MemoryMB = mem
		}
	} else {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		f.MemoryMB = float64(ms.Alloc) / (1 << 20)
	}
	return f
}

// Merge folds the features into a context map for the ledger, keeping
// any keys the reporter already set.
func (f Features) Merge(execCtx map[string]string) map[string]string {
	out := make(map[string]string, len(execCtx)+5)
	for k, v := range execCtx {
		out[k] = v
	}
	out["hour_of_day"] = strconv.Itoa(f.HourOfDay)
	out["weekday"] = strconv.Itoa(f.Weekday)
	out["load_percent"] = fmt.Sprintf("%.2f", f.LoadPercent)
	out["memory_mb"] = fmt.Sprintf("%.2f", f.MemoryMB)
	out["strategy_kind"] = string(f.Kind)
	return out
}

// contextSimilarity is the share of keys present in both maps that
// hold equal values, in [0,1].
func contextSimilarity(a, b map[string]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared, equal := 0, 0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		shared++
		if av == bv {
			equal++
		}
	}
	if shared == 0 {
		return 0
	}
	return float64(equal) / float64(shared)
}
