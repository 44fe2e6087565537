package retry

import (
	"math"
	"time"
)

// Delay computes the wait before the next retry: base × factor^count,
// capped at the policy maximum. Exponential categories get up to +10%
// jitter so synchronized failures do not resubmit in lockstep; flat
// categories always wait exactly the base delay. jitter must return a
// value in [0,1); pass nil for a deterministic delay.
func Delay(p CategoryPolicy, retryCount int, jitter func() float64) time.Duration {
	if !p.Exponential {
		return p.BaseDelay
	}
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(retryCount))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if jitter != nil {
		d += d * 0.1 * jitter()
	}
	return time.Duration(d)
}
