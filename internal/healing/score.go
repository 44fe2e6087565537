package healing

import "github.com/tdnguyen/healer/internal/core/domain"

// Score component weights. They sum to 1 so a perfect system scores 1.0.
const (
	weightAutoFix    = 0.30
	weightPrevention = 0.20
	weightPrediction = 0.20
	weightRetry      = 0.15
	weightErrorFree  = 0.15
)

// ScoreInputs are the observed rates feeding the health score, each
// expected in [0,1]. Out-of-range inputs are clamped, never rejected.
type ScoreInputs struct {
	AutoFixRate    float64 // incidents resolved without manual intervention
	PreventionRate float64 // issues neutralized before task impact
	PredictionRate float64 // predictive scans that flagged a later incident
	RetryRate      float64 // orchestrated retries that succeeded
	ErrorRate      float64 // incidents per processed task
}

// Score computes the weighted system health score in [0,1].
func Score(in ScoreInputs) float64 {
	return weightAutoFix*clamp01(in.AutoFixRate) +
		weightPrevention*clamp01(in.PreventionRate) +
		weightPrediction*clamp01(in.PredictionRate) +
		weightRetry*clamp01(in.RetryRate) +
		weightErrorFree*(1-clamp01(in.ErrorRate))
}

// Status maps a score onto the five health tiers.
func Status(score float64) domain.HealthStatus {
	switch {
	case score >= 0.95:
		return domain.HealthExcellent
	case score >= 0.85:
		return domain.HealthGood
	case score >= 0.70:
		return domain.HealthFair
	case score >= 0.40:
		return domain.HealthPoor
	default:
		return domain.HealthCritical
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
