package domain

import "time"

// StrategyPerformance aggregates how a strategy performs against one
// error type.
type StrategyPerformance struct {
	StrategyID         string        `json:"strategy_id"`
	ErrorType          string        `json:"error_type"`
	SuccessCount       int           `json:"success_count"`
	FailureCount       int           `json:"failure_count"`
	AvgExecutionTime   time.Duration `json:"avg_execution_time"`
	EffectivenessScore float64       `json:"effectiveness_score"`
}

// Samples returns the total number of recorded executions.
func (p *StrategyPerformance) Samples() int {
	return p.SuccessCount + p.FailureCount
}

// Execution is one row of the execution ledger.
type Execution struct {
	ID            string            `json:"execution_id"`
	ErrorType     string            `json:"error_type"`
	Strategy      Strategy          `json:"strategy"`
	Context       map[string]string `json:"context,omitempty"`
	ExecTime      time.Duration     `json:"exec_time"`
	ResourceUsage map[string]float64 `json:"resource_usage,omitempty"`
	Success       bool              `json:"success"`
	SideEffects   []string          `json:"side_effects,omitempty"`
	FeedbackScore float64           `json:"feedback_score"`
	ExecutedAt    time.Time         `json:"executed_at"`
}

// LearnedStrategy is a persisted strategy candidate with its current
// effectiveness estimate.
type LearnedStrategy struct {
	StrategyID         string    `json:"strategy_id"`
	ErrorType          string    `json:"error_type"`
	Strategy           Strategy  `json:"strategy"`
	EffectivenessScore float64   `json:"effectiveness_score"`
	SampleCount        int       `json:"sample_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
