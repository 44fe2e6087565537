package domain

import "time"

// RetryStatus is the per-task retry state machine state.
type RetryStatus string

const (
	RetryPending    RetryStatus = "pending"
	RetryInProgress RetryStatus = "in_progress"
	RetrySuccess    RetryStatus = "success"
	RetryFailed     RetryStatus = "failed"
	RetryExhausted  RetryStatus = "max_retries_exceeded"
)

// Terminal reports whether the status can never be left again.
func (s RetryStatus) Terminal() bool {
	return s == RetrySuccess || s == RetryFailed || s == RetryExhausted
}

// RetryState tracks one task's retry lifecycle.
type RetryState struct {
	TaskID      string      `json:"task_id"`
	Status      RetryStatus `json:"status"`
	RetryCount  int         `json:"retry_count"`
	LastAttempt time.Time   `json:"last_attempt"`
}

// RetryDecision is the outcome of a should-retry evaluation.
type RetryDecision struct {
	Retry      bool          `json:"retry"`
	Reason     string        `json:"reason"`
	Delay      time.Duration `json:"delay"`
	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
}
