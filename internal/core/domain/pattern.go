package domain

import "time"

// Pattern is a learned error signature. Upserted on every
// classification, never deleted.
type Pattern struct {
	ID              string        `json:"id"`
	ErrorType       string        `json:"error_type"` // rule name or learned signature
	Sample          string        `json:"sample"`
	Category        ErrorCategory `json:"category"`
	Severity        Severity      `json:"severity"`
	AutoFixable     bool          `json:"auto_fixable"`
	Strategies      []Strategy    `json:"strategies,omitempty"`
	OccurrenceCount int           `json:"occurrence_count"`
	LastSeen        time.Time     `json:"last_seen"`
}
