package domain

import "time"

// HealingClass is the orchestrator-level choice of healing path.
type HealingClass string

const (
	HealReactive   HealingClass = "reactive"
	HealPreventive HealingClass = "preventive"
	HealPredictive HealingClass = "predictive"
	HealAdaptive   HealingClass = "adaptive"
	HealEmergency  HealingClass = "emergency"
)

// HealingRecord captures one incident's end-to-end outcome.
type HealingRecord struct {
	IncidentID     string        `json:"incident_id"`
	TaskID         string        `json:"task_id"`
	ErrorType      string        `json:"error_type"`
	Class          HealingClass  `json:"healing_strategy_class"`
	Actions        []string      `json:"actions_taken"`
	Duration       time.Duration `json:"duration"`
	Success        bool          `json:"success"`
	Prevented      bool          `json:"prevented"`
	ManualRequired bool          `json:"manual_required"`
	CreatedAt      time.Time     `json:"created_at"`
}

// HealthStatus maps a health score to one of five tiers.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthFair      HealthStatus = "fair"
	HealthPoor      HealthStatus = "poor"
	HealthCritical  HealthStatus = "critical"
)

// HealthSnapshot is one append-only sample of the aggregate health log.
type HealthSnapshot struct {
	Timestamp       time.Time          `json:"timestamp"`
	Score           float64            `json:"score"`
	Status          HealthStatus       `json:"status"`
	AutoHealingRate float64            `json:"auto_healing_rate"`
	PreventionRate  float64            `json:"prevention_rate"`
	AvgHealingTime  time.Duration      `json:"avg_healing_time"`
	ActiveIssues    int                `json:"active_issues"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
}
