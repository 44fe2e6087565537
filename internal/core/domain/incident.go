package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// ErrorCategory identifies the root-cause class of a failing task.
type ErrorCategory string

const (
	CategoryDependency  ErrorCategory = "dependency"
	CategoryFilesystem  ErrorCategory = "filesystem"
	CategoryPermission  ErrorCategory = "permission"
	CategoryOwnership   ErrorCategory = "ownership"
	CategoryService     ErrorCategory = "service"
	CategoryNetwork     ErrorCategory = "network"
	CategoryQueueBroker ErrorCategory = "queue_broker"
	CategorySyntax      ErrorCategory = "syntax"
	CategoryEnvironment ErrorCategory = "environment"
	CategoryResource    ErrorCategory = "resource"
	CategoryUnknown     ErrorCategory = "unknown"
)

// Severity grades how urgent an incident is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Incident is a single reported error occurrence submitted for healing.
// It is created per reported failure and consumed once by the pipeline.
type Incident struct {
	ID          string            `json:"id"`
	TaskID      string            `json:"task_id"`
	WorkerType  string            `json:"worker_type"`
	ErrorText   string            `json:"error_text"`
	Category    ErrorCategory     `json:"category,omitempty"` // empty until classified
	Context     map[string]string `json:"context,omitempty"`
	TaskPayload json.RawMessage   `json:"task_payload,omitempty"`
	SourceQueue string            `json:"source_queue,omitempty"`
	ReplyQueue  string            `json:"reply_queue,omitempty"`
	DedupHash   string            `json:"dedup_hash"`
	ReportedAt  time.Time         `json:"reported_at"`
}

// DedupKey computes a stable hash for duplicate detection: same task
// failing with the same (normalized) error text hashes identically.
func DedupKey(taskID, errorText string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(errorText)), " ")
	sum := sha256.Sum256([]byte(taskID + "|" + norm))
	return hex.EncodeToString(sum[:16])
}
