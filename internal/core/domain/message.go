package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IncidentMessage is the wire form of an incident on the intake queue.
type IncidentMessage struct {
	ErrorText   string            `json:"error_text"`
	TaskID      string            `json:"task_id"`
	WorkerType  string            `json:"worker_type"`
	Timestamp   time.Time         `json:"timestamp"`
	Context     map[string]string `json:"context,omitempty"`
	TaskPayload json.RawMessage   `json:"task_payload,omitempty"`
	SourceQueue string            `json:"source_queue,omitempty"`
	ReplyQueue  string            `json:"reply_queue,omitempty"`
}

var (
	ErrEmptyErrorText = errors.New("error_text is required")
	ErrEmptyTaskID    = errors.New("task_id is required")
)

// Validate checks the message at ingress, before anything else touches it.
func (m *IncidentMessage) Validate() error {
	if m.ErrorText == "" {
		return ErrEmptyErrorText
	}
	if m.TaskID == "" {
		return ErrEmptyTaskID
	}
	if m.TaskPayload != nil && !json.Valid(m.TaskPayload) {
		return fmt.Errorf("task_payload is not valid JSON")
	}
	return nil
}

// ToIncident converts a validated message into a domain incident.
func (m *IncidentMessage) ToIncident() *Incident {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Incident{
		ID:          uuid.New().String(),
		TaskID:      m.TaskID,
		WorkerType:  m.WorkerType,
		ErrorText:   m.ErrorText,
		Context:     m.Context,
		TaskPayload: m.TaskPayload,
		SourceQueue: m.SourceQueue,
		ReplyQueue:  m.ReplyQueue,
		DedupHash:   DedupKey(m.TaskID, m.ErrorText),
		ReportedAt:  ts,
	}
}

// RetryMetadata rides along with a resubmitted task so the worker can
// tell a retry from a fresh submission.
type RetryMetadata struct {
	OriginalError  string    `json:"original_error"`
	FixApplied     bool      `json:"fix_applied"`
	FixCommand     string    `json:"fix_command,omitempty"`
	RetryTimestamp time.Time `json:"retry_timestamp"`
	RetryCount     int       `json:"retry_count"`
}

// RetryMessage is the wire form of a task republished for retry.
type RetryMessage struct {
	Task          json.RawMessage `json:"task"`
	RetryMetadata RetryMetadata   `json:"retry_metadata"`
}

// TaskResult is what a worker reports back after a retried task runs.
type TaskResult struct {
	TaskID      string    `json:"task_id"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
