package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

var (
	// ErrTerminalState is returned when a task's retry state can no
	// longer change.
	ErrTerminalState = errors.New("retry state is terminal")

	// ErrRetryInFlight is returned when a retry cycle is already
	// running for the task.
	ErrRetryInFlight = errors.New("retry already in progress")
)

// Tracker holds the per-task retry state machine:
// PENDING → IN_PROGRESS → {SUCCESS | FAILED | MAX_RETRIES_EXCEEDED}.
// Once terminal, a task id never transitions again.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*domain.RetryState
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*domain.RetryState)}
}

// Get returns a copy of the task's state; an unseen task is PENDING
// with zero retries.
func (t *Tracker) Get(taskID string) domain.RetryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[taskID]; ok {
		return *s
	}
	return domain.RetryState{TaskID: taskID, Status: domain.RetryPending}
}

// Begin moves a task into IN_PROGRESS and bumps its retry count.
func (t *Tracker) Begin(taskID string) (domain.RetryState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[taskID]
	if !ok {
		s = &domain.RetryState{TaskID: taskID, Status: domain.RetryPending}
		t.states[taskID] = s
	}
	if s.Status.Terminal() {
		return *s, fmt.Errorf("task %s: %w", taskID, ErrTerminalState)
	}
	if s.Status == domain.RetryInProgress {
		return *s, fmt.Errorf("task %s: %w", taskID, ErrRetryInFlight)
	}

	s.Status = domain.RetryInProgress
	s.RetryCount++
	s.LastAttempt = time.Now().UTC()
	return *s, nil
}

// Complete moves an IN_PROGRESS task to a terminal status, or back to
// PENDING when the attempt failed but retries remain.
func (t *Tracker) Complete(taskID string, status domain.RetryStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[taskID]
	if !ok {
		return fmt.Errorf("task %s has no retry state", taskID)
	}
	if s.Status.Terminal() {
		return fmt.Errorf("task %s: %w", taskID, ErrTerminalState)
	}
	if status != domain.RetryPending && !status.Terminal() {
		return fmt.Errorf("invalid completion status %q", status)
	}

	s.Status = status
	return nil
}
