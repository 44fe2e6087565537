package retry

import (
	"errors"
	"testing"

	"github.com/tdnguyen/healer/internal/core/domain"
)

func TestTracker_UnseenTaskIsPending(t *testing.T) {
	tr := NewTracker()
	s := tr.Get("task-1")
	if s.Status != domain.RetryPending {
		t.Errorf("unseen task status = %s, want pending", s.Status)
	}
	if s.RetryCount != 0 {
		t.Errorf("unseen task retry count = %d, want 0", s.RetryCount)
	}
}

func TestTracker_BeginIncrementsCount(t *testing.T) {
	tr := NewTracker()

	s, err := tr.Begin("task-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if s.Status != domain.RetryInProgress {
		t.Errorf("status after Begin = %s, want in_progress", s.Status)
	}
	if s.RetryCount != 1 {
		t.Errorf("retry count after Begin = %d, want 1", s.RetryCount)
	}

	// A second Begin while in flight must be rejected.
	if _, err := tr.Begin("task-1"); !errors.Is(err, ErrRetryInFlight) {
		t.Errorf("concurrent Begin error = %v, want ErrRetryInFlight", err)
	}
}

func TestTracker_FailedCycleReturnsToPending(t *testing.T) {
	tr := NewTracker()

	if _, err := tr.Begin("task-1"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tr.Complete("task-1", domain.RetryPending); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	s, err := tr.Begin("task-1")
	if err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}
	if s.RetryCount != 2 {
		t.Errorf("retry count on second cycle = %d, want 2", s.RetryCount)
	}
}

func TestTracker_TerminalStateIsFinal(t *testing.T) {
	for _, terminal := range []domain.RetryStatus{
		domain.RetrySuccess,
		domain.RetryFailed,
		domain.RetryExhausted,
	} {
		tr := NewTracker()
		if _, err := tr.Begin("task-1"); err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if err := tr.Complete("task-1", terminal); err != nil {
			t.Fatalf("Complete(%s) failed: %v", terminal, err)
		}

		if _, err := tr.Begin("task-1"); !errors.Is(err, ErrTerminalState) {
			t.Errorf("Begin after %s error = %v, want ErrTerminalState", terminal, err)
		}
		if err := tr.Complete("task-1", domain.RetryPending); !errors.Is(err, ErrTerminalState) {
			t.Errorf("Complete after %s error = %v, want ErrTerminalState", terminal, err)
		}
		if got := tr.Get("task-1").Status; got != terminal {
			t.Errorf("state after rejected transitions = %s, want %s", got, terminal)
		}
	}
}
