package retry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// fakeQueue is an in-memory TaskQueue.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	results   map[string][]byte
	pingErr   error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][][]byte),
		results:   make(map[string][]byte),
	}
}

func (q *fakeQueue) PublishTask(_ context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[queue] = append(q.published[queue], payload)
	return nil
}

func (q *fakeQueue) GetResult(_ context.Context, taskID string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.results[taskID], nil
}

func (q *fakeQueue) ClearResult(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.results, taskID)
	return nil
}

func (q *fakeQueue) Ping(context.Context) error {
	return q.pingErr
}

func (q *fakeQueue) setResult(taskID string, result domain.TaskResult) {
	raw, _ := json.Marshal(result)
	q.mu.Lock()
	q.results[taskID] = raw
	q.mu.Unlock()
}

type fakeVerifier struct{ pass bool }

func (v fakeVerifier) Verify(context.Context, *domain.Strategy) bool { return v.pass }

func testOrchestrator(q *fakeQueue, verify bool) *Orchestrator {
	return NewOrchestrator(Config{
		DefaultQueue:  "tasks",
		PollInterval:  10 * time.Millisecond,
		ResultTimeout: 500 * time.Millisecond,
	}, q, fakeVerifier{pass: verify}, nil)
}

func successfulFix() *domain.FixResult {
	return &domain.FixResult{
		Success:      true,
		StrategyUsed: &domain.Strategy{ID: "install_package:requests", Command: "pip install requests"},
	}
}

func incident(taskID string) *domain.Incident {
	return &domain.Incident{
		ID:          "inc-" + taskID,
		TaskID:      taskID,
		ErrorText:   "ModuleNotFoundError: No module named 'requests'",
		TaskPayload: json.RawMessage(`{"job":"etl"}`),
		SourceQueue: "etl_tasks",
	}
}

func TestShouldRetry_AllowsAfterSuccessfulFix(t *testing.T) {
	o := testOrchestrator(newFakeQueue(), true)

	d := o.ShouldRetry(context.Background(), incident("t1"), domain.CategoryDependency, successfulFix())
	if !d.Retry {
		t.Fatalf("expected retry allowed, got refused: %s", d.Reason)
	}
	if d.Delay <= 0 {
		t.Errorf("expected positive delay, got %s", d.Delay)
	}
}

func TestShouldRetry_RefusesFailedFix(t *testing.T) {
	o := testOrchestrator(newFakeQueue(), true)

	d := o.ShouldRetry(context.Background(), incident("t1"), domain.CategoryDependency, &domain.FixResult{Success: false})
	if d.Retry {
		t.Error("expected retry refused for failed fix")
	}
}

func TestShouldRetry_MaxRetriesBeatsFixSuccess(t *testing.T) {
	o := testOrchestrator(newFakeQueue(), true)
	inc := incident("t1")
	max := o.PolicyFor(domain.CategoryDependency).MaxRetries

	// Exhaust the budget with failed cycles.
	for i := 0; i < max; i++ {
		if _, err := o.Tracker().Begin(inc.TaskID); err != nil {
			t.Fatalf("Begin %d failed: %v", i, err)
		}
		if err := o.Tracker().Complete(inc.TaskID, domain.RetryPending); err != nil {
			t.Fatalf("Complete %d failed: %v", i, err)
		}
	}

	d := o.ShouldRetry(context.Background(), inc, domain.CategoryDependency, successfulFix())
	if d.Retry {
		t.Error("expected retry refused at max retries even with a successful fix")
	}
}

func TestShouldRetry_VerificationGate(t *testing.T) {
	o := testOrchestrator(newFakeQueue(), false)

	// dependency policy verifies the fix before allowing a retry.
	d := o.ShouldRetry(context.Background(), incident("t1"), domain.CategoryDependency, successfulFix())
	if d.Retry {
		t.Error("expected retry refused when pre-retry verification fails")
	}
}

func TestShouldRetry_TerminalTask(t *testing.T) {
	o := testOrchestrator(newFakeQueue(), true)
	inc := incident("t1")

	if _, err := o.Tracker().Begin(inc.TaskID); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := o.Tracker().Complete(inc.TaskID, domain.RetrySuccess); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	d := o.ShouldRetry(context.Background(), inc, domain.CategoryDependency, successfulFix())
	if d.Retry {
		t.Error("expected retry refused for a terminal task")
	}
}

func TestOrchestrateRetry_SuccessRoundTrip(t *testing.T) {
	q := newFakeQueue()
	o := testOrchestrator(q, true)
	inc := incident("t1")

	q.setResult(inc.TaskID, domain.TaskResult{TaskID: inc.TaskID, Success: true, CompletedAt: time.Now()})

	outcome, err := o.OrchestrateRetry(context.Background(), inc, domain.CategoryDependency, successfulFix(), domain.RetryDecision{Retry: true})
	if err != nil {
		t.Fatalf("OrchestrateRetry failed: %v", err)
	}
	if outcome.Status != domain.RetrySuccess {
		t.Errorf("outcome status = %s, want success", outcome.Status)
	}

	// The task must land on its originating queue with retry metadata.
	published := q.published["etl_tasks"]
	if len(published) != 1 {
		t.Fatalf("published %d messages to etl_tasks, want 1", len(published))
	}
	var msg domain.RetryMessage
	if err := json.Unmarshal(published[0], &msg); err != nil {
		t.Fatalf("failed to decode published message: %v", err)
	}
	if !msg.RetryMetadata.FixApplied {
		t.Error("expected fix_applied in retry metadata")
	}
	if msg.RetryMetadata.RetryCount != 1 {
		t.Errorf("retry count in metadata = %d, want 1", msg.RetryMetadata.RetryCount)
	}

	if got := o.Tracker().Get(inc.TaskID).Status; got != domain.RetrySuccess {
		t.Errorf("tracker status = %s, want success", got)
	}
}

func TestOrchestrateRetry_ResultTimeout(t *testing.T) {
	q := newFakeQueue()
	o := testOrchestrator(q, true)
	inc := incident("t1")

	// No worker ever reports a result.
	outcome, err := o.OrchestrateRetry(context.Background(), inc, domain.CategoryDependency, successfulFix(), domain.RetryDecision{Retry: true})
	if err != nil {
		t.Fatalf("OrchestrateRetry failed: %v", err)
	}
	if !outcome.TimedOut {
		t.Error("expected timed-out outcome")
	}
	if outcome.Status != domain.RetryFailed {
		t.Errorf("outcome status = %s, want failed", outcome.Status)
	}
}

func TestOrchestrateRetry_DefaultQueueFallback(t *testing.T) {
	q := newFakeQueue()
	o := testOrchestrator(q, true)
	inc := incident("t1")
	inc.SourceQueue = ""

	q.setResult(inc.TaskID, domain.TaskResult{TaskID: inc.TaskID, Success: true})

	if _, err := o.OrchestrateRetry(context.Background(), inc, domain.CategoryDependency, successfulFix(), domain.RetryDecision{Retry: true}); err != nil {
		t.Fatalf("OrchestrateRetry failed: %v", err)
	}
	if len(q.published["tasks"]) != 1 {
		t.Errorf("expected publish to default queue, got %v", q.published)
	}
}
