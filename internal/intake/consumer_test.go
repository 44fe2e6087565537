package intake

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/metrics"
)

// queueSource feeds payloads from a slice, then blocks until ctx ends.
type queueSource struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *queueSource) PopIncident(ctx context.Context, _ string, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if len(s.payloads) > 0 {
		p := s.payloads[0]
		s.payloads = s.payloads[1:]
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
	return nil, nil
}

type recordingHandler struct {
	mu        sync.Mutex
	incidents []*domain.Incident
}

func (h *recordingHandler) HandleIncident(_ context.Context, incident *domain.Incident) (*domain.HealingRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.incidents = append(h.incidents, incident)
	return &domain.HealingRecord{TaskID: incident.TaskID}, nil
}

func (h *recordingHandler) handled() []*domain.Incident {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.Incident(nil), h.incidents...)
}

func runConsumer(t *testing.T, payloads ...[]byte) *recordingHandler {
	t.Helper()
	source := &queueSource{payloads: payloads}
	handler := &recordingHandler{}
	c := NewConsumer(source, handler, "error_notifications", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Give the loop time to drain the scripted payloads.
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
	return handler
}

func TestConsumer_DispatchesValidIncident(t *testing.T) {
	msg := domain.IncidentMessage{
		ErrorText:  "ModuleNotFoundError: No module named 'requests'",
		TaskID:     "task-1",
		WorkerType: "etl",
	}
	payload, _ := json.Marshal(msg)

	handler := runConsumer(t, payload)

	handled := handler.handled()
	if len(handled) != 1 {
		t.Fatalf("handled %d incidents, want 1", len(handled))
	}
	inc := handled[0]
	if inc.TaskID != "task-1" {
		t.Errorf("task id = %s", inc.TaskID)
	}
	if inc.ID == "" {
		t.Error("expected a generated incident id")
	}
	if inc.DedupHash == "" {
		t.Error("expected a dedup hash")
	}
}

func TestConsumer_DiscardsMalformedPayload(t *testing.T) {
	handler := runConsumer(t, []byte("{not json"))
	if n := len(handler.handled()); n != 0 {
		t.Errorf("handled %d incidents, want 0 for malformed payload", n)
	}
}

func TestConsumer_DiscardsIncompleteIncident(t *testing.T) {
	missingTask, _ := json.Marshal(domain.IncidentMessage{ErrorText: "boom"})
	missingText, _ := json.Marshal(domain.IncidentMessage{TaskID: "t1"})

	handler := runConsumer(t, missingTask, missingText)
	if n := len(handler.handled()); n != 0 {
		t.Errorf("handled %d incidents, want 0 for incomplete messages", n)
	}
}

// probedSource is a queueSource that also reports backlog depth.
type probedSource struct {
	queueSource
	depth int64
}

func (s *probedSource) QueueDepth(context.Context, string) (int64, error) {
	return s.depth, nil
}

func TestConsumer_RecordsQueueDepth(t *testing.T) {
	source := &probedSource{depth: 7}
	c := NewConsumer(source, &recordingHandler{}, "error_notifications", nil)

	c.recordDepth(context.Background(), source)

	if got := testutil.ToFloat64(metrics.IntakeQueueDepth); got != 7 {
		t.Errorf("intake queue depth gauge = %v, want 7", got)
	}
}
