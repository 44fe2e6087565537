package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(context.Context, Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func (n *countingNotifier) delivered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func TestDeduper_SuppressesRepeats(t *testing.T) {
	inner := &countingNotifier{}
	d := NewDeduper(inner, time.Minute)
	ctx := context.Background()

	msg := Message{Severity: SevWarning, Title: "health degraded"}
	for i := 0; i < 5; i++ {
		d.Notify(ctx, msg)
	}
	if got := inner.delivered(); got != 1 {
		t.Errorf("delivered = %d, want 1 inside the window", got)
	}

	// Different title is a different notification.
	d.Notify(ctx, Message{Severity: SevWarning, Title: "broker unreachable"})
	if got := inner.delivered(); got != 2 {
		t.Errorf("delivered = %d, want 2 for a distinct message", got)
	}
}

func TestDeduper_WindowExpiry(t *testing.T) {
	inner := &countingNotifier{}
	d := NewDeduper(inner, 20*time.Millisecond)
	ctx := context.Background()

	msg := Message{Severity: SevCritical, Title: "emergency"}
	d.Notify(ctx, msg)
	time.Sleep(40 * time.Millisecond)
	d.Notify(ctx, msg)

	if got := inner.delivered(); got != 2 {
		t.Errorf("delivered = %d, want 2 after window expiry", got)
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	n.Notify(context.Background(), Message{
		Severity: SevWarning,
		Title:    "Manual intervention required",
		Body:     "retry exhausted",
		Fields:   map[string]string{"task_id": "t1"},
	})

	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("webhook body is not JSON: %v", err)
	}
	text := payload["text"]
	for _, want := range []string{"warning", "Manual intervention required", "retry exhausted", "task_id: t1"} {
		if !strings.Contains(text, want) {
			t.Errorf("webhook text missing %q: %s", want, text)
		}
	}
}

func TestWebhookNotifier_FailureDoesNotPanic(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1/unreachable", nil)
	// Must log and return; any panic fails the test.
	n.Notify(context.Background(), Message{Severity: SevInfo, Title: "x", Body: "y"})
}
