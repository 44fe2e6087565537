// Package notify delivers operator-facing alerts. Delivery is strictly
// best-effort: a failed or slow notification never blocks or fails the
// healing pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Severity levels for notifications, ordered.
type Severity string

const (
	SevInfo     Severity = "info"
	SevWarning  Severity = "warning"
	SevCritical Severity = "critical"
)

// Message is one operator notification.
type Message struct {
	Severity Severity          `json:"severity"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Notifier delivers messages to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// LogNotifier writes notifications to the structured log. Used when no
// webhook is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"severity", msg.Severity, "title", msg.Title}
	for k, v := range msg.Fields {
		attrs = append(attrs, k, v)
	}
	switch msg.Severity {
	case SevCritical:
		log.Error(msg.Body, attrs...)
	case SevWarning:
		log.Warn(msg.Body, attrs...)
	default:
		log.Info(msg.Body, attrs...)
	}
}

// WebhookNotifier posts JSON payloads to an incoming-webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhookNotifier(url string, log *slog.Logger) *WebhookNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) {
	text := fmt.Sprintf("[%s] %s: %s", msg.Severity, msg.Title, msg.Body)
	for k, v := range msg.Fields {
		text += fmt.Sprintf("\n• %s: %s", k, v)
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		n.log.Warn("Failed to encode notification", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.log.Warn("Failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("Notification delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("Notification rejected", "status", resp.StatusCode)
	}
}

// Deduper suppresses repeats of the same notification inside a window.
type Deduper struct {
	inner  Notifier
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeduper(inner Notifier, window time.Duration) *Deduper {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Deduper{inner: inner, window: window, seen: make(map[string]time.Time)}
}

func (d *Deduper) Notify(ctx context.Context, msg Message) {
	key := string(msg.Severity) + "|" + msg.Title
	now := time.Now()

	d.mu.Lock()
	last, ok := d.seen[key]
	if ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		return
	}
	d.seen[key] = now
	// Opportunistic cleanup of expired entries.
	for k, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, k)
		}
	}
	d.mu.Unlock()

	d.inner.Notify(ctx, msg)
}
