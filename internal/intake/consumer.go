// Package intake consumes incident reports from the broker queue,
// validates them and hands them to the healing orchestrator.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/metrics"
)

// popTimeout bounds each blocking pop so shutdown is prompt.
const popTimeout = 5 * time.Second

// depthInterval is how often the intake queue depth gauge is sampled.
const depthInterval = 30 * time.Second

// Source yields raw incident payloads. Satisfied by the redis client.
type Source interface {
	PopIncident(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

// DepthProber reports pending queue depth. The redis client satisfies
// it; sources that cannot report depth simply skip the gauge.
type DepthProber interface {
	QueueDepth(ctx context.Context, queue string) (int64, error)
}

// Handler heals one incident. Satisfied by the healing orchestrator.
type Handler interface {
	HandleIncident(ctx context.Context, incident *domain.Incident) (*domain.HealingRecord, error)
}

// Consumer is the intake loop.
type Consumer struct {
	source  Source
	handler Handler
	queue   string
	log     *slog.Logger

	wg sync.WaitGroup
}

func NewConsumer(source Source, handler Handler, queue string, log *slog.Logger) *Consumer {
	if queue == "" {
		queue = "error_notifications"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{source: source, handler: handler, queue: queue, log: log}
}

// Run consumes until ctx is cancelled. Incidents are handled inline so
// broker backpressure follows healing throughput; concurrency comes
// from the orchestrator's worker pool underneath.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("Incident intake started", "queue", c.queue)

	if prober, ok := c.source.(DepthProber); ok {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.pollDepth(ctx, prober)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.log.Info("Incident intake stopped")
			return
		default:
		}

		payload, err := c.source.PopIncident(ctx, c.queue, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Warn("Failed to pop incident", "error", err)
			// Brief pause so a down broker does not spin the loop.
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if payload == nil {
			continue
		}
		c.dispatch(ctx, payload)
	}
}

func (c *Consumer) dispatch(ctx context.Context, payload []byte) {
	var msg domain.IncidentMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("Discarding malformed incident payload", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		if errors.Is(err, domain.ErrEmptyErrorText) || errors.Is(err, domain.ErrEmptyTaskID) {
			c.log.Warn("Discarding incomplete incident",
				"task", msg.TaskID, "error", err)
		} else {
			c.log.Warn("Discarding invalid incident", "task", msg.TaskID, "error", err)
		}
		return
	}

	incident := msg.ToIncident()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.handler.HandleIncident(ctx, incident); err != nil {
			c.log.Error("Healing failed",
				"task", incident.TaskID, "incident", incident.ID, "error", err)
		}
	}()
}

// pollDepth samples the intake backlog into the queue depth gauge.
func (c *Consumer) pollDepth(ctx context.Context, prober DepthProber) {
	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.recordDepth(ctx, prober)
		}
	}
}

func (c *Consumer) recordDepth(ctx context.Context, prober DepthProber) {
	n, err := prober.QueueDepth(ctx, c.queue)
	if err != nil {
		c.log.Debug("Failed to read intake queue depth", "error", err)
		return
	}
	metrics.IntakeQueueDepth.Set(float64(n))
}
