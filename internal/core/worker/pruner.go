package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tdnguyen/healer/internal/infra/storage"
)

// Pruner deletes old ledger and health log rows based on retention policy.
type Pruner struct {
	retention time.Duration
	ledger    storage.LedgerRepository
	health    storage.HealthRepository
}

// NewPruner creates a new Pruner worker.
func NewPruner(
	retention time.Duration,
	ledger storage.LedgerRepository,
	health storage.HealthRepository,
) *Pruner {
	return &Pruner{
		retention: retention,
		ledger:    ledger,
		health:    health,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check interval is 10% of retention, clamped to [1m, 1h].
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	if err := p.ledger.DeleteOlderThan(ctx, cutoff); err != nil {
		slog.Error("Failed to prune ledger", "error", err)
	}
	if err := p.health.DeleteOlderThan(ctx, cutoff); err != nil {
		slog.Error("Failed to prune health log", "error", err)
	}
}
