// Package control wires the healing pipeline together and manages its
// lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tdnguyen/healer/internal/classify"
	"github.com/tdnguyen/healer/internal/core/config"
	"github.com/tdnguyen/healer/internal/core/worker"
	"github.com/tdnguyen/healer/internal/fixer"
	"github.com/tdnguyen/healer/internal/healing"
	"github.com/tdnguyen/healer/internal/intake"
	"github.com/tdnguyen/healer/internal/learning"
	"github.com/tdnguyen/healer/internal/notify"
	"github.com/tdnguyen/healer/internal/retry"
	"github.com/tdnguyen/healer/internal/telemetry"

	redisclient "github.com/tdnguyen/healer/internal/infra/redis"
	"github.com/tdnguyen/healer/internal/infra/storage"
	"github.com/tdnguyen/healer/internal/infra/storage/memory"
	"github.com/tdnguyen/healer/internal/infra/storage/postgres"
)

// Healer is the main application struct managing the pipeline lifecycle.
type Healer struct {
	cfg config.AppConfig

	db          *postgres.DB
	redisClient *redisclient.Client
	pool        *worker.Pool
	pruner      *worker.Pruner
	orch        *healing.Orchestrator
	consumer    *intake.Consumer
	server      *healing.Server
	optimizer   *learning.Optimizer

	shutdownTracing func(context.Context) error

	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
}

// NewHealer creates a Healer with all dependencies initialized. Without
// a database URL everything runs on in-memory storage; without a Redis
// URL intake and retry transport are disabled and only the HTTP/gRPC
// surfaces run.
func NewHealer(ctx context.Context, cfg config.AppConfig) (*Healer, error) {
	log := slog.Default()
	h := &Healer{cfg: cfg, stopped: make(chan struct{}), log: log}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	h.shutdownTracing = shutdownTracing

	// Storage
	var (
		patterns   storage.PatternRepository
		ledger     storage.LedgerRepository
		strategies storage.StrategyRepository
		healthRepo storage.HealthRepository
	)
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		h.db = db
		patterns = postgres.NewPatternRepo(db)
		ledger = postgres.NewLedgerRepo(db)
		strategies = postgres.NewStrategyRepo(db)
		healthRepo = postgres.NewHealthRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		patterns = memory.NewPatternRepo(store)
		ledger = memory.NewLedgerRepo(store)
		strategies = memory.NewStrategyRepo(store)
		healthRepo = memory.NewHealthRepo(store)
		log.Info("Using memory storage")
	}

	// Broker
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		h.redisClient = rc
		log.Info("Connected to Redis", "queue", cfg.Redis.IntakeQueue)
	} else {
		log.Warn("No Redis configured, intake and retry transport disabled")
	}

	// Notifications
	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, log)
	} else {
		notifier = notify.LogNotifier{Log: log}
	}
	notifier = notify.NewDeduper(notifier, cfg.Notify.DedupWindow)

	// Pipeline components
	classifier := classify.New(patterns, log)
	executor := fixer.NewExecutor(nil, log)
	verifier := fixer.NewVerifier(nil, log)

	var taskQueue retry.TaskQueue
	if h.redisClient != nil {
		taskQueue = h.redisClient
	} else {
		taskQueue = noopQueue{}
	}
	retrier := retry.NewOrchestrator(retry.Config{
		DefaultQueue:  cfg.Retry.DefaultQueue,
		PollInterval:  cfg.Retry.PollInterval,
		ResultTimeout: cfg.Retry.ResultTimeout,
	}, taskQueue, verifier, log)

	learner := learning.NewLearner(learning.Config{
		Epsilon:       cfg.Learning.Epsilon,
		MinSamples:    cfg.Learning.MinSamples,
		RetrainWindow: cfg.Learning.RetrainWindow,
	}, ledger, strategies, nil, log)
	h.optimizer = learning.NewOptimizer(ledger, strategies, log)

	h.pool = worker.NewPool(cfg.Healing.Workers, cfg.Healing.QueueDepth)

	var locker healing.TaskLocker
	if h.redisClient != nil {
		locker = h.redisClient
	}
	h.orch = healing.NewOrchestrator(healing.Config{
		HealthCheckInterval: cfg.Healing.HealthCheckInterval,
		OptimizeInterval:    cfg.Healing.OptimizeInterval,
		PredictiveInterval:  cfg.Healing.PredictiveInterval,
		NotifyBelow:         cfg.Healing.NotifyBelow,
		EmergencyErrorRate:  cfg.Healing.EmergencyErrorRate,
		EmergencyWindow:     cfg.Healing.EmergencyWindow,
	}, classifier, executor, retrier, learner, h.optimizer, h.pool, locker, notifier, healthRepo, log)
	if h.redisClient != nil {
		h.orch.Emergency().SetCacheClearer(h.redisClient)
	}

	if h.redisClient != nil {
		h.consumer = intake.NewConsumer(h.redisClient, h.orch, cfg.Redis.IntakeQueue, log)
	}
	h.pruner = worker.NewPruner(cfg.Healing.Retention, ledger, healthRepo)
	h.server = healing.NewServer(h.orch, cfg.Server.Port, cfg.Server.GRPCPort)

	return h, nil
}

// Orchestrator exposes the healing orchestrator, mainly for tests.
func (h *Healer) Orchestrator() *healing.Orchestrator {
	return h.orch
}

// Start launches the intake consumer, the background loops and the
// observability server. It does not block.
func (h *Healer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if h.db != nil {
		go h.db.StartMetricsCollector(runCtx)
	}

	loopWG := h.orch.StartLoops(runCtx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		loopWG.Wait()
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.pruner.Start(runCtx)
	}()

	if h.consumer != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.consumer.Run(runCtx)
		}()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Start(runCtx); err != nil {
			h.log.Error("Observability server failed", "error", err)
		}
	}()

	h.log.Info("Healer started",
		"http_port", h.cfg.Server.Port, "grpc_port", h.cfg.Server.GRPCPort)
	return nil
}

// Stop shuts the pipeline down gracefully: stop intake, drain the
// worker pool, stop the server, close connections.
func (h *Healer) Stop(ctx context.Context) error {
	h.log.Info("Stopping healer...")
	if h.cancel != nil {
		h.cancel()
	}

	if err := h.server.Stop(ctx); err != nil {
		h.log.Warn("Server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.log.Warn("Shutdown deadline exceeded, abandoning in-flight work")
	}

	if h.shutdownTracing != nil {
		if err := h.shutdownTracing(ctx); err != nil {
			h.log.Warn("Tracing shutdown error", "error", err)
		}
	}
	if h.redisClient != nil {
		if err := h.redisClient.Close(); err != nil {
			h.log.Warn("Redis close error", "error", err)
		}
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			h.log.Warn("Database close error", "error", err)
		}
	}
	h.log.Info("Healer stopped")
	return nil
}

// noopQueue satisfies retry.TaskQueue when no broker is configured.
// Retries are refused rather than silently dropped.
type noopQueue struct{}

func (noopQueue) PublishTask(context.Context, string, []byte) error {
	return fmt.Errorf("no task queue configured")
}

func (noopQueue) GetResult(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("no task queue configured")
}

func (noopQueue) ClearResult(context.Context, string) error {
	return nil
}

func (noopQueue) Ping(context.Context) error {
	return fmt.Errorf("no task queue configured")
}
