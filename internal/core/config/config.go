package config

import (
	"time"

	redisclient "github.com/tdnguyen/healer/internal/infra/redis"
	"github.com/tdnguyen/healer/internal/infra/storage/postgres"
	"github.com/tdnguyen/healer/internal/telemetry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Healing   HealingConfig      `yaml:"healing"`
	Retry     RetryConfig        `yaml:"retry"`
	Learning  LearningConfig     `yaml:"learning"`
	Notify    NotifyConfig       `yaml:"notify"`
	Telemetry telemetry.Config   `yaml:"telemetry"`
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// HealingConfig tunes the healing orchestrator and its loops.
type HealingConfig struct {
	Workers             int           `yaml:"workers"`               // fix execution pool size
	QueueDepth          int           `yaml:"queue_depth"`           // pending fix jobs
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	OptimizeInterval    time.Duration `yaml:"optimize_interval"`
	PredictiveInterval  time.Duration `yaml:"predictive_interval"`
	NotifyBelow         float64       `yaml:"notify_below"`
	EmergencyErrorRate  float64       `yaml:"emergency_error_rate"`
	EmergencyWindow     time.Duration `yaml:"emergency_window"`
	Retention           time.Duration `yaml:"retention"` // ledger and health log retention
}

// RetryConfig tunes retry orchestration.
type RetryConfig struct {
	DefaultQueue  string        `yaml:"default_queue"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ResultTimeout time.Duration `yaml:"result_timeout"`
}

// LearningConfig tunes strategy learning.
type LearningConfig struct {
	Epsilon       float64       `yaml:"epsilon"`
	MinSamples    int           `yaml:"min_samples"`
	RetrainWindow time.Duration `yaml:"retrain_window"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	WebhookURL  string        `yaml:"webhook_url"` // empty falls back to log notifications
	DedupWindow time.Duration `yaml:"dedup_window"`
}
