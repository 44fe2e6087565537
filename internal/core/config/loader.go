package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.IntakeQueue == "" {
		cfg.Redis.IntakeQueue = "error_notifications"
	}
	if cfg.Healing.Workers == 0 {
		cfg.Healing.Workers = 4
	}
	if cfg.Healing.QueueDepth == 0 {
		cfg.Healing.QueueDepth = 64
	}
	if cfg.Healing.HealthCheckInterval == 0 {
		cfg.Healing.HealthCheckInterval = time.Minute
	}
	if cfg.Healing.OptimizeInterval == 0 {
		cfg.Healing.OptimizeInterval = time.Hour
	}
	if cfg.Healing.PredictiveInterval == 0 {
		cfg.Healing.PredictiveInterval = 5 * time.Minute
	}
	if cfg.Healing.Retention == 0 {
		cfg.Healing.Retention = 30 * 24 * time.Hour
	}
	if cfg.Retry.DefaultQueue == "" {
		cfg.Retry.DefaultQueue = "tasks"
	}
	if cfg.Retry.PollInterval == 0 {
		cfg.Retry.PollInterval = 2 * time.Second
	}
	if cfg.Retry.ResultTimeout == 0 {
		cfg.Retry.ResultTimeout = 5 * time.Minute
	}
	if cfg.Learning.MinSamples == 0 {
		cfg.Learning.MinSamples = 10
	}
	if cfg.Learning.RetrainWindow == 0 {
		cfg.Learning.RetrainWindow = 24 * time.Hour
	}
	if cfg.Notify.DedupWindow == 0 {
		cfg.Notify.DedupWindow = 15 * time.Minute
	}
}
