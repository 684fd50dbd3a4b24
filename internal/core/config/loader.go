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
	if cfg.Hub.RequestTimeout == 0 {
		cfg.Hub.RequestTimeout = 30 * time.Second
	}
	if cfg.Sync.FetchFanout == 0 {
		cfg.Sync.FetchFanout = 6
	}
	if cfg.Sync.TransferWaitThreshold == 0 {
		cfg.Sync.TransferWaitThreshold = 24 * time.Hour
	}
	if cfg.Sync.TransferDeletionDelay == 0 {
		cfg.Sync.TransferDeletionDelay = 15 * 24 * time.Hour
	}
	if cfg.Sync.MinDeletionDelay == 0 {
		cfg.Sync.MinDeletionDelay = 6 * 24 * time.Hour
	}
	if cfg.Sync.MaxProcessingDelay == 0 {
		cfg.Sync.MaxProcessingDelay = 10 * time.Minute
	}
	if cfg.Sync.SyncInterval == 0 {
		cfg.Sync.SyncInterval = 60 * time.Second
	}
	if cfg.Sync.TaskInterval == 0 {
		cfg.Sync.TaskInterval = 5 * time.Minute
	}
}
