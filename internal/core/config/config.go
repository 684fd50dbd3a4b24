package config

import (
	"time"

	redisclient "github.com/vietddude/walletsync/internal/infra/redis"
	"github.com/vietddude/walletsync/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Hub      HubConfig          `yaml:"hub"`
	Sync     SyncConfig         `yaml:"sync"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings (health + metrics).
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// HubConfig holds settings for the remote resource hub.
type HubConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // total budget divided across parallel fetches
	AuthToken      string        `yaml:"auth_token"`
}

// SyncConfig holds the reconciliation and transfer lifecycle knobs.
// All values are externally supplied; none of the core owns a default.
type SyncConfig struct {
	// FetchFanout caps parallel object fetches within one planning pass.
	FetchFanout int `yaml:"fetch_fanout"`

	// TransferWaitThreshold is how long a resultless transfer stays
	// "waiting" before it is classified "delayed".
	TransferWaitThreshold time.Duration `yaml:"transfer_wait_threshold"`

	// TransferDeletionDelay is the configured retention for concluded
	// transfers. The effective delay never drops below MinDeletionDelay.
	TransferDeletionDelay time.Duration `yaml:"transfer_deletion_delay"`
	MinDeletionDelay      time.Duration `yaml:"min_deletion_delay"`

	// MaxProcessingDelay bounds how late a server confirmation for a
	// sent request may still arrive.
	MaxProcessingDelay time.Duration `yaml:"max_processing_delay"`

	// SyncInterval is the pause between background sync rounds.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// TaskInterval is the pause between scheduled-task runner rounds.
	TaskInterval time.Duration `yaml:"task_interval"`
}

// RetentionDelay is the effective deletion delay for concluded
// transfers: the configured value, floored at the hard minimum.
func (c SyncConfig) RetentionDelay() time.Duration {
	if c.TransferDeletionDelay > c.MinDeletionDelay {
		return c.TransferDeletionDelay
	}
	return c.MinDeletionDelay
}
