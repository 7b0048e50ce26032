package config

import "time"

// Config holds runtime settings for the walletsync client.
//
// Units: intervals are time.Duration values (e.g., 30*time.Second).
type Config struct {
	// ServerEndpointAddr is the base URL of the remote sync API.
	ServerEndpointAddr string
	// DatabasePath is the SQLite file holding the local replica.
	DatabasePath string
	// ListenAddr is where the local status HTTP API listens.
	ListenAddr string

	// SyncInterval is the baseline gap between background sync cycles.
	SyncInterval time.Duration
	// OnlineCheckInterval is how often the client probes server reachability.
	OnlineCheckInterval time.Duration

	// QueueMaxLength caps the operation queue before eviction kicks in.
	QueueMaxLength int
	// QueueBatchSize caps operations dispatched per cycle.
	QueueBatchSize int
	// MaxRetries is the per-operation retry budget for transient failures.
	MaxRetries int
	// Concurrency caps simultaneous dispatches within one cycle.
	Concurrency int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabasePath = "walletsync.db"
	c.ListenAddr = "127.0.0.1:7333"
	c.SyncInterval = 30 * time.Second
	c.OnlineCheckInterval = 10 * time.Second
	c.QueueMaxLength = 500
	c.QueueBatchSize = 50
	c.MaxRetries = 3
	c.Concurrency = 4
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
