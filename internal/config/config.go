package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.drift/config.toml.
type Config struct {
	DefaultSession string         `toml:"default_session"`
	API            APIConfig      `toml:"api"`
	Offline        OfflineConfig  `toml:"offline"`
	Realtime       RealtimeConfig `toml:"realtime"`
}

// APIConfig configures the cloud API transport.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// OfflineConfig configures the offline manager.
type OfflineConfig struct {
	// SyncOnConnect triggers a sync immediately upon transitioning online.
	// Defaults to true when unset.
	SyncOnConnect         *bool  `toml:"sync_on_connect"`
	OutboxRetryLimit      int    `toml:"outbox_retry_limit"`
	OutboxFlushIntervalMS int    `toml:"outbox_flush_interval_ms"`
	ConflictStrategy      string `toml:"conflict_strategy"` // "server" or "client"
}

// RealtimeConfig configures the websocket push client.
type RealtimeConfig struct {
	AutoReconnect            *bool `toml:"auto_reconnect"`
	HeartbeatIntervalSeconds int   `toml:"heartbeat_interval_seconds"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://prismer.cloud"
	}
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 30
	}
	if c.Offline.SyncOnConnect == nil {
		v := true
		c.Offline.SyncOnConnect = &v
	}
	if c.Offline.OutboxRetryLimit == 0 {
		c.Offline.OutboxRetryLimit = 5
	}
	if c.Offline.OutboxFlushIntervalMS == 0 {
		c.Offline.OutboxFlushIntervalMS = 1000
	}
	if c.Offline.ConflictStrategy == "" {
		c.Offline.ConflictStrategy = "server"
	}
	if c.Realtime.AutoReconnect == nil {
		v := true
		c.Realtime.AutoReconnect = &v
	}
	if c.Realtime.HeartbeatIntervalSeconds == 0 {
		c.Realtime.HeartbeatIntervalSeconds = 25
	}
}

// APITimeout returns the configured request timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// FlushInterval returns the configured outbox flush interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Offline.OutboxFlushIntervalMS) * time.Millisecond
}

// Load reads config from the given path and fills in defaults. Returns an
// error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
