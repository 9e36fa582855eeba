package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings. Values come from the environment with
// production-ready defaults; Validate catches broken deployments early.
type Config struct {
	HTTPHost         string        `env:"PEERLINE_HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort         int           `env:"PEERLINE_HTTP_PORT" envDefault:"8080"`
	HTTPReadTimeout  time.Duration `env:"PEERLINE_HTTP_READ_TIMEOUT" envDefault:"30s"`
	HTTPWriteTimeout time.Duration `env:"PEERLINE_HTTP_WRITE_TIMEOUT" envDefault:"30s"`

	WSPingInterval time.Duration `env:"PEERLINE_WS_PING_INTERVAL" envDefault:"30s"`
	WSReadTimeout  time.Duration `env:"PEERLINE_WS_READ_TIMEOUT" envDefault:"60s"`
	WSWriteTimeout time.Duration `env:"PEERLINE_WS_WRITE_TIMEOUT" envDefault:"10s"`

	DatabasePath    string        `env:"PEERLINE_DATABASE_PATH" envDefault:"./data/peerline.db"`
	DatabaseTimeout time.Duration `env:"PEERLINE_DATABASE_TIMEOUT" envDefault:"30s"`

	// Cleanup scheduler intervals and retention windows.
	ExpireInterval  time.Duration `env:"PEERLINE_EXPIRE_INTERVAL" envDefault:"5m"`
	ExpireAfter     time.Duration `env:"PEERLINE_EXPIRE_AFTER" envDefault:"1h"`
	AbandonInterval time.Duration `env:"PEERLINE_ABANDON_INTERVAL" envDefault:"10m"`
	AbandonAfter    time.Duration `env:"PEERLINE_ABANDON_AFTER" envDefault:"10m"`
	PurgeInterval   time.Duration `env:"PEERLINE_PURGE_INTERVAL" envDefault:"24h"`
	RetainFor       time.Duration `env:"PEERLINE_RETAIN_FOR" envDefault:"720h"`

	StatsInterval time.Duration `env:"PEERLINE_STATS_INTERVAL" envDefault:"15s"`

	// Collaborator endpoints. An empty content URL selects the deterministic
	// local fallback generator; an empty safety URL disables relay re-scoring.
	RoomServiceURL    string        `env:"PEERLINE_ROOM_SERVICE_URL" envDefault:"http://localhost:9200"`
	ContentServiceURL string        `env:"PEERLINE_CONTENT_SERVICE_URL"`
	SafetyServiceURL  string        `env:"PEERLINE_SAFETY_SERVICE_URL"`
	CollabTimeout     time.Duration `env:"PEERLINE_COLLAB_TIMEOUT" envDefault:"15s"`

	// AMQP audit stream. Empty URL disables publishing.
	AMQPURL      string `env:"PEERLINE_AMQP_URL"`
	AMQPExchange string `env:"PEERLINE_AMQP_EXCHANGE" envDefault:"peerline.events"`

	LogLevel  string `env:"PEERLINE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PEERLINE_LOG_FORMAT" envDefault:"text"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without consulting the
// environment. Used by tests.
func Default() *Config {
	return &Config{
		HTTPHost:         "0.0.0.0",
		HTTPPort:         8080,
		HTTPReadTimeout:  30 * time.Second,
		HTTPWriteTimeout: 30 * time.Second,
		WSPingInterval:   30 * time.Second,
		WSReadTimeout:    60 * time.Second,
		WSWriteTimeout:   10 * time.Second,
		DatabasePath:     "./data/peerline.db",
		DatabaseTimeout:  30 * time.Second,
		ExpireInterval:   5 * time.Minute,
		ExpireAfter:      time.Hour,
		AbandonInterval:  10 * time.Minute,
		AbandonAfter:     10 * time.Minute,
		PurgeInterval:    24 * time.Hour,
		RetainFor:        720 * time.Hour,
		StatsInterval:    15 * time.Second,
		RoomServiceURL:   "http://localhost:9200",
		CollabTimeout:    15 * time.Second,
		AMQPExchange:     "peerline.events",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTPHost == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTPReadTimeout <= 0 || c.HTTPWriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WSPingInterval <= 0 || c.WSReadTimeout <= 0 || c.WSWriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WSReadTimeout <= c.WSPingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.DatabaseTimeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.ExpireInterval <= 0 || c.AbandonInterval <= 0 || c.PurgeInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	if c.ExpireAfter <= c.AbandonAfter {
		return fmt.Errorf("expire window must exceed abandon window")
	}
	if c.RetainFor <= c.ExpireAfter {
		return fmt.Errorf("retention window must exceed expire window")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be positive")
	}
	if c.RoomServiceURL == "" {
		return fmt.Errorf("room service URL cannot be empty: room provisioning has no fallback")
	}
	if c.CollabTimeout <= 0 {
		return fmt.Errorf("collaborator timeout must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}
