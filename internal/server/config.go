// Package server provides the runtime configuration surface, loaded from
// environment variables with documented defaults.
package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/echo-relay/internal/store"
)

// RateLimitConfig bounds how many frames a single connection may submit
// per refill interval. Frames over the budget are dropped before dispatch.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// DatabaseConfig describes the MySQL endpoint backing the message store.
type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     int    `env:"PORT" envDefault:"3306"`
	User     string `env:"USER" envDefault:"chat"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"chat"`
	PoolSize int    `env:"POOL_SIZE" envDefault:"10"`
}

// Config holds the full server configuration.
type Config struct {
	// Port is the first port the listener tries; on a bind conflict it
	// walks upward one port at a time, BindRetries times, before failing.
	Port        int `env:"CHAT_PORT" envDefault:"3000"`
	BindRetries int `env:"BIND_RETRIES" envDefault:"5"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`

	// StoreTimeout bounds individual store calls. Zero disables the
	// deadline and store calls run to completion or failure.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"0"`

	RateLimit RateLimitConfig
	DB        DatabaseConfig `envPrefix:"DB_"`
}

// LoadConfig reads configuration from the environment, falling back to
// defaults for anything unset.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return sanitizeConfig(cfg), nil
}

// DefaultConfig returns the configuration used when no environment
// overrides are present. Intended for tests.
func DefaultConfig() Config {
	return sanitizeConfig(Config{
		Port:           3000,
		BindRetries:    5,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		DB: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     3306,
			User:     "chat",
			Name:     "chat",
			PoolSize: 10,
		},
	})
}

// sanitizeConfig replaces out-of-range values with workable defaults so a
// bad environment never produces a server that cannot accept traffic.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port <= 0 {
		cfg.Port = 3000
	}
	if cfg.BindRetries < 0 {
		cfg.BindRetries = 5
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.StoreTimeout < 0 {
		cfg.StoreTimeout = 0
	}
	if cfg.DB.PoolSize <= 0 {
		cfg.DB.PoolSize = 10
	}
	return cfg
}

// StoreConfig maps the database section onto the store package's config.
func (d DatabaseConfig) StoreConfig() store.Config {
	return store.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Name:     d.Name,
		PoolSize: d.PoolSize,
	}
}
