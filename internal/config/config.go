// Package config loads the engine's runtime configuration from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pledgefund/backend/internal/allocation"
)

// Config holds every runtime knob for the pledge engine. Amounts are integer
// minor units.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"PLEDGEFUND_ADDR" envDefault:":8080"`

	// DBPath is the SQLite database file.
	DBPath string `env:"PLEDGEFUND_DB_PATH" envDefault:"data/pledgefund.db"`

	// GatewayURL is the payment gateway base URL. Empty selects the
	// in-memory fake, which is only acceptable outside production.
	GatewayURL     string        `env:"PLEDGEFUND_GATEWAY_URL"`
	GatewayAPIKey  string        `env:"PLEDGEFUND_GATEWAY_API_KEY"`
	GatewayTimeout time.Duration `env:"PLEDGEFUND_GATEWAY_TIMEOUT" envDefault:"10s"`

	// Parallelism bounds concurrent pledge executions during resolution.
	Parallelism int `env:"PLEDGEFUND_PARALLELISM" envDefault:"8"`

	// MaxRetries bounds transient gateway retries per charge.
	MaxRetries    uint64        `env:"PLEDGEFUND_MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"PLEDGEFUND_RETRY_INTERVAL" envDefault:"500ms"`

	// FeeFixed and FeeBps define the processing fee schedule: a fixed
	// amount plus basis points of the charge.
	FeeFixed int64 `env:"PLEDGEFUND_FEE_FIXED" envDefault:"20"`
	FeeBps   int64 `env:"PLEDGEFUND_FEE_BPS" envDefault:"900"`

	// MaxPledge caps a single pledge amount. Zero disables the cap.
	MaxPledge int64 `env:"PLEDGEFUND_MAX_PLEDGE" envDefault:"500000"`

	// JWTSecret signs operator tokens for the resolve endpoint.
	JWTSecret string `env:"PLEDGEFUND_JWT_SECRET,required"`

	// TokenTTL bounds operator token lifetime.
	TokenTTL time.Duration `env:"PLEDGEFUND_TOKEN_TTL" envDefault:"12h"`

	LogLevel string `env:"PLEDGEFUND_LOG_LEVEL" envDefault:"info"`
}

// Fees returns the configured fee schedule.
func (c *Config) Fees() allocation.FeeSchedule {
	return allocation.FeeSchedule{Fixed: c.FeeFixed, Bps: c.FeeBps}
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.FeeBps < 0 || cfg.FeeBps >= 10000 {
		return nil, fmt.Errorf("fee basis points out of range: %d", cfg.FeeBps)
	}
	if cfg.FeeFixed < 0 {
		return nil, fmt.Errorf("fixed fee must not be negative: %d", cfg.FeeFixed)
	}
	return &cfg, nil
}
