package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	PairingAPIURL            string  `env:"PAIRING_API_URL,required"`
	PairingAPIKey            string  `env:"PAIRING_API_KEY"`
	PairingAPITimeoutSeconds int     `env:"PAIRING_API_TIMEOUT_SECONDS" envDefault:"10"`
	PairingAPIRatePerSecond  float64 `env:"PAIRING_API_RATE_PER_SECOND" envDefault:"5"`
	PairingPollRatePerSecond float64 `env:"PAIRING_API_POLL_RATE_PER_SECOND" envDefault:"10"`

	PairingPollIntervalMs     int `env:"PAIRING_POLL_INTERVAL_MS" envDefault:"3000"`
	PairingDisplayDelayMs     int `env:"PAIRING_DISPLAY_DELAY_MS" envDefault:"2000"`
	PairingIdleTimeoutSeconds int `env:"PAIRING_IDLE_TIMEOUT_SECONDS" envDefault:"600"`
	PairingStartsPerMinute    int `env:"PAIRING_STARTS_PER_MINUTE" envDefault:"6"`
	PairingRetentionDays      int `env:"PAIRING_RETENTION_DAYS" envDefault:"30"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) PairingAPITimeout() time.Duration {
	return time.Duration(c.PairingAPITimeoutSeconds) * time.Second
}

func (c *Config) PairingPollInterval() time.Duration {
	return time.Duration(c.PairingPollIntervalMs) * time.Millisecond
}

func (c *Config) PairingDisplayDelay() time.Duration {
	return time.Duration(c.PairingDisplayDelayMs) * time.Millisecond
}

func (c *Config) PairingIdleTimeout() time.Duration {
	return time.Duration(c.PairingIdleTimeoutSeconds) * time.Second
}

func (c *Config) PairingRetention() time.Duration {
	return time.Duration(c.PairingRetentionDays) * 24 * time.Hour
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.PairingAPIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PAIRING_API_URL must be an absolute http(s) URL")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"PAIRING_API_TIMEOUT_SECONDS", c.PairingAPITimeoutSeconds},
		{"PAIRING_POLL_INTERVAL_MS", c.PairingPollIntervalMs},
		{"PAIRING_DISPLAY_DELAY_MS", c.PairingDisplayDelayMs},
		{"PAIRING_IDLE_TIMEOUT_SECONDS", c.PairingIdleTimeoutSeconds},
		{"PAIRING_STARTS_PER_MINUTE", c.PairingStartsPerMinute},
		{"PAIRING_RETENTION_DAYS", c.PairingRetentionDays},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.PairingAPIRatePerSecond <= 0 {
		return fmt.Errorf("PAIRING_API_RATE_PER_SECOND must be positive")
	}
	if c.PairingPollRatePerSecond <= 0 {
		return fmt.Errorf("PAIRING_API_POLL_RATE_PER_SECOND must be positive")
	}
	if c.PairingPollIntervalMs < MinPollIntervalMs {
		return fmt.Errorf("PAIRING_POLL_INTERVAL_MS must be at least %d", MinPollIntervalMs)
	}

	if c.IsProduction() {
		if c.PairingAPIKey == "" {
			return fmt.Errorf("PAIRING_API_KEY is required in production")
		}
		if u.Scheme != "https" {
			log.Warn().Msg("PAIRING_API_URL is not https in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
