// Package config loads the taskjournal server configuration from defaults,
// an optional YAML file, TASKJOURNAL_* environment variables and explicitly
// set command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	Tokens     TokensConfig     `koanf:"tokens"`
	Pagination PaginationConfig `koanf:"pagination"`
}

// ServerConfig configures the HTTP listener and its simulation knobs.
type ServerConfig struct {
	Port     int           `koanf:"port"`
	Latency  time.Duration `koanf:"latency"`
	FailRate float64       `koanf:"fail_rate"`
	Verbose  bool          `koanf:"verbose"`
	SeedFile string        `koanf:"seed_file"`
	Empty    bool          `koanf:"empty"`
}

// WebhookConfig configures change notifications. An empty URL disables
// delivery; events are still queued for inspection.
type WebhookConfig struct {
	URL        string        `koanf:"url"`
	Secret     string        `koanf:"secret"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// TokensConfig configures the write-token ledger and the issuance limiter.
type TokensConfig struct {
	TTL    time.Duration `koanf:"ttl"`
	Length int           `koanf:"length"`
	Rate   float64       `koanf:"rate"`  // issuances per second per client; 0 disables limiting
	Burst  int           `koanf:"burst"`
}

// PaginationConfig configures list defaults.
type PaginationConfig struct {
	PerPage int `koanf:"per_page"`
}

// Defaults returns the flattened default values.
func Defaults() map[string]any {
	return map[string]any{
		"server.port":         8080,
		"server.latency":      time.Duration(0),
		"server.fail_rate":    0.0,
		"server.verbose":      false,
		"server.seed_file":    "",
		"server.empty":        false,
		"webhook.url":         "",
		"webhook.secret":      "",
		"webhook.max_retries": 3,
		"webhook.retry_delay": time.Second,
		"tokens.ttl":          3 * time.Minute,
		"tokens.length":       32,
		"tokens.rate":         10.0,
		"tokens.burst":        20,
		"pagination.per_page": 5,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Latency < 0 {
		errs = append(errs, errors.New("server.latency must not be negative"))
	}
	if c.Server.FailRate < 0 || c.Server.FailRate > 1 {
		errs = append(errs, fmt.Errorf("server.fail_rate %v must be between 0.0 and 1.0", c.Server.FailRate))
	}
	if c.Webhook.MaxRetries < 1 {
		errs = append(errs, errors.New("webhook.max_retries must be at least 1"))
	}
	if c.Tokens.TTL <= 0 {
		errs = append(errs, errors.New("tokens.ttl must be positive"))
	}
	if c.Tokens.Length < 8 {
		errs = append(errs, errors.New("tokens.length must be at least 8"))
	}
	if c.Tokens.Rate < 0 {
		errs = append(errs, errors.New("tokens.rate must not be negative"))
	}
	if c.Tokens.Rate > 0 && c.Tokens.Burst < 1 {
		errs = append(errs, errors.New("tokens.burst must be at least 1 when rate limiting is enabled"))
	}
	if c.Pagination.PerPage < 1 {
		errs = append(errs, errors.New("pagination.per_page must be at least 1"))
	}
	return errors.Join(errs...)
}
