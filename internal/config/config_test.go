package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskjournal.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader(WithEnvPrefix("TJTEST_DEFAULTS_")).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Tokens.TTL != 3*time.Minute {
		t.Errorf("expected 3m ttl, got %v", cfg.Tokens.TTL)
	}
	if cfg.Tokens.Length != 32 {
		t.Errorf("expected 32 character tokens, got %d", cfg.Tokens.Length)
	}
	if cfg.Pagination.PerPage != 5 {
		t.Errorf("expected per_page 5, got %d", cfg.Pagination.PerPage)
	}
	if cfg.Webhook.MaxRetries != 3 || cfg.Webhook.RetryDelay != time.Second {
		t.Errorf("unexpected webhook defaults: %+v", cfg.Webhook)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
  latency: 25ms
  fail_rate: 0.1
tokens:
  ttl: 90s
  rate: 0
pagination:
  per_page: 20
webhook:
  url: http://hooks.local/in
  secret: s3cret
`)

	cfg, err := NewLoader(WithConfigFile(path), WithEnvPrefix("TJTEST_FILE_")).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.Latency != 25*time.Millisecond || cfg.Server.FailRate != 0.1 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Tokens.TTL != 90*time.Second || cfg.Tokens.Rate != 0 {
		t.Errorf("unexpected tokens config: %+v", cfg.Tokens)
	}
	// Keys the file leaves out keep their defaults.
	if cfg.Tokens.Burst != 20 {
		t.Errorf("expected default burst, got %d", cfg.Tokens.Burst)
	}
	if cfg.Pagination.PerPage != 20 {
		t.Errorf("expected per_page 20, got %d", cfg.Pagination.PerPage)
	}
	if cfg.Webhook.URL != "http://hooks.local/in" || cfg.Webhook.Secret != "s3cret" {
		t.Errorf("unexpected webhook config: %+v", cfg.Webhook)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := NewLoader(WithConfigFile("/nonexistent/taskjournal.yaml")).Load()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9000\n  fail_rate: 0.1\n")
	t.Setenv("TJTEST_ENV_SERVER_PORT", "9100")
	t.Setenv("TJTEST_ENV_SERVER_FAIL_RATE", "0.5")
	t.Setenv("TJTEST_ENV_PAGINATION_PER_PAGE", "7")
	t.Setenv("TJTEST_ENV_TOKENS_TTL", "10m")

	l := NewLoader(WithConfigFile(path), WithEnvPrefix("TJTEST_ENV_"))
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("expected env port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Server.FailRate != 0.5 {
		t.Errorf("expected env fail rate 0.5, got %v", cfg.Server.FailRate)
	}
	if cfg.Pagination.PerPage != 7 {
		t.Errorf("expected env per_page 7, got %d", cfg.Pagination.PerPage)
	}
	if cfg.Tokens.TTL != 10*time.Minute {
		t.Errorf("expected env ttl 10m, got %v", cfg.Tokens.TTL)
	}
	if l.Get("server.fail_rate") != "0.5" {
		t.Errorf("expected raw env value under server.fail_rate, got %v", l.Get("server.fail_rate"))
	}
}

func TestLoadOverridesWin(t *testing.T) {
	t.Setenv("TJTEST_OVR_SERVER_PORT", "9100")

	cfg, err := NewLoader(
		WithEnvPrefix("TJTEST_OVR_"),
		WithOverrides(map[string]any{"server.port": 9200, "server.latency": 5 * time.Millisecond}),
	).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("expected override port 9200, got %d", cfg.Server.Port)
	}
	if cfg.Server.Latency != 5*time.Millisecond {
		t.Errorf("expected override latency, got %v", cfg.Server.Latency)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "server:\n  fail_rate: 2\npagination:\n  per_page: 0\n")

	_, err := NewLoader(WithConfigFile(path), WithEnvPrefix("TJTEST_INVALID_")).Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"fail_rate", "per_page"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in error, got %v", want, err)
		}
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:     ServerConfig{Port: 8080},
			Webhook:    WebhookConfig{MaxRetries: 1},
			Tokens:     TokensConfig{TTL: time.Minute, Length: 32, Rate: 1, Burst: 1},
			Pagination: PaginationConfig{PerPage: 5},
		}
	}

	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"latency", func(c *Config) { c.Server.Latency = -time.Second }},
		{"ttl", func(c *Config) { c.Tokens.TTL = 0 }},
		{"length", func(c *Config) { c.Tokens.Length = 4 }},
		{"rate", func(c *Config) { c.Tokens.Rate = -1 }},
		{"burst", func(c *Config) { c.Tokens.Burst = 0 }},
		{"retries", func(c *Config) { c.Webhook.MaxRetries = 0 }},
	}
	for _, tt := range tests {
		c := base()
		tt.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestFlagOverrides(t *testing.T) {
	fs := flag.NewFlagSet("taskjournal", flag.ContinueOnError)
	fc := twincore.ParseFlagSet(fs, "taskjournal", []string{"-port", "7000", "-empty", "-webhook-url", "http://h"})

	got := FlagOverrides(fc)
	if got["server.port"] != 7000 || got["server.empty"] != true || got["webhook.url"] != "http://h" {
		t.Errorf("unexpected overrides: %+v", got)
	}
	if _, ok := got["server.latency"]; ok {
		t.Error("expected unset flags to be omitted")
	}
}

func TestApply(t *testing.T) {
	cfg, err := NewLoader(
		WithEnvPrefix("TJTEST_APPLY_"),
		WithOverrides(map[string]any{"server.fail_rate": 0.25, "webhook.url": "http://h"}),
	).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	fc := &twincore.Config{Name: "taskjournal"}
	cfg.Apply(fc)
	if fc.Port != 8080 || fc.FailRate != 0.25 || fc.WebhookURL != "http://h" {
		t.Errorf("unexpected applied config: port=%d fail=%v url=%s", fc.Port, fc.FailRate, fc.WebhookURL)
	}
	if fc.CurrentWebhookURL() != "http://h" {
		t.Error("expected the webhook url to be visible through the accessor")
	}
}
