package config

import "github.com/wondertwin-ai/taskjournal/pkg/twincore"

// FlagOverrides returns the dotted-key values of the flags given explicitly
// on the command line. Unset flags are left to the lower layers.
func FlagOverrides(fc *twincore.Config) map[string]any {
	out := make(map[string]any)
	set := func(flag, key string, v any) {
		if fc.IsSet(flag) {
			out[key] = v
		}
	}
	set("port", "server.port", fc.Port)
	set("latency", "server.latency", fc.Latency)
	set("fail-rate", "server.fail_rate", fc.FailRate)
	set("verbose", "server.verbose", fc.Verbose)
	set("seed-file", "server.seed_file", fc.SeedFile)
	set("empty", "server.empty", fc.Empty)
	set("webhook-url", "webhook.url", fc.WebhookURL)
	return out
}

// Apply copies the resolved server settings back onto the flag config that
// the HTTP layer reads at runtime.
func (c *Config) Apply(fc *twincore.Config) {
	fc.Port = c.Server.Port
	fc.Latency = c.Server.Latency
	fc.FailRate = c.Server.FailRate
	fc.Verbose = c.Server.Verbose
	fc.SeedFile = c.Server.SeedFile
	fc.Empty = c.Server.Empty
	fc.WebhookURL = c.Webhook.URL
}
