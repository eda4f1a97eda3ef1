// Package twincore provides the base HTTP server, CLI flags, middleware chain,
// and response helpers for the taskjournal API server.
package twincore

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Config holds the runtime server configuration. Latency, FailRate, Verbose
// and WebhookURL may change while serving; read them through the accessor
// methods.
type Config struct {
	Port       int
	Latency    time.Duration
	FailRate   float64
	WebhookURL string
	SeedFile   string
	ConfigFile string
	Empty      bool
	Verbose    bool
	Name       string // server name for logging

	mu  sync.RWMutex
	set map[string]bool
}

// ParseFlags parses common CLI flags and returns a Config.
func ParseFlags(name string) *Config {
	return ParseFlagSet(flag.CommandLine, name, os.Args[1:])
}

// ParseFlagSet parses args into a Config using fs. On parse failure the flag
// set's error handling policy applies.
func ParseFlagSet(fs *flag.FlagSet, name string, args []string) *Config {
	cfg := &Config{Name: name}
	fs.IntVar(&cfg.Port, "port", 0, "HTTP listen port (default: from config, then 8080)")
	fs.DurationVar(&cfg.Latency, "latency", 0, "Base simulated latency")
	fs.Float64Var(&cfg.FailRate, "fail-rate", 0.0, "Random failure rate 0.0-1.0")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", "", "URL to send change webhooks to")
	fs.StringVar(&cfg.SeedFile, "seed-file", "", "Path to YAML or JSON fixture for initial state")
	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to YAML config file")
	fs.BoolVar(&cfg.Empty, "empty", false, "Start with empty collections instead of the built-in seed")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable request/response logging")
	fs.Parse(args)

	cfg.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		cfg.set[f.Name] = true
	})

	if !cfg.set["port"] {
		if p := os.Getenv("PORT"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				cfg.Port = n
				cfg.set["port"] = true
			}
		}
	}

	return cfg
}

// IsSet reports whether the named flag was given explicitly.
func (c *Config) IsSet(name string) bool {
	return c.set[name]
}

func (c *Config) latency() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Latency
}

func (c *Config) failRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.FailRate
}

func (c *Config) verbose() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Verbose
}

// CurrentWebhookURL returns the webhook URL under the config lock.
func (c *Config) CurrentWebhookURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.WebhookURL
}

// NewLogger returns the JSON slog logger used by the server.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Twin is the base server. It wraps a chi router with common middleware and
// provides lifecycle management.
type Twin struct {
	Config *Config
	Router *chi.Mux
	Logger *slog.Logger
	mw     *Middleware

	// OnConfigUpdate is called after runtime config changes are applied.
	OnConfigUpdate func(*Config)
}

// New creates a new Twin with the given config.
func New(cfg *Config) *Twin {
	logger := NewLogger(os.Stdout, cfg.Verbose)

	r := chi.NewRouter()
	mw := NewMiddleware(cfg, logger)

	// Latency and failure middleware are always mounted; both check the
	// config on every request so runtime updates apply immediately.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)
	r.Use(mw.LatencyInjection)
	r.Use(mw.RandomFailure)

	return &Twin{
		Config: cfg,
		Router: r,
		Logger: logger,
		mw:     mw,
	}
}

// Middleware returns the middleware instance for external access (e.g., fault injection).
func (t *Twin) Middleware() *Middleware {
	return t.mw
}

// GetConfig returns the current runtime configuration as a map.
// This implements the admin.ConfigProvider interface.
func (t *Twin) GetConfig() map[string]any {
	c := t.Config
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]any{
		"name":        c.Name,
		"port":        c.Port,
		"latency":     c.Latency.String(),
		"fail_rate":   c.FailRate,
		"webhook_url": c.WebhookURL,
		"verbose":     c.Verbose,
	}
}

// runtimeSettings are the Config fields that can change while serving.
type runtimeSettings struct {
	latency    time.Duration
	failRate   float64
	verbose    bool
	webhookURL string
}

// runtimeSetters parse and apply one update key each. Keys missing here are
// rejected by UpdateConfig.
var runtimeSetters = map[string]func(rs *runtimeSettings, v any) error{
	"latency": func(rs *runtimeSettings, v any) error {
		s, ok := v.(string)
		if !ok {
			return errors.New("latency must be a duration string")
		}
		d, err := time.ParseDuration(s)
		switch {
		case err != nil:
			return fmt.Errorf("invalid latency duration: %w", err)
		case d < 0:
			return errors.New("latency must not be negative")
		}
		rs.latency = d
		return nil
	},
	"fail_rate": func(rs *runtimeSettings, v any) error {
		f, ok := v.(float64)
		if !ok {
			return errors.New("fail_rate must be a number")
		}
		if f < 0 || f > 1 {
			return errors.New("fail_rate must be between 0.0 and 1.0")
		}
		rs.failRate = f
		return nil
	},
	"verbose": func(rs *runtimeSettings, v any) error {
		b, ok := v.(bool)
		if !ok {
			return errors.New("verbose must be a boolean")
		}
		rs.verbose = b
		return nil
	},
	"webhook_url": func(rs *runtimeSettings, v any) error {
		s, ok := v.(string)
		if !ok {
			return errors.New("webhook_url must be a string")
		}
		rs.webhookURL = s
		return nil
	},
}

// UpdateConfig applies runtime changes from a JSON-decoded map. Only
// latency, fail_rate, verbose and webhook_url are accepted, and either every
// key applies or none does.
func (t *Twin) UpdateConfig(updates map[string]any) error {
	c := t.Config
	c.mu.RLock()
	next := runtimeSettings{c.Latency, c.FailRate, c.Verbose, c.WebhookURL}
	c.mu.RUnlock()

	for k, v := range updates {
		set, ok := runtimeSetters[k]
		if !ok {
			if k == "name" || k == "port" {
				return fmt.Errorf("%s cannot be changed at runtime", k)
			}
			return fmt.Errorf("unknown config key: %s", k)
		}
		if err := set(&next, v); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.Latency, c.FailRate, c.Verbose, c.WebhookURL = next.latency, next.failRate, next.verbose, next.webhookURL
	c.mu.Unlock()

	if t.OnConfigUpdate != nil {
		t.OnConfigUpdate(c)
	}
	return nil
}

// Serve runs the server until SIGINT or SIGTERM.
func (t *Twin) Serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return t.ServeContext(ctx)
}

// ServeContext listens on the configured port and serves until ctx is done,
// then drains in-flight requests for up to ten seconds.
func (t *Twin) ServeContext(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.Config.Port))
	if err != nil {
		t.Logger.Error("listen failed", "port", t.Config.Port, "err", err)
		return err
	}
	srv := &http.Server{
		Handler:      t.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	t.Logger.Info("starting server", "name", t.Config.Name, "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		t.Logger.Error("server error", "err", err)
		return err
	case <-ctx.Done():
	}

	t.Logger.Info("shutting down server", "name", t.Config.Name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP lets a Twin stand in for its router, mostly in tests.
func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.Router.ServeHTTP(w, r)
}
