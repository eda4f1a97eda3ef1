// taskjournal serves two in-memory collections, journals and tasks, with
// etag-guarded updates and single-use write tokens.
//
// Default port: 8080
package main

import (
	"log"
	"net/http"

	"github.com/wondertwin-ai/taskjournal/internal/api"
	"github.com/wondertwin-ai/taskjournal/internal/config"
	"github.com/wondertwin-ai/taskjournal/internal/metrics"
	"github.com/wondertwin-ai/taskjournal/internal/store"
	"github.com/wondertwin-ai/taskjournal/pkg/admin"
	"github.com/wondertwin-ai/taskjournal/pkg/token"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
	"github.com/wondertwin-ai/taskjournal/pkg/webhook"
)

func main() {
	flags := twincore.ParseFlags("taskjournal")
	cfg, err := config.NewLoader(
		config.WithConfigFile(flags.ConfigFile),
		config.WithOverrides(config.FlagOverrides(flags)),
	).Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Apply(flags)

	twin := twincore.New(flags)

	seed, err := initialSeed(cfg.Server)
	if err != nil {
		log.Fatalf("failed to load seed data: %v", err)
	}
	memStore := store.New(seed,
		token.WithTTL(cfg.Tokens.TTL),
		token.WithLength(cfg.Tokens.Length),
	)

	hooks := webhook.NewDispatcher(webhook.Config{
		URL:        cfg.Webhook.URL,
		Secret:     cfg.Webhook.Secret,
		Logger:     twin.Logger,
		MaxRetries: cfg.Webhook.MaxRetries,
		RetryDelay: cfg.Webhook.RetryDelay,
		Now:        memStore.Clock.Now,
	})
	twin.OnConfigUpdate = func(c *twincore.Config) {
		hooks.SetURL(c.CurrentWebhookURL())
	}

	reg := metrics.NewRegistry()
	reg.TrackCollection("journals", memStore.Journals.Count)
	reg.TrackCollection("tasks", memStore.Tasks.Count)
	reg.TrackTokens(memStore.Tokens.Len)
	twin.Router.Use(reg.Middleware)

	apiHandler := api.NewHandler(memStore, twin.Middleware(), api.Options{
		Webhooks:   hooks,
		Metrics:    reg,
		Logger:     twin.Logger,
		PerPage:    cfg.Pagination.PerPage,
		TokenRate:  cfg.Tokens.Rate,
		TokenBurst: cfg.Tokens.Burst,
	})
	apiHandler.Routes(twin.Router)
	twin.Router.Method(http.MethodGet, "/metrics", reg.Handler())

	adminHandler := admin.NewHandler(&serverState{
		MemoryStore: memStore,
		hooks:       hooks,
		api:         apiHandler,
	}, twin.Middleware(), memStore.Clock)
	adminHandler.SetFlusher(hooks)
	adminHandler.SetConfigProvider(twin)
	adminHandler.SetTokenInspector(memStore.Tokens)
	adminHandler.Routes(twin.Router)

	twin.Logger.Info("taskjournal ready",
		"port", flags.Port,
		"journals", memStore.Journals.Count(),
		"tasks", memStore.Tasks.Count(),
		"token_ttl", cfg.Tokens.TTL.String(),
	)

	if err := twin.Serve(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func initialSeed(sc config.ServerConfig) (store.Seed, error) {
	switch {
	case sc.SeedFile != "":
		return store.LoadSeedFile(sc.SeedFile)
	case sc.Empty:
		return store.Seed{}, nil
	default:
		return store.DefaultSeed(), nil
	}
}

// serverState extends the store's admin reset to the webhook queue and the
// token issuance limiters.
type serverState struct {
	*store.MemoryStore
	hooks *webhook.Dispatcher
	api   *api.Handler
}

func (s *serverState) Reset() {
	s.MemoryStore.Reset()
	s.hooks.Reset()
	s.api.ResetLimiters()
}
