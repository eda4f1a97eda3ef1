// Package api implements the journal and task HTTP handlers.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/taskjournal/internal/metrics"
	"github.com/wondertwin-ai/taskjournal/internal/store"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
	"github.com/wondertwin-ai/taskjournal/pkg/webhook"
)

// DefaultPerPage is the page size used when a list request omits per_page.
const DefaultPerPage = 5

// TokenHeader carries the write token on create and merge requests.
const TokenHeader = "Post-Token"

// Options configures optional collaborators. Nil Webhooks and Metrics are
// skipped.
type Options struct {
	Webhooks *webhook.Dispatcher
	Metrics  *metrics.Registry
	Logger   *slog.Logger
	PerPage  int

	// TokenRate is the per-client issuance rate in tokens per second. Zero
	// disables limiting.
	TokenRate  float64
	TokenBurst int
}

// Handler holds all API handler state.
type Handler struct {
	store    *store.MemoryStore
	mw       *twincore.Middleware
	webhooks *webhook.Dispatcher
	metrics  *metrics.Registry
	logger   *slog.Logger
	limiters *limiterRegistry
	perPage  int

	journals *resource[store.Journal]
	tasks    *resource[store.Task]
}

// NewHandler creates a new API handler.
func NewHandler(s *store.MemoryStore, mw *twincore.Middleware, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PerPage < 1 {
		opts.PerPage = DefaultPerPage
	}
	h := &Handler{
		store:    s,
		mw:       mw,
		webhooks: opts.Webhooks,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		limiters: newLimiterRegistry(opts.TokenRate, opts.TokenBurst),
		perPage:  opts.PerPage,
	}
	h.journals = newResource(h, "journals", "journal", s.Journals)
	h.tasks = newResource(h, "tasks", "task", s.Tasks)
	return h
}

// Routes mounts the token, journal, task and merge routes. Fault injection
// applies to all of them; admin routes are mounted separately.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.FaultInjection)

		r.Post("/tokens", h.IssueToken)

		r.Route("/journals", func(r chi.Router) {
			h.journals.routes(r)
		})

		r.Route("/tasks", func(r chi.Router) {
			h.tasks.routes(r)
			r.Patch("/{id}", h.PatchTask)
		})

		r.With(h.requireToken).Post("/task_merger", h.MergeTasks)
	})
}

// ResetLimiters forgets every per-client issuance limiter.
func (h *Handler) ResetLimiters() {
	h.limiters.Clear()
}

func (h *Handler) emit(eventType string, data any) {
	if h.webhooks != nil {
		h.webhooks.Enqueue(eventType, data)
	}
}

func (h *Handler) observe(collection, op string, err error) {
	if h.metrics != nil {
		h.metrics.ObserveOperation(collection, op, outcome(err))
	}
}

func (h *Handler) observeToken(result string) {
	if h.metrics != nil {
		h.metrics.ObserveToken(result)
	}
}

func clientKey(r *http.Request) string {
	return remoteHost(r.RemoteAddr)
}
