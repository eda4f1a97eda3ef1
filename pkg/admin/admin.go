// Package admin provides the /admin/* control plane: state management, fault
// injection, request inspection, simulated time and token ledger inspection.
package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/taskjournal/pkg/store"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
)

// StateStore is the server state behind /admin/state and /admin/reset.
type StateStore interface {
	// Snapshot returns the full state as a JSON-serializable value.
	Snapshot() any
	// LoadState replaces the full state from a JSON body. It either applies
	// completely or not at all.
	LoadState(data []byte) error
	// Reset reloads the configured seed.
	Reset()
}

// WebhookFlusher is implemented by the webhook dispatcher.
type WebhookFlusher interface {
	FlushWebhooks() error
}

// ConfigProvider exposes runtime configuration.
type ConfigProvider interface {
	GetConfig() map[string]any
	UpdateConfig(updates map[string]any) error
}

// TokenInspector reports on the write-token ledger.
type TokenInspector interface {
	Len() int
	Sweep() int
	TTL() time.Duration
}

// Handler serves the admin endpoints. Optional collaborators are attached
// with the Set methods; their endpoints answer 404 until then.
type Handler struct {
	state   StateStore
	mw      *twincore.Middleware
	clock   *store.Clock
	flusher WebhookFlusher
	config  ConfigProvider
	tokens  TokenInspector
}

// NewHandler creates an admin handler. clock may be nil.
func NewHandler(state StateStore, mw *twincore.Middleware, clock *store.Clock) *Handler {
	return &Handler{state: state, mw: mw, clock: clock}
}

// SetFlusher enables /admin/webhooks/flush.
func (h *Handler) SetFlusher(f WebhookFlusher) { h.flusher = f }

// SetConfigProvider enables /admin/config.
func (h *Handler) SetConfigProvider(c ConfigProvider) { h.config = c }

// SetTokenInspector enables /admin/tokens.
func (h *Handler) SetTokenInspector(t TokenInspector) { h.tokens = t }

// Routes mounts the admin endpoints under /admin.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/reset", h.reset)
		r.Get("/state", h.getState)
		r.Post("/state", h.loadState)

		r.Get("/faults", h.listFaults)
		r.Post("/fault/*", h.injectFault)
		r.Delete("/fault/*", h.removeFault)
		r.Get("/requests", h.requests)

		r.Get("/time", h.getTime)
		r.Post("/time/advance", h.advanceTime)

		r.Post("/webhooks/flush", h.flushWebhooks)
		r.Get("/config", h.getConfig)
		r.Put("/config", h.updateConfig)
		r.Patch("/config", h.updateConfig)
		r.Get("/tokens", h.getTokens)
		r.Post("/tokens/sweep", h.sweepTokens)
	})
}

func status(w http.ResponseWriter, s string, extra ...any) {
	body := map[string]any{"status": s}
	for i := 0; i+1 < len(extra); i += 2 {
		body[extra[i].(string)] = extra[i+1]
	}
	twincore.JSON(w, http.StatusOK, body)
}

func decode(w http.ResponseWriter, r *http.Request, what string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid "+what+": "+err.Error())
		return false
	}
	return true
}

func notConfigured(w http.ResponseWriter, what string) {
	twincore.Error(w, http.StatusNotFound, what+" not configured")
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status(w, "ok")
}

// reset restores the seed and clears every piece of simulation state.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	h.mw.ReqLog.Clear()
	h.mw.Faults.Reset()
	if h.clock != nil {
		h.clock.Reset()
	}
	status(w, "reset")
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *Handler) loadState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if err := h.state.LoadState(body); err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to load state: "+err.Error())
		return
	}
	status(w, "loaded")
}

// faultPath maps the wildcard to a request path, so /admin/fault/journals/3
// targets /journals/3.
func faultPath(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

func validateFault(f twincore.FaultConfig) error {
	if f.Rate < 0 || f.Rate > 1 {
		return fmt.Errorf("rate must be between 0.0 and 1.0")
	}
	if f.StatusCode != 0 && (f.StatusCode < 100 || f.StatusCode > 599) {
		return fmt.Errorf("status_code %d is not an HTTP status", f.StatusCode)
	}
	if f.StatusCode == 0 && f.Delay <= 0 {
		return fmt.Errorf("a fault needs a status_code or a delay")
	}
	switch strings.ToUpper(f.Method) {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return nil
	}
	return fmt.Errorf("unsupported method %q", f.Method)
}

func (h *Handler) injectFault(w http.ResponseWriter, r *http.Request) {
	var fault twincore.FaultConfig
	if !decode(w, r, "fault config", &fault) {
		return
	}
	if err := validateFault(fault); err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	endpoint := faultPath(r)
	h.mw.Faults.Set(endpoint, fault)
	status(w, "injected", "endpoint", endpoint, "fault", h.mw.Faults.All()[endpoint])
}

func (h *Handler) removeFault(w http.ResponseWriter, r *http.Request) {
	endpoint := faultPath(r)
	if !h.mw.Faults.Remove(endpoint) {
		twincore.Error(w, http.StatusNotFound, "no fault registered for "+endpoint)
		return
	}
	status(w, "removed", "endpoint", endpoint)
}

func (h *Handler) listFaults(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.mw.Faults.All())
}

// requests lists logged requests, optionally narrowed by method, status and
// path prefix query parameters.
func (h *Handler) requests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	method := strings.ToUpper(q.Get("method"))
	prefix := q.Get("path")
	code := 0
	if s := q.Get("status"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			twincore.Error(w, http.StatusBadRequest, "status must be an integer")
			return
		}
		code = n
	}

	out := []twincore.RequestLogEntry{}
	for _, e := range h.mw.ReqLog.Entries() {
		if method != "" && e.Method != method {
			continue
		}
		if code != 0 && e.StatusCode != code {
			continue
		}
		if prefix != "" && !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		out = append(out, e)
	}
	twincore.JSON(w, http.StatusOK, out)
}

func (h *Handler) timeBody() map[string]any {
	body := map[string]any{"real": time.Now().Format(time.RFC3339)}
	if h.clock != nil {
		body["simulated"] = h.clock.Now().Format(time.RFC3339)
		body["offset"] = h.clock.Offset().String()
	}
	return body
}

func (h *Handler) getTime(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.timeBody())
}

// advanceTime moves the simulated clock, which is what expires write tokens.
func (h *Handler) advanceTime(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		twincore.Error(w, http.StatusBadRequest, "simulated clock not configured")
		return
	}
	var req struct {
		Duration string `json:"duration"`
	}
	if !decode(w, r, "request", &req) {
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}

	h.clock.Advance(d)
	body := h.timeBody()
	body["status"] = "advanced"
	body["duration"] = d.String()
	twincore.JSON(w, http.StatusOK, body)
}

func (h *Handler) flushWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.flusher == nil {
		status(w, "no webhooks configured")
		return
	}
	if err := h.flusher.FlushWebhooks(); err != nil {
		twincore.Error(w, http.StatusInternalServerError, "flush failed: "+err.Error())
		return
	}
	status(w, "flushed")
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		notConfigured(w, "config provider")
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		notConfigured(w, "config provider")
		return
	}
	var updates map[string]any
	if !decode(w, r, "config", &updates) {
		return
	}
	if err := h.config.UpdateConfig(updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}

func (h *Handler) getTokens(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		notConfigured(w, "token ledger")
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]any{
		"outstanding": h.tokens.Len(),
		"ttl":         h.tokens.TTL().String(),
	})
}

func (h *Handler) sweepTokens(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		notConfigured(w, "token ledger")
		return
	}
	removed := h.tokens.Sweep()
	status(w, "swept", "swept", removed, "outstanding", h.tokens.Len())
}
