package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wondertwin-ai/taskjournal/pkg/token"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
)

// limiterRegistry holds one issuance limiter per client address.
type limiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterRegistry(perSecond float64, burst int) *limiterRegistry {
	if burst < 1 {
		burst = 1
	}
	return &limiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether key may issue another token now. A zero limit
// allows everything.
func (r *limiterRegistry) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}
	return r.getOrCreate(key).Allow()
}

func (r *limiterRegistry) getOrCreate(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(r.limit, r.burst)
	r.limiters[key] = limiter
	return limiter
}

// Clear removes all limiters.
func (r *limiterRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters = make(map[string]*rate.Limiter)
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// IssueToken handles POST /tokens
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !h.limiters.Allow(clientKey(r)) {
		h.observeToken("rate_limited")
		twincore.Error(w, http.StatusTooManyRequests, "Too many token requests")
		return
	}

	value, err := h.store.Tokens.Issue()
	if err != nil {
		h.logger.Error("token issue failed", "err", err)
		twincore.Error(w, http.StatusInternalServerError, "Error during token generation")
		return
	}
	h.observeToken("issued")
	twincore.Text(w, http.StatusCreated, value)
}

// requireToken consumes the Post-Token header before the request reaches a
// store. The ledger lock is released before the handler runs.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := r.Header.Get(TokenHeader)
		if value == "" {
			h.observeToken("missing")
			twincore.Error(w, http.StatusBadRequest, "Missing token")
			return
		}

		result := h.store.Tokens.Redeem(value)
		h.observeToken(result.String())
		if result != token.Valid {
			h.logger.Debug("token rejected", "path", r.URL.Path, "reason", result.String())
			twincore.Error(w, http.StatusBadRequest, "Bad token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
