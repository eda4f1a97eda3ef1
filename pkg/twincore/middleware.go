package twincore

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogEntry is one served request as shown by /admin/requests.
type RequestLogEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	StatusCode int               `json:"status_code"`
	Duration   time.Duration     `json:"duration_ms"`
	RequestID  string            `json:"request_id,omitempty"`
	IfMatch    string            `json:"if_match,omitempty"`
	Token      bool              `json:"token,omitempty"` // a Post-Token header was presented
	ETag       string            `json:"etag,omitempty"`  // ETag of the response
	Headers    map[string]string `json:"headers,omitempty"`
}

// RequestLog keeps the most recent entries in a fixed-size ring.
type RequestLog struct {
	mu   sync.Mutex
	buf  []RequestLogEntry
	next int
	full bool
}

// NewRequestLog creates a request log holding up to size entries.
func NewRequestLog(size int) *RequestLog {
	if size < 1 {
		size = 1
	}
	return &RequestLog{buf: make([]RequestLogEntry, size)}
}

// Add records an entry, overwriting the oldest once full.
func (rl *RequestLog) Add(entry RequestLogEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.buf[rl.next] = entry
	rl.next = (rl.next + 1) % len(rl.buf)
	if rl.next == 0 {
		rl.full = true
	}
}

// Entries returns a copy of the log, oldest first.
func (rl *RequestLog) Entries() []RequestLogEntry {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.full {
		return append([]RequestLogEntry(nil), rl.buf[:rl.next]...)
	}
	out := make([]RequestLogEntry, 0, len(rl.buf))
	out = append(out, rl.buf[rl.next:]...)
	return append(out, rl.buf[:rl.next]...)
}

// Clear empties the log.
func (rl *RequestLog) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.buf)
	rl.next, rl.full = 0, false
}

// FaultConfig is an injected fault. A fault registered for a collection path
// such as /tasks also covers /tasks/{id}; Method narrows it to one verb.
type FaultConfig struct {
	StatusCode int           `json:"status_code"`
	Body       string        `json:"body,omitempty"`
	Delay      time.Duration `json:"delay_ms,omitempty"`
	Rate       float64       `json:"rate"` // 0.0-1.0
	Method     string        `json:"method,omitempty"`
}

// FaultRegistry holds injected faults keyed by path.
type FaultRegistry struct {
	mu     sync.RWMutex
	faults map[string]FaultConfig
}

// NewFaultRegistry creates an empty registry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{faults: make(map[string]FaultConfig)}
}

// Set registers a fault for p, replacing any existing one. A zero rate
// means always.
func (fr *FaultRegistry) Set(p string, fault FaultConfig) {
	if fault.Rate == 0 {
		fault.Rate = 1.0
	}
	fault.Method = strings.ToUpper(fault.Method)
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.faults[path.Clean(p)] = fault
}

// Remove deletes the fault for p and reports whether there was one.
func (fr *FaultRegistry) Remove(p string) bool {
	p = path.Clean(p)
	fr.mu.Lock()
	defer fr.mu.Unlock()
	_, ok := fr.faults[p]
	delete(fr.faults, p)
	return ok
}

// Check returns the fault that fires for a request, or nil. The most
// specific registered path wins: /tasks/3 is tried before /tasks.
func (fr *FaultRegistry) Check(method, p string) *FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	if len(fr.faults) == 0 {
		return nil
	}
	for p = path.Clean(p); ; p = path.Dir(p) {
		if f, ok := fr.faults[p]; ok && (f.Method == "" || f.Method == method) {
			if f.Rate >= 1.0 || rand.Float64() < f.Rate {
				return &f
			}
			return nil
		}
		if p == "/" || p == "." {
			return nil
		}
	}
}

// All returns a copy of the registered faults.
func (fr *FaultRegistry) All() map[string]FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	out := make(map[string]FaultConfig, len(fr.faults))
	for k, v := range fr.faults {
		out[k] = v
	}
	return out
}

// Reset removes every fault.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	clear(fr.faults)
}

// Middleware bundles the server's middleware and the state it records.
type Middleware struct {
	cfg    *Config
	logger *slog.Logger
	ReqLog *RequestLog
	Faults *FaultRegistry
}

// NewMiddleware creates the middleware set. A nil logger falls back to
// slog.Default.
func NewMiddleware(cfg *Config, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		cfg:    cfg,
		logger: logger,
		ReqLog: NewRequestLog(1000),
		Faults: NewFaultRegistry(),
	}
}

// controlPlane reports whether a request targets the admin or metrics
// endpoints, which simulated latency and failures leave alone.
func controlPlane(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/admin/") || r.URL.Path == "/metrics"
}

// CORS allows any origin. Browsers need ETag and Location exposed and
// If-Match and Post-Token allowed to drive conditional writes.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, If-Match, Post-Token")
		h.Set("Access-Control-Expose-Headers", "ETag, Location")
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the status and ETag a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	etag       string
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.etag = sr.Header().Get("ETag")
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLog records every request in ReqLog. Full headers are kept only
// when verbose.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := RequestLogEntry{
			Timestamp:  start,
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: rec.statusCode,
			Duration:   time.Since(start),
			RequestID:  chimw.GetReqID(r.Context()),
			IfMatch:    r.Header.Get("If-Match"),
			Token:      r.Header.Get("Post-Token") != "",
			ETag:       rec.etag,
		}
		verbose := m.cfg.verbose()
		if verbose {
			entry.Headers = make(map[string]string, len(r.Header))
			for k := range r.Header {
				entry.Headers[k] = r.Header.Get(k)
			}
		}
		m.ReqLog.Add(entry)

		if verbose {
			m.logger.Debug("request",
				"method", entry.Method,
				"path", entry.Path,
				"status", entry.StatusCode,
				"duration", entry.Duration,
				"request_id", entry.RequestID,
			)
		}
	})
}

// LatencyInjection delays API requests by 80-120% of the configured latency.
func (m *Middleware) LatencyInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if latency := m.cfg.latency(); latency > 0 && !controlPlane(r) {
			time.Sleep(time.Duration(float64(latency) * (0.8 + rand.Float64()*0.4)))
		}
		next.ServeHTTP(w, r)
	})
}

// RandomFailure fails API requests with 500 at the configured rate.
func (m *Middleware) RandomFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rate := m.cfg.failRate(); rate > 0 && !controlPlane(r) && rand.Float64() < rate {
			Error(w, http.StatusInternalServerError, "simulated random failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FaultInjection applies registered faults. Mount it on the resource routes
// only.
func (m *Middleware) FaultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fault := m.Faults.Check(r.Method, r.URL.Path)
		if fault == nil {
			next.ServeHTTP(w, r)
			return
		}
		if fault.Delay > 0 {
			time.Sleep(fault.Delay)
		}
		if fault.StatusCode == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if fault.Body == "" {
			Error(w, fault.StatusCode, "injected fault")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fault.StatusCode)
		fmt.Fprint(w, fault.Body)
	})
}
