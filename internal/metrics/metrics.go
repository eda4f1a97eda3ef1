// Package metrics exposes Prometheus metrics for the store, the token ledger
// and the HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskjournal"

// Operation outcomes.
const (
	OutcomeOK                   = "ok"
	OutcomeNotFound             = "not_found"
	OutcomePreconditionRequired = "precondition_required"
	OutcomePreconditionFailed   = "precondition_failed"
	OutcomeNothingToUpdate      = "nothing_to_update"
	OutcomeBadRequest           = "bad_request"
	OutcomeError                = "error"
)

// Registry holds all application metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	operations      *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	merges          prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRegistry creates the metrics and registers them, together with the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations by collection, operation and outcome",
		}, []string{"collection", "op", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "events_total",
			Help:      "Token issuance and redemption events by outcome",
		}, []string{"outcome"}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "task_merges_total",
			Help:      "Completed task merges",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r.reg.MustRegister(
		r.operations,
		r.tokens,
		r.merges,
		r.requests,
		r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer returns the underlying registry for inspection.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// TrackCollection registers a gauge that reports the size of a collection
// at scrape time.
func (r *Registry) TrackCollection(name string, count func() int) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "store",
		Name:        "entries",
		Help:        "Number of resources currently stored",
		ConstLabels: prometheus.Labels{"collection": name},
	}, func() float64 { return float64(count()) }))
}

// TrackTokens registers a gauge that reports outstanding tokens at scrape time.
func (r *Registry) TrackTokens(outstanding func() int) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "outstanding",
		Help:      "Issued tokens not yet redeemed or swept",
	}, func() float64 { return float64(outstanding()) }))
}

// ObserveOperation counts one store operation.
func (r *Registry) ObserveOperation(collection, op, outcome string) {
	r.operations.WithLabelValues(collection, op, outcome).Inc()
}

// ObserveToken counts one token event, e.g. "issued", "valid", "expired".
func (r *Registry) ObserveToken(outcome string) {
	r.tokens.WithLabelValues(outcome).Inc()
}

// ObserveMerge counts a completed task merge.
func (r *Registry) ObserveMerge() {
	r.merges.Inc()
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so /journals/3 and /journals/4 share a series.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.requestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
