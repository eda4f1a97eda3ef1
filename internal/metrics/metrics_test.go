package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
)

func family(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func counterValue(t *testing.T, r *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	f := family(t, r, name)
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		if labelsMatch(m, labels) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserveOperation(t *testing.T) {
	r := NewRegistry()
	r.ObserveOperation("tasks", "update", OutcomePreconditionFailed)
	r.ObserveOperation("tasks", "update", OutcomePreconditionFailed)
	r.ObserveOperation("journals", "create", OutcomeOK)

	got := counterValue(t, r, "taskjournal_store_operations_total",
		map[string]string{"collection": "tasks", "op": "update", "outcome": OutcomePreconditionFailed})
	if got != 2 {
		t.Errorf("expected 2 failed task updates, got %v", got)
	}
}

func TestObserveTokenAndMerge(t *testing.T) {
	r := NewRegistry()
	r.ObserveToken("issued")
	r.ObserveToken("expired")
	r.ObserveMerge()

	if got := counterValue(t, r, "taskjournal_tokens_events_total", map[string]string{"outcome": "expired"}); got != 1 {
		t.Errorf("expected 1 expired token, got %v", got)
	}
	if got := counterValue(t, r, "taskjournal_store_task_merges_total", nil); got != 1 {
		t.Errorf("expected 1 merge, got %v", got)
	}
}

func TestTrackCollection(t *testing.T) {
	r := NewRegistry()
	n := 3
	r.TrackCollection("journals", func() int { return n })
	r.TrackCollection("tasks", func() int { return 7 })
	r.TrackTokens(func() int { return 2 })

	n = 5
	f := family(t, r, "taskjournal_store_entries")
	if f == nil {
		t.Fatal("expected entries gauge")
	}
	for _, m := range f.GetMetric() {
		if labelsMatch(m, map[string]string{"collection": "journals"}) && m.GetGauge().GetValue() != 5 {
			t.Errorf("expected journals gauge 5, got %v", m.GetGauge().GetValue())
		}
	}
	tokens := family(t, r, "taskjournal_tokens_outstanding")
	if tokens == nil || tokens.GetMetric()[0].GetGauge().GetValue() != 2 {
		t.Error("expected outstanding tokens gauge of 2")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := NewRegistry()
	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/journals/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/journals/1", "/journals/2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	got := counterValue(t, r, "taskjournal_http_requests_total",
		map[string]string{"method": "GET", "route": "/journals/{id}", "status": "404"})
	if got != 2 {
		t.Errorf("expected 2 requests on one series, got %v", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	r := NewRegistry()
	r.ObserveOperation("tasks", "create", OutcomeOK)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `taskjournal_store_operations_total{collection="tasks",op="create",outcome="ok"} 1`) {
		t.Errorf("expected operation counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected runtime collector output")
	}
}
