package twincore

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// ---------------------------------------------------------------------------
// RequestLog
// ---------------------------------------------------------------------------

func TestRequestLogRingBuffer(t *testing.T) {
	rl := NewRequestLog(3)

	for _, p := range []string{"/journals", "/tasks", "/tokens", "/task_merger", "/metrics"} {
		rl.Add(RequestLogEntry{Path: p})
	}

	entries := rl.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring buffer), got %d", len(entries))
	}
	want := []string{"/tokens", "/task_merger", "/metrics"}
	for i, p := range want {
		if entries[i].Path != p {
			t.Errorf("entry %d: expected %s, got %s", i, p, entries[i].Path)
		}
	}
}

func TestRequestLogEntriesReturnsCopy(t *testing.T) {
	rl := NewRequestLog(10)
	rl.Add(RequestLogEntry{Path: "/orig"})

	entries := rl.Entries()
	entries[0].Path = "/mutated"

	if rl.Entries()[0].Path != "/orig" {
		t.Error("Entries did not return a copy; mutation leaked")
	}
}

func TestRequestLogRingWrapsRepeatedly(t *testing.T) {
	rl := NewRequestLog(2)
	for i := 0; i < 7; i++ {
		rl.Add(RequestLogEntry{StatusCode: i})
	}
	entries := rl.Entries()
	if len(entries) != 2 || entries[0].StatusCode != 5 || entries[1].StatusCode != 6 {
		t.Errorf("expected the last two entries in order, got %+v", entries)
	}
}

func TestRequestLogClear(t *testing.T) {
	rl := NewRequestLog(10)
	rl.Add(RequestLogEntry{Path: "/journals"})
	rl.Clear()

	if len(rl.Entries()) != 0 {
		t.Errorf("expected 0 entries after clear, got %d", len(rl.Entries()))
	}
}

// ---------------------------------------------------------------------------
// FaultRegistry
// ---------------------------------------------------------------------------

func TestFaultRegistrySetAndCheck(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set("/journals", FaultConfig{StatusCode: 503})

	fault := fr.Check("GET", "/journals")
	if fault == nil {
		t.Fatal("expected zero rate to default to always")
	}
	if fault.StatusCode != 503 {
		t.Errorf("expected status 503, got %d", fault.StatusCode)
	}
	if fr.Check("GET", "/tasks") != nil {
		t.Error("expected nil for non-matching path")
	}
}

func TestFaultRegistryCollectionCoversItems(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set("/tasks", FaultConfig{StatusCode: 503})
	fr.Set("/tasks/7", FaultConfig{StatusCode: 409})

	if f := fr.Check("PUT", "/tasks/3"); f == nil || f.StatusCode != 503 {
		t.Errorf("expected collection fault for an item, got %+v", f)
	}
	if f := fr.Check("PUT", "/tasks/7"); f == nil || f.StatusCode != 409 {
		t.Errorf("expected the item fault to win, got %+v", f)
	}
	if fr.Check("GET", "/task_merger") != nil {
		t.Error("expected no fault for a sibling path")
	}
}

func TestFaultRegistryMethod(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set("/journals", FaultConfig{StatusCode: 412, Method: "put"})
	fr.Set("/", FaultConfig{StatusCode: 500, Method: "DELETE"})

	if fr.Check("GET", "/journals/1") != nil {
		t.Error("expected GET to pass a PUT-only fault")
	}
	if f := fr.Check("PUT", "/journals/1"); f == nil || f.StatusCode != 412 {
		t.Errorf("expected PUT fault, got %+v", f)
	}
	if f := fr.Check("DELETE", "/journals/1"); f == nil || f.StatusCode != 500 {
		t.Errorf("expected fallthrough to the root fault, got %+v", f)
	}
}

func TestFaultRegistryRemoveAndReset(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set("/a", FaultConfig{StatusCode: 500, Rate: 1.0})
	fr.Set("/b", FaultConfig{StatusCode: 429, Rate: 1.0})

	if !fr.Remove("/a") {
		t.Error("expected Remove to return true for existing fault")
	}
	if fr.Remove("/a") {
		t.Error("expected Remove to return false after already removed")
	}

	all := fr.All()
	all["/b"] = FaultConfig{StatusCode: 200}
	if fr.All()["/b"].StatusCode != 429 {
		t.Error("All did not return a copy; mutation leaked")
	}

	fr.Reset()
	if len(fr.All()) != 0 {
		t.Errorf("expected 0 faults after reset, got %d", len(fr.All()))
	}
}

// ---------------------------------------------------------------------------
// Middleware – CORS
// ---------------------------------------------------------------------------

func TestCORSExposesConcurrencyHeaders(t *testing.T) {
	mw := NewMiddleware(&Config{}, nil)
	handler := mw.CORS(okHandler())

	req := httptest.NewRequest("GET", "/journals/0", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected Access-Control-Allow-Origin: *")
	}
	allow := rec.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{"If-Match", "Post-Token"} {
		if !strings.Contains(allow, h) {
			t.Errorf("expected %s in allowed headers, got %s", h, allow)
		}
	}
	expose := rec.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{"ETag", "Location"} {
		if !strings.Contains(expose, h) {
			t.Errorf("expected %s in exposed headers, got %s", h, expose)
		}
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "PATCH") {
		t.Error("expected PATCH to be allowed")
	}
}

func TestCORSOptionsRequest(t *testing.T) {
	mw := NewMiddleware(&Config{}, nil)

	innerCalled := false
	handler := mw.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
	}))

	req := httptest.NewRequest("OPTIONS", "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rec.Code)
	}
	if innerCalled {
		t.Error("expected inner handler NOT to be called for OPTIONS")
	}
}

// ---------------------------------------------------------------------------
// Middleware – RequestLog
// ---------------------------------------------------------------------------

func TestRequestLogMiddleware(t *testing.T) {
	mw := NewMiddleware(&Config{}, nil)
	handler := mw.RequestLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"def"`)
		w.WriteHeader(http.StatusPreconditionFailed)
	}))

	req := httptest.NewRequest("PUT", "/journals/3", nil)
	req.Header.Set("If-Match", `"abc"`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entries := mw.ReqLog.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Method != "PUT" || e.Path != "/journals/3" || e.StatusCode != 412 {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.IfMatch != `"abc"` || e.ETag != `"def"` || e.Token {
		t.Errorf("unexpected concurrency fields: %+v", e)
	}
	if e.Headers != nil {
		t.Error("expected headers to be omitted when not verbose")
	}
}

func TestRequestLogMiddlewareVerbose(t *testing.T) {
	mw := NewMiddleware(&Config{Verbose: true}, nil)
	handler := mw.RequestLog(okHandler())

	req := httptest.NewRequest("POST", "/tasks", nil)
	req.Header.Set("Post-Token", "tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entries := mw.ReqLog.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].Token {
		t.Error("expected the token to be noted")
	}
	if entries[0].Headers["Post-Token"] != "tok" {
		t.Errorf("expected Post-Token captured, got %+v", entries[0].Headers)
	}
}

// ---------------------------------------------------------------------------
// Middleware – FaultInjection
// ---------------------------------------------------------------------------

func TestFaultInjectionMiddleware(t *testing.T) {
	mw := NewMiddleware(&Config{}, nil)
	mw.Faults.Set("/tasks", FaultConfig{StatusCode: 503, Rate: 1.0})

	innerCalled := false
	handler := mw.FaultInjection(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
	}))

	req := httptest.NewRequest("GET", "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Errorf("expected 503 from fault injection, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "injected fault") {
		t.Errorf("expected default fault body, got %s", rec.Body.String())
	}
	if innerCalled {
		t.Error("expected inner handler NOT to be called when fault is injected")
	}
}

func TestFaultInjectionWithCustomBody(t *testing.T) {
	mw := NewMiddleware(&Config{}, nil)
	mw.Faults.Set("/tokens", FaultConfig{StatusCode: 429, Body: `{"error":"slow down"}`, Rate: 1.0})

	req := httptest.NewRequest("POST", "/tokens", nil)
	rec := httptest.NewRecorder()
	mw.FaultInjection(okHandler()).ServeHTTP(rec, req)

	if rec.Code != 429 {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"slow down"}` {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestFaultInjectionDelayOnly(t *testing.T) {
	mw := NewMiddleware(&Config{}, nil)
	mw.Faults.Set("/journals", FaultConfig{Delay: 20 * time.Millisecond, Rate: 1.0})

	req := httptest.NewRequest("GET", "/journals", nil)
	rec := httptest.NewRecorder()
	start := time.Now()
	mw.FaultInjection(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected the request to pass through, got %d", rec.Code)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("expected the configured delay")
	}
}

// ---------------------------------------------------------------------------
// Middleware – latency and failure injection
// ---------------------------------------------------------------------------

func TestLatencyInjectionMiddleware(t *testing.T) {
	mw := NewMiddleware(&Config{Latency: 50 * time.Millisecond}, nil)

	req := httptest.NewRequest("GET", "/journals", nil)
	rec := httptest.NewRecorder()
	start := time.Now()
	mw.LatencyInjection(okHandler()).ServeHTTP(rec, req)

	// 80% of 50ms is the floor; leave headroom for timer granularity.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected at least ~40ms latency, got %v", elapsed)
	}
}

func TestRandomFailure(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{1.0, http.StatusInternalServerError},
		{0.0, http.StatusOK},
	}
	for _, tt := range tests {
		mw := NewMiddleware(&Config{FailRate: tt.rate}, nil)
		req := httptest.NewRequest("GET", "/tasks", nil)
		rec := httptest.NewRecorder()
		mw.RandomFailure(okHandler()).ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("fail rate %v: expected %d, got %d", tt.rate, tt.want, rec.Code)
		}
	}
}

func TestControlPlaneExempt(t *testing.T) {
	mw := NewMiddleware(&Config{FailRate: 1.0}, nil)
	for _, p := range []string{"/admin/health", "/metrics"} {
		req := httptest.NewRequest("GET", p, nil)
		rec := httptest.NewRecorder()
		mw.RandomFailure(okHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected control plane to be exempt, got %d", p, rec.Code)
		}
	}
}

func TestRandomFailureFollowsRuntimeUpdate(t *testing.T) {
	twin := New(&Config{Name: "taskjournal"})
	handler := twin.Middleware().RandomFailure(okHandler())

	if err := twin.UpdateConfig(map[string]any{"fail_rate": 1.0}); err != nil {
		t.Fatalf("update: %v", err)
	}
	req := httptest.NewRequest("GET", "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected the updated fail rate to apply, got %d", rec.Code)
	}
}
