package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Error    string
}

// Result records the outcome of an entire scenario.
type Result struct {
	ScenarioName string
	Passed       bool
	Steps        []StepResult
	Duration     time.Duration
}

// Runner executes scenarios against one server.
type Runner struct {
	baseURL string
	http    *http.Client
}

// NewRunner creates a Runner for baseURL.
func NewRunner(baseURL string) *Runner {
	return &Runner{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// response is what a step's assertions and captures see.
type response struct {
	status int
	header http.Header
	body   []byte
}

// Run executes every step of s. A failed step does not stop the run, but
// anything it would have captured stays undefined for later steps.
func (r *Runner) Run(s *Scenario) (*Result, error) {
	start := time.Now()
	if err := r.setup(s.Setup); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	vars := map[string]string{"base_url": r.baseURL}
	for k, v := range s.Variables {
		vars[k] = v
	}

	res := &Result{ScenarioName: s.Name, Passed: true}
	for i := range s.Steps {
		step := &s.Steps[i]
		stepStart := time.Now()
		err := r.runStep(step, vars)
		sr := StepResult{Name: step.Name, Passed: err == nil, Duration: time.Since(stepStart)}
		if err != nil {
			sr.Error = err.Error()
			res.Passed = false
		}
		res.Steps = append(res.Steps, sr)
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (r *Runner) setup(s Setup) error {
	if s.Reset {
		if err := r.admin("/admin/reset", nil); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	if s.State != "" {
		data, err := os.ReadFile(s.State)
		if err != nil {
			return fmt.Errorf("state: %w", err)
		}
		if err := r.admin("/admin/state", data); err != nil {
			return fmt.Errorf("state: %w", err)
		}
	}
	return nil
}

// admin POSTs body to an admin endpoint and expects 200.
func (r *Runner) admin(path string, body []byte) error {
	resp, err := r.http.Post(r.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (r *Runner) runStep(step *Step, vars map[string]string) error {
	resp, err := r.exec(step.Request, vars)
	if err != nil {
		return err
	}
	if err := check(step.Assert, resp, vars); err != nil {
		return err
	}
	for name, source := range step.Capture {
		v, err := capture(source, resp.header, resp.body)
		if err != nil {
			return fmt.Errorf("capture %s: %w", name, err)
		}
		vars[name] = v
	}
	return nil
}

func (r *Runner) exec(rq Request, vars map[string]string) (*response, error) {
	path, err := Expand(rq.Path, vars)
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	body, err := Expand(rq.Body, vars)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(rq.Method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range rq.Headers {
		if v, err = Expand(v, vars); err != nil {
			return nil, fmt.Errorf("header %s: %w", k, err)
		}
		req.Header.Set(k, v)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// check applies a step's assertions. Expected values may use {{var}}.
// body_json compares top-level keys by their printed value.
func check(a Assert, resp *response, vars map[string]string) error {
	if a.Status != 0 && resp.status != a.Status {
		return fmt.Errorf("expected status %d, got %d", a.Status, resp.status)
	}

	if a.BodyContains != "" {
		want, err := Expand(a.BodyContains, vars)
		if err != nil {
			return fmt.Errorf("body_contains: %w", err)
		}
		if !bytes.Contains(resp.body, []byte(want)) {
			return fmt.Errorf("body does not contain %q", want)
		}
	}

	for name, want := range a.Headers {
		want, err := Expand(want, vars)
		if err != nil {
			return fmt.Errorf("header %s: %w", name, err)
		}
		if got := resp.header.Get(name); got != want {
			return fmt.Errorf("header %s: expected %q, got %q", name, want, got)
		}
	}

	if len(a.BodyJSON) == 0 {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return fmt.Errorf("body is not valid JSON: %w", err)
	}
	for key, want := range a.BodyJSON {
		want, err := Expand(want, vars)
		if err != nil {
			return fmt.Errorf("body_json %s: %w", key, err)
		}
		got, ok := parsed[key]
		if !ok {
			return fmt.Errorf("body_json: key %q not found in response", key)
		}
		if s := fmt.Sprintf("%v", got); s != want {
			return fmt.Errorf("body_json: key %q expected %q, got %q", key, want, s)
		}
	}
	return nil
}
