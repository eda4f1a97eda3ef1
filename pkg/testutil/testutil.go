// Package testutil provides an HTTP test client, an admin client and
// assertion helpers for exercising the taskjournal server in tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"testing"

	"github.com/wondertwin-ai/taskjournal/pkg/etag"
)

// Header names used by the write path.
const (
	TokenHeader   = "Post-Token"
	IfMatchHeader = "If-Match"
)

// TwinClient sends requests to a server under test. Transport failures
// abort the test; HTTP errors are returned for the caller to assert on.
type TwinClient struct {
	BaseURL    string
	HTTPClient *http.Client
	t          *testing.T
}

// NewTwinClient creates a client pointed at a test server.
func NewTwinClient(t *testing.T, server *httptest.Server) *TwinClient {
	return &TwinClient{BaseURL: server.URL, HTTPClient: server.Client(), t: t}
}

// NewTwinClientURL creates a client pointed at baseURL.
func NewTwinClientURL(t *testing.T, baseURL string) *TwinClient {
	return &TwinClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{}, t: t}
}

// request is one outgoing call under construction.
type request struct {
	method  string
	path    string
	body    io.Reader
	headers http.Header
}

func (c *TwinClient) newRequest(method, p string) *request {
	return &request{method: method, path: p, headers: http.Header{}}
}

// json sets a JSON-encoded body. A nil value sends no body.
func (r *request) json(t *testing.T, v any) *request {
	t.Helper()
	if v == nil {
		return r
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return r.raw(string(data))
}

func (r *request) raw(body string) *request {
	r.body = strings.NewReader(body)
	r.headers.Set("Content-Type", "application/json")
	return r
}

// header sets name unless value is empty.
func (r *request) header(name, value string) *request {
	if value != "" {
		r.headers.Set(name, value)
	}
	return r
}

func (c *TwinClient) send(r *request) *Response {
	c.t.Helper()
	req, err := http.NewRequest(r.method, c.BaseURL+r.path, r.body)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	for k, vs := range r.headers {
		req.Header[k] = vs
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", r.method, r.path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("failed to read response: %v", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Headers: resp.Header, t: c.t}
}

// Get performs a GET request.
func (c *TwinClient) Get(p string) *Response {
	c.t.Helper()
	return c.send(c.newRequest(http.MethodGet, p))
}

// Post performs a POST request with a JSON body and no token.
func (c *TwinClient) Post(p string, body any) *Response {
	c.t.Helper()
	return c.send(c.newRequest(http.MethodPost, p).json(c.t, body))
}

// PostWithToken performs a POST carrying a write token.
func (c *TwinClient) PostWithToken(p string, body any, token string) *Response {
	c.t.Helper()
	return c.send(c.newRequest(http.MethodPost, p).json(c.t, body).header(TokenHeader, token))
}

// Put performs a PUT request. An empty ifMatch sends no If-Match header.
func (c *TwinClient) Put(p string, body any, ifMatch string) *Response {
	c.t.Helper()
	return c.send(c.newRequest(http.MethodPut, p).json(c.t, body).header(IfMatchHeader, ifMatch))
}

// Patch performs a PATCH request. An empty ifMatch sends no If-Match header.
func (c *TwinClient) Patch(p string, body any, ifMatch string) *Response {
	c.t.Helper()
	return c.send(c.newRequest(http.MethodPatch, p).json(c.t, body).header(IfMatchHeader, ifMatch))
}

// Delete performs a DELETE request.
func (c *TwinClient) Delete(p string) *Response {
	c.t.Helper()
	return c.send(c.newRequest(http.MethodDelete, p))
}

// DoRaw sends body verbatim, for malformed payloads.
func (c *TwinClient) DoRaw(method, p, body string, headers map[string]string) *Response {
	c.t.Helper()
	r := c.newRequest(method, p).raw(body)
	for k, v := range headers {
		r.header(k, v)
	}
	return c.send(r)
}

// IssueToken calls POST /tokens and returns the token value.
func (c *TwinClient) IssueToken() string {
	c.t.Helper()
	resp := c.send(c.newRequest(http.MethodPost, "/tokens"))
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("issue token: expected 201, got %d\nbody: %s", resp.StatusCode, resp.Body)
	}
	return resp.Text()
}

// Create issues a token and POSTs body to p with it.
func (c *TwinClient) Create(p string, body any) *Response {
	c.t.Helper()
	return c.PostWithToken(p, body, c.IssueToken())
}

// Response is a fully read HTTP response. Assertions report through the
// test and return the response for chaining.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON unmarshals the body into v, failing the test on error.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("failed to unmarshal response: %v\nbody: %s", err, r.Body)
	}
}

// JSONMap returns the body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// ETag returns the raw ETag header, quotes included.
func (r *Response) ETag() string {
	return r.Headers.Get("ETag")
}

// Location returns the Location header.
func (r *Response) Location() string {
	return r.Headers.Get("Location")
}

// ID returns the id at the end of the Location header.
func (r *Response) ID() int {
	r.t.Helper()
	id, err := strconv.Atoi(path.Base(r.Location()))
	if err != nil {
		r.t.Fatalf("no id in Location %q", r.Location())
	}
	return id
}

// AssertStatus checks the status code.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	if r.StatusCode != expected {
		r.t.Errorf("expected status %d, got %d\nbody: %s", expected, r.StatusCode, r.Body)
	}
	return r
}

// AssertBodyContains checks that the body contains substr.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !bytes.Contains(r.Body, []byte(substr)) {
		r.t.Errorf("expected body to contain %q, got: %s", substr, r.Body)
	}
	return r
}

// AssertHeader checks a response header value.
func (r *Response) AssertHeader(name, expected string) *Response {
	r.t.Helper()
	if got := r.Headers.Get(name); got != expected {
		r.t.Errorf("expected header %s=%q, got %q", name, expected, got)
	}
	return r
}

// AssertError checks the status and the message of a JSON error envelope.
func (r *Response) AssertError(status int, message string) *Response {
	r.t.Helper()
	r.AssertStatus(status)
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil || env.Error.Message != message {
		r.t.Errorf("expected error %q, got: %s", message, r.Body)
	}
	return r
}

// AssertETagOf checks that the ETag header is the quoted content hash of
// payload.
func (r *Response) AssertETagOf(payload any) *Response {
	r.t.Helper()
	tag, err := etag.Compute(payload)
	if err != nil {
		r.t.Fatalf("computing etag: %v", err)
	}
	return r.AssertHeader("ETag", etag.Quote(tag))
}

// AdminClient wraps the /admin/* control plane.
type AdminClient struct {
	*TwinClient
}

// NewAdminClient creates an admin client sharing tc's connection.
func NewAdminClient(tc *TwinClient) *AdminClient {
	return &AdminClient{tc}
}

func faultURL(endpoint string) string {
	return "/admin/fault/" + strings.TrimPrefix(endpoint, "/")
}

// Health calls GET /admin/health.
func (ac *AdminClient) Health() *Response { ac.t.Helper(); return ac.Get("/admin/health") }

// Reset calls POST /admin/reset.
func (ac *AdminClient) Reset() *Response { ac.t.Helper(); return ac.Post("/admin/reset", nil) }

// GetState calls GET /admin/state.
func (ac *AdminClient) GetState() *Response { ac.t.Helper(); return ac.Get("/admin/state") }

// LoadState calls POST /admin/state.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

// InjectFault calls POST /admin/fault/{endpoint}.
func (ac *AdminClient) InjectFault(endpoint string, fault any) *Response {
	ac.t.Helper()
	return ac.Post(faultURL(endpoint), fault)
}

// RemoveFault calls DELETE /admin/fault/{endpoint}.
func (ac *AdminClient) RemoveFault(endpoint string) *Response {
	ac.t.Helper()
	return ac.Delete(faultURL(endpoint))
}

// GetRequests calls GET /admin/requests with an optional raw query.
func (ac *AdminClient) GetRequests(query ...string) *Response {
	ac.t.Helper()
	p := "/admin/requests"
	if len(query) > 0 && query[0] != "" {
		p += "?" + query[0]
	}
	return ac.Get(p)
}

// FlushWebhooks calls POST /admin/webhooks/flush.
func (ac *AdminClient) FlushWebhooks() *Response {
	ac.t.Helper()
	return ac.Post("/admin/webhooks/flush", nil)
}

// AdvanceTime moves the simulated clock by duration ("3m", "1h").
func (ac *AdminClient) AdvanceTime(duration string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/time/advance", map[string]string{"duration": duration})
}

// UpdateConfig calls PATCH /admin/config.
func (ac *AdminClient) UpdateConfig(updates map[string]any) *Response {
	ac.t.Helper()
	return ac.send(ac.newRequest(http.MethodPatch, "/admin/config").json(ac.t, updates))
}

// Tokens calls GET /admin/tokens.
func (ac *AdminClient) Tokens() *Response { ac.t.Helper(); return ac.Get("/admin/tokens") }

// SweepTokens calls POST /admin/tokens/sweep.
func (ac *AdminClient) SweepTokens() *Response {
	ac.t.Helper()
	return ac.Post("/admin/tokens/sweep", nil)
}
