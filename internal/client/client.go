// Package client provides an HTTP client for the taskjournal API and its
// admin endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to one taskjournal server.
type Client struct {
	base string
	http *http.Client
}

// New creates a Client for baseURL with a 5-second timeout.
func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// Entry is a single resource as returned by the server.
type Entry struct {
	ID       int
	ETag     string // quoted, ready for If-Match
	Location string
	Body     json.RawMessage
}

// Page is one page of a listing.
type Page struct {
	Page         int               `json:"page"`
	TotalEntries int               `json:"total_entries"`
	TotalPages   int               `json:"total_pages"`
	Entries      []json.RawMessage `json:"entries"`
}

// ListOptions selects a page. Zero values use the server defaults.
type ListOptions struct {
	Page    int
	PerPage int
	Filter  string
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, []byte, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, data, statusError(resp.StatusCode, data)
	}
	return resp, data, nil
}

func statusError(code int, body []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		msg = e.Error.Message
	}
	return &StatusError{Code: code, Message: msg}
}

func toEntry(resp *http.Response, body []byte) (Entry, error) {
	var id struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(body, &id); err != nil {
		return Entry{}, fmt.Errorf("decoding entry: %w", err)
	}
	return Entry{
		ID:       id.ID,
		ETag:     resp.Header.Get("ETag"),
		Location: resp.Header.Get("Location"),
		Body:     json.RawMessage(body),
	}, nil
}

// IssueToken calls POST /tokens.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	_, body, err := c.do(ctx, http.MethodPost, "/tokens", nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// List calls GET /{collection}.
func (c *Client) List(ctx context.Context, collection string, opts ListOptions) (Page, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}
	path := "/" + collection
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	_, body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return Page{}, err
	}
	var p Page
	if err := json.Unmarshal(body, &p); err != nil {
		return Page{}, fmt.Errorf("decoding page: %w", err)
	}
	return p, nil
}

// Get calls GET /{collection}/{id}.
func (c *Client) Get(ctx context.Context, collection string, id int) (Entry, error) {
	resp, body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%s/%d", collection, id), nil, nil)
	if err != nil {
		return Entry{}, err
	}
	return toEntry(resp, body)
}

// Create issues a token and POSTs payload to /{collection}.
func (c *Client) Create(ctx context.Context, collection string, payload any) (Entry, error) {
	tok, err := c.IssueToken(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("issuing token: %w", err)
	}
	resp, body, err := c.do(ctx, http.MethodPost, "/"+collection, payload, map[string]string{"Post-Token": tok})
	if err != nil {
		return Entry{}, err
	}
	return toEntry(resp, body)
}

// Put calls PUT /{collection}/{id}. An empty etag sends no If-Match.
func (c *Client) Put(ctx context.Context, collection string, id int, payload any, etag string) (Entry, error) {
	resp, body, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/%s/%d", collection, id), payload, ifMatch(etag))
	if err != nil {
		return Entry{}, err
	}
	return toEntry(resp, body)
}

// PatchTask calls PATCH /tasks/{id}.
func (c *Client) PatchTask(ctx context.Context, id int, patch any, etag string) (Entry, error) {
	resp, body, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/tasks/%d", id), patch, ifMatch(etag))
	if err != nil {
		return Entry{}, err
	}
	return toEntry(resp, body)
}

// Delete calls DELETE /{collection}/{id}.
func (c *Client) Delete(ctx context.Context, collection string, id int) error {
	_, _, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/%s/%d", collection, id), nil, nil)
	return err
}

// MergeResult is the response to a task merge.
type MergeResult struct {
	Location string          `json:"-"`
	Task     json.RawMessage `json:"task"`
	Merged   []int           `json:"merged"`
	Missing  []int           `json:"missing"`
}

// Merge issues a token and calls POST /task_merger.
func (c *Client) Merge(ctx context.Context, ids []int) (MergeResult, error) {
	tok, err := c.IssueToken(ctx)
	if err != nil {
		return MergeResult{}, fmt.Errorf("issuing token: %w", err)
	}
	resp, body, err := c.do(ctx, http.MethodPost, "/task_merger", map[string]any{"ids": ids}, map[string]string{"Post-Token": tok})
	if err != nil {
		return MergeResult{}, err
	}
	var result MergeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return MergeResult{}, fmt.Errorf("decoding merge result: %w", err)
	}
	result.Location = resp.Header.Get("Location")
	return result, nil
}

func ifMatch(etag string) map[string]string {
	if etag == "" {
		return nil
	}
	return map[string]string{"If-Match": etag}
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *Client) Health(ctx context.Context) (bool, string) {
	_, body, err := c.do(ctx, http.MethodGet, "/admin/health", nil, nil)
	if err != nil {
		return false, err.Error()
	}
	return true, strings.TrimSpace(string(body))
}

// Reset calls POST /admin/reset.
func (c *Client) Reset(ctx context.Context) (string, error) {
	_, body, err := c.do(ctx, http.MethodPost, "/admin/reset", nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// LoadState POSTs the contents of a JSON state file to /admin/state.
func (c *Client) LoadState(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("reading state file: %w", err)
	}
	_, body, err := c.do(ctx, http.MethodPost, "/admin/state", data, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// State fetches GET /admin/state.
func (c *Client) State(ctx context.Context) (json.RawMessage, error) {
	_, body, err := c.do(ctx, http.MethodGet, "/admin/state", nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}
