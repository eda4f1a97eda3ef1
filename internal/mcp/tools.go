package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wondertwin-ai/taskjournal/internal/client"
)

// Tool describes an MCP tool definition.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

// ToolResult is returned from tool invocations.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolContent holds a single piece of tool output.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string) ToolResult {
	return ToolResult{Content: []ToolContent{{Type: "text", Text: text}}}
}

func errorResult(err error) ToolResult {
	r := textResult(err.Error())
	r.IsError = true
	return r
}

type toolHandler func(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error)

type toolEntry struct {
	Tool    Tool
	Handler toolHandler
}

const collectionSchema = `{"type": "string", "enum": ["journals", "tasks"]}`

func schema(props string, required ...string) json.RawMessage {
	req, _ := json.Marshal(append([]string{}, required...))
	return json.RawMessage(fmt.Sprintf(`{"type": "object", "properties": {%s}, "required": %s}`, props, req))
}

func allTools() []toolEntry {
	return []toolEntry{
		{
			Tool: Tool{
				Name:        "tj_list",
				Description: "List one page of journals or tasks. The optional filter is an expression over the payload fields, e.g. 'done == false'.",
				InputSchema: schema(`"collection": `+collectionSchema+`, "page": {"type": "integer"}, "per_page": {"type": "integer"}, "filter": {"type": "string"}`, "collection"),
			},
			Handler: handleList,
		},
		{
			Tool: Tool{
				Name:        "tj_get",
				Description: "Fetch one entry and its etag.",
				InputSchema: schema(`"collection": `+collectionSchema+`, "id": {"type": "integer"}`, "collection", "id"),
			},
			Handler: handleGet,
		},
		{
			Tool: Tool{
				Name:        "tj_create",
				Description: "Create an entry. A write token is issued automatically.",
				InputSchema: schema(`"collection": `+collectionSchema+`, "payload": {"type": "object"}`, "collection", "payload"),
			},
			Handler: handleCreate,
		},
		{
			Tool: Tool{
				Name:        "tj_update",
				Description: "Replace an entry with PUT. The etag from tj_get is required unless the id does not exist yet.",
				InputSchema: schema(`"collection": `+collectionSchema+`, "id": {"type": "integer"}, "payload": {"type": "object"}, "etag": {"type": "string"}`, "collection", "id", "payload"),
			},
			Handler: handleUpdate,
		},
		{
			Tool: Tool{
				Name:        "tj_patch_task",
				Description: "Partially update a task's text and/or done fields. Requires the current etag.",
				InputSchema: schema(`"id": {"type": "integer"}, "patch": {"type": "object"}, "etag": {"type": "string"}`, "id", "patch", "etag"),
			},
			Handler: handlePatchTask,
		},
		{
			Tool: Tool{
				Name:        "tj_delete",
				Description: "Delete an entry.",
				InputSchema: schema(`"collection": `+collectionSchema+`, "id": {"type": "integer"}`, "collection", "id"),
			},
			Handler: handleDelete,
		},
		{
			Tool: Tool{
				Name:        "tj_merge_tasks",
				Description: "Merge tasks into a new task and delete the sources. Missing ids are reported, not fatal.",
				InputSchema: schema(`"ids": {"type": "array", "items": {"type": "integer"}}`, "ids"),
			},
			Handler: handleMerge,
		},
		{
			Tool: Tool{
				Name:        "tj_inspect",
				Description: "Dump the full server state via /admin/state.",
				InputSchema: schema(``),
			},
			Handler: handleInspect,
		},
		{
			Tool: Tool{
				Name:        "tj_reset",
				Description: "Reset the server to its seed state.",
				InputSchema: schema(``),
			},
			Handler: handleReset,
		},
	}
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

type toolArgs struct {
	Collection string          `json:"collection"`
	ID         *int            `json:"id"`
	IDs        []int           `json:"ids"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	Filter     string          `json:"filter"`
	Payload    json.RawMessage `json:"payload"`
	Patch      json.RawMessage `json:"patch"`
	ETag       string          `json:"etag"`
}

func parseArgs(params json.RawMessage) (toolArgs, error) {
	var a toolArgs
	if len(params) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(params, &a); err != nil {
		return a, fmt.Errorf("invalid arguments: %w", err)
	}
	return a, nil
}

func (a toolArgs) collection() (string, error) {
	switch a.Collection {
	case "journals", "tasks":
		return a.Collection, nil
	case "":
		return "", fmt.Errorf("collection is required")
	}
	return "", fmt.Errorf("unknown collection %q", a.Collection)
}

func (a toolArgs) id() (int, error) {
	if a.ID == nil {
		return 0, fmt.Errorf("id is required")
	}
	return *a.ID, nil
}

func (a toolArgs) target() (string, int, error) {
	collection, err := a.collection()
	if err != nil {
		return "", 0, err
	}
	id, err := a.id()
	return collection, id, err
}

func entryResult(e client.Entry) ToolResult {
	var out strings.Builder
	if e.Location != "" {
		fmt.Fprintf(&out, "Location: %s\n", e.Location)
	}
	fmt.Fprintf(&out, "ETag: %s\n%s", e.ETag, e.Body)
	return textResult(out.String())
}

func jsonResult(v any) (ToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(string(data)), nil
}

func handleList(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error) {
	a, err := parseArgs(params)
	if err != nil {
		return ToolResult{}, err
	}
	collection, err := a.collection()
	if err != nil {
		return ToolResult{}, err
	}
	p, err := c.List(ctx, collection, client.ListOptions{Page: a.Page, PerPage: a.PerPage, Filter: a.Filter})
	if err != nil {
		return ToolResult{}, err
	}
	return jsonResult(p)
}

func handleGet(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error) {
	a, err := parseArgs(params)
	if err != nil {
		return ToolResult{}, err
	}
	collection, id, err := a.target()
	if err != nil {
		return ToolResult{}, err
	}
	e, err := c.Get(ctx, collection, id)
	if err != nil {
		return ToolResult{}, err
	}
	return entryResult(e), nil
}

func handleCreate(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error) {
	a, err := parseArgs(params)
	if err != nil {
		return ToolResult{}, err
	}
	collection, err := a.collection()
	if err != nil {
		return ToolResult{}, err
	}
	if len(a.Payload) == 0 {
		return ToolResult{}, fmt.Errorf("payload is required")
	}
	e, err := c.Create(ctx, collection, a.Payload)
	if err != nil {
		return ToolResult{}, err
	}
	return entryResult(e), nil
}

func handleUpdate(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error) {
	a, err := parseArgs(params)
	if err != nil {
		return ToolResult{}, err
	}
	collection, id, err := a.target()
	if err != nil {
		return ToolResult{}, err
	}
	if len(a.Payload) == 0 {
		return ToolResult{}, fmt.Errorf("payload is required")
	}
	e, err := c.Put(ctx, collection, id, a.Payload, a.ETag)
	if err != nil {
		return ToolResult{}, err
	}
	return entryResult(e), nil
}

func handlePatchTask(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error) {
	a, err := parseArgs(params)
	if err != nil {
		return ToolResult{}, err
	}
	id, err := a.id()
	if err != nil {
		return ToolResult{}, err
	}
	if len(a.Patch) == 0 {
		return ToolResult{}, fmt.Errorf("patch is required")
	}
	e, err := c.PatchTask(ctx, id, a.Patch, a.ETag)
	if err != nil {
		return ToolResult{}, err
	}
	return entryResult(e), nil
}

func handleDelete(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error) {
	a, err := parseArgs(params)
	if err != nil {
		return ToolResult{}, err
	}
	collection, id, err := a.target()
	if err != nil {
		return ToolResult{}, err
	}
	if err := c.Delete(ctx, collection, id); err != nil {
		return ToolResult{}, err
	}
	return textResult(fmt.Sprintf("Deleted /%s/%d", collection, id)), nil
}

func handleMerge(ctx context.Context, c *client.Client, params json.RawMessage) (ToolResult, error) {
	a, err := parseArgs(params)
	if err != nil {
		return ToolResult{}, err
	}
	if len(a.IDs) == 0 {
		return ToolResult{}, fmt.Errorf("ids is required")
	}
	result, err := c.Merge(ctx, a.IDs)
	if err != nil {
		return ToolResult{}, err
	}
	return jsonResult(map[string]any{
		"location": result.Location,
		"task":     result.Task,
		"merged":   result.Merged,
		"missing":  result.Missing,
	})
}

func handleInspect(ctx context.Context, c *client.Client, _ json.RawMessage) (ToolResult, error) {
	state, err := c.State(ctx)
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(string(state)), nil
}

func handleReset(ctx context.Context, c *client.Client, _ json.RawMessage) (ToolResult, error) {
	msg, err := c.Reset(ctx)
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(msg), nil
}
