package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wondertwin-ai/taskjournal/internal/client"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// Server exposes taskjournal tools over JSON-RPC 2.0, one message per line.
type Server struct {
	client  *client.Client
	tools   []toolEntry
	byName  map[string]toolEntry
	logger  *slog.Logger
	timeout time.Duration
	in      io.Reader
	out     *bufio.Writer
}

// methodFunc answers one JSON-RPC method. A nil response sends nothing.
type methodFunc func(s *Server, ctx context.Context, req *Request) *Response

var methods = map[string]methodFunc{
	"initialize": func(s *Server, _ context.Context, req *Request) *Response {
		return reply(success(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "taskjournal-mcp", "version": "0.1.0"},
		}))
	},
	"notifications/initialized": func(*Server, context.Context, *Request) *Response {
		return nil
	},
	"ping": func(_ *Server, _ context.Context, req *Request) *Response {
		return reply(success(req.ID, map[string]any{}))
	},
	"tools/list": func(s *Server, _ context.Context, req *Request) *Response {
		list := make([]Tool, 0, len(s.tools))
		for _, t := range s.tools {
			list = append(list, t.Tool)
		}
		return reply(success(req.ID, map[string]any{"tools": list}))
	},
	"tools/call": (*Server).callTool,
}

func reply(r Response) *Response { return &r }

// NewServer creates a server that forwards tool calls to c, reading requests
// from in and writing responses to out.
func NewServer(c *client.Client, in io.Reader, out io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	tools := allTools()
	byName := make(map[string]toolEntry, len(tools))
	for _, t := range tools {
		byName[t.Tool.Name] = t
	}
	return &Server{
		client:  c,
		tools:   tools,
		byName:  byName,
		logger:  logger,
		timeout: 10 * time.Second,
		in:      in,
		out:     bufio.NewWriter(out),
	}
}

// Serve handles messages until the input is exhausted or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	lines := bufio.NewScanner(s.in)
	lines.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for lines.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(bytes.TrimSpace(lines.Bytes())) == 0 {
			continue
		}
		if resp := s.handle(ctx, lines.Bytes()); resp != nil {
			if err := s.send(*resp); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
	if err := lines.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// handle answers a single raw message.
func (s *Server) handle(ctx context.Context, line []byte) *Response {
	req, bad := decodeRequest(line)
	if bad != nil {
		return bad
	}
	if m, ok := methods[req.Method]; ok {
		return m(s, ctx, req)
	}
	if req.IsNotification() {
		return nil
	}
	return reply(failure(req.ID, ErrCodeNoMethod, "method not found: "+req.Method))
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// callTool runs a tool against the API. API failures come back as tool
// results flagged isError; only malformed calls are protocol errors.
func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return reply(failure(req.ID, ErrCodeInvalidParams, "invalid params: "+err.Error()))
	}
	t, ok := s.byName[params.Name]
	if !ok {
		return reply(failure(req.ID, ErrCodeNoMethod, "unknown tool: "+params.Name))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := t.Handler(ctx, s.client, params.Arguments)
	if err != nil {
		s.logger.Debug("tool call failed", "tool", params.Name, "err", err)
		result = errorResult(err)
	}
	return reply(success(req.ID, result))
}

func (s *Server) send(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "err", err)
		data, _ = json.Marshal(failure(nullID, ErrCodeInternal, "internal marshal error"))
	}
	s.out.Write(data)
	s.out.WriteByte('\n')
	return s.out.Flush()
}
