// Package mcp implements an MCP (Model Context Protocol) server over stdio,
// exposing taskjournal operations as tools for coding agents.
package mcp

import "encoding/json"

// Request is a JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message carries no id and so expects
// no reply.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC 2.0 reply. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 error codes.
const (
	ErrCodeParse         = -32700
	ErrCodeInvalidReq    = -32600
	ErrCodeNoMethod      = -32601
	ErrCodeInvalidParams = -32602
	ErrCodeInternal      = -32603
)

var nullID = json.RawMessage("null")

// decodeRequest parses one line. A nil Response means the request is
// well-formed.
func decodeRequest(line []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		resp := failure(nullID, ErrCodeParse, "parse error: "+err.Error())
		return nil, &resp
	}
	if req.JSONRPC != "2.0" && !req.IsNotification() {
		resp := failure(req.ID, ErrCodeInvalidReq, `jsonrpc must be "2.0"`)
		return nil, &resp
	}
	if req.Method == "" && !req.IsNotification() {
		resp := failure(req.ID, ErrCodeInvalidReq, "method is required")
		return nil, &resp
	}
	return &req, nil
}

func success(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func failure(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
