package mcp

import (
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Standard JSON-RPC error codes used when answering server requests.
const (
	codeMethodNotFound = -32601
)

// Request is an outbound JSON-RPC 2.0 request. The harness always uses
// integer IDs.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest returns a request with the given ID, method and params.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}

// Response is the reply to a Request. Exactly one of Result or Error
// is set in a well-formed response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a JSON-RPC 2.0 message with no ID and no reply.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification returns a notification for method.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: jsonrpcVersion, Method: method, Params: params}
}

// inbound is any frame the server may write: a response to one of our
// requests, a notification, or a request of its own. Server request IDs
// may be strings, so the ID is kept raw.
type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type inboundKind int

const (
	kindInvalid inboundKind = iota
	kindResponse
	kindNotification
	kindServerRequest
)

func (m *inbound) kind() inboundKind {
	hasID := len(m.ID) > 0 && string(m.ID) != "null"
	switch {
	case m.Method != "" && hasID:
		return kindServerRequest
	case m.Method != "":
		return kindNotification
	case hasID:
		return kindResponse
	default:
		return kindInvalid
	}
}

// response converts a response frame. Non-integer IDs cannot match
// any request we sent.
func (m *inbound) response() (*Response, bool) {
	var id int64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return nil, false
	}
	return &Response{JSONRPC: m.JSONRPC, ID: id, Result: m.Result, Error: m.Error}, true
}

// reply is our answer to a server-initiated request.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// answer builds the reply to a server request. Only ping is supported;
// sampling, roots and elicitation are refused.
func (m *inbound) answer() *reply {
	if m.Method == "ping" {
		return &reply{JSONRPC: jsonrpcVersion, ID: m.ID, Result: struct{}{}}
	}
	return &reply{
		JSONRPC: jsonrpcVersion,
		ID:      m.ID,
		Error:   &RPCError{Code: codeMethodNotFound, Message: "method not supported by client: " + m.Method},
	}
}
