package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockTransport is a test double for the Transport interface. Each
// method has a queue of canned responses; the last one repeats.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string][]*Response
	sendErr   error
	onSend    func(*Request) // runs before the reply, without mu held
	sent      []Request
	notifs    []Notification
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{responses: make(map[string][]*Response)}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = append(m.responses[method], &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	})
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = append(m.responses[method], &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	})
}

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	if m.onSend != nil {
		m.onSend(req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *req)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	queue := m.responses[req.Method]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[req.Method] = queue[1:]
	}
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func initializedClient(t *testing.T, mt *mockTransport) *Client {
	t.Helper()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: "bigcommerce", Version: "1.2.0"},
	})
	c := NewClient("storefront", mt, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func TestClient_Initialize(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)

	if len(mt.sent) != 1 || mt.sent[0].Method != "initialize" {
		t.Fatalf("sent = %+v, want one initialize", mt.sent)
	}
	params := mt.sent[0].Params.(map[string]any)
	if params["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v", params["protocolVersion"])
	}
	if info := params["clientInfo"].(map[string]any); info["name"] != clientName {
		t.Errorf("clientInfo.name = %v, want %q", info["name"], clientName)
	}

	if len(mt.notifs) != 1 || mt.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notifications = %+v, want notifications/initialized", mt.notifs)
	}

	name, version := c.ServerInfo()
	if name != "bigcommerce" || version != "1.2.0" {
		t.Errorf("ServerInfo() = %q, %q", name, version)
	}
}

func TestClient_ListTools_FollowsCursorAndCaches(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)
	mt.addResponse("tools/list", toolsListResult{
		Tools:      []ToolDefinition{{Name: "get_products"}, {Name: "get_product"}},
		NextCursor: "page-2",
	})
	mt.addResponse("tools/list", toolsListResult{
		Tools: []ToolDefinition{{Name: "get_orders"}},
	})

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, td := range tools {
		names = append(names, td.Name)
	}
	if fmt.Sprint(names) != "[get_products get_product get_orders]" {
		t.Errorf("names = %v", names)
	}

	second := mt.sent[2]
	if p, ok := second.Params.(map[string]any); !ok || p["cursor"] != "page-2" {
		t.Errorf("second tools/list params = %v, want cursor page-2", second.Params)
	}

	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools (cached): %v", err)
	}
	if len(mt.sent) != 3 {
		t.Errorf("sent %d requests, want 3 (init + two pages)", len(mt.sent))
	}
}

func TestClient_CallTool(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)
	mt.addResponse("tools/call", ToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: `{"data":[{"id":77}]}`},
			{Type: "image"},
		},
	})

	res, err := c.CallTool(context.Background(), "get_products", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Error("IsError = true, want false")
	}
	if got, want := res.Text(), "{\"data\":[{\"id\":77}]}\n[image]"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}

	params := mt.sent[1].Params.(map[string]any)
	if args, ok := params["arguments"].(map[string]any); !ok || len(args) != 0 {
		t.Errorf("arguments = %v, want empty object for nil args", params["arguments"])
	}
}

func TestClient_CallTool_ToolErrorIsData(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)
	mt.addResponse("tools/call", ToolResult{
		Content: []ContentBlock{{Type: "text", Text: "API Error: 404 - not found"}},
		IsError: true,
	})

	res, err := c.CallTool(context.Background(), "get_order", map[string]any{"order_id": 9})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || res.Text() != "API Error: 404 - not found" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_CallTool_RPCError(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)
	mt.addError("tools/call", -32602, "unknown tool")

	_, err := c.CallTool(context.Background(), "nope", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 {
		t.Errorf("CallTool error = %v, want RPCError -32602", err)
	}
}

func TestClient_CloseEndsSessionNotTransport(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if mt.closed {
		t.Error("Close must not close the transport")
	}

	_, err := c.CallTool(context.Background(), "get_products", nil)
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("CallTool after Close = %v, want ErrSessionUnavailable", err)
	}
	if len(mt.sent) != 1 {
		t.Errorf("sent %d requests, want no I/O after Close", len(mt.sent))
	}
}

func TestClient_TransportFailureAfterClose(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)
	mt.sendErr = ErrTransportClosed

	_, err := c.CallTool(context.Background(), "x", nil)
	if !errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("open client error = %v, want bare ErrTransportClosed", err)
	}
}

func TestClient_ReplyAfterCloseIsDropped(t *testing.T) {
	mt := newMockTransport()
	c := initializedClient(t, mt)
	mt.addResponse("tools/call", map[string]any{
		"content": []map[string]any{{"type": "text", "text": "late"}},
	})
	mt.onSend = func(req *Request) {
		if req.Method == "tools/call" {
			c.Close()
		}
	}

	res, err := c.CallTool(context.Background(), "slow", nil)
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("CallTool = %v, %v; want ErrSessionUnavailable", res, err)
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		blocks []ContentBlock
		want   string
	}{
		{"single", []ContentBlock{{Type: "text", Text: "hello"}}, "hello"},
		{"joined", []ContentBlock{{Type: "text", Text: "a"}, {Type: "text", Text: "b"}}, "a\nb"},
		{"resource", []ContentBlock{{Type: "resource"}}, "[resource]"},
		{"unknown", []ContentBlock{{Type: "audio"}}, "[audio]"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractText(tt.blocks); got != tt.want {
				t.Errorf("extractText() = %q, want %q", got, tt.want)
			}
		})
	}
}
