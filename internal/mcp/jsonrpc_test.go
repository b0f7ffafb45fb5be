package mcp

import (
	"encoding/json"
	"testing"
)

func TestRequestOmitsNilParams(t *testing.T) {
	data, err := json.Marshal(NewRequest(7, "tools/list", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}
}

func TestNotificationHasNoID(t *testing.T) {
	data, err := json.Marshal(NewNotification("notifications/initialized", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["id"]; ok {
		t.Error("notification should not carry an id")
	}
	if _, ok := m["params"]; ok {
		t.Error("params should be omitted when nil")
	}
}

func TestRPCErrorString(t *testing.T) {
	e := &RPCError{Code: -32600, Message: "Invalid Request"}
	if got, want := e.Error(), "jsonrpc error -32600: Invalid Request"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestInboundKind(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want inboundKind
	}{
		{"result", `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, kindResponse},
		{"error", `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`, kindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, kindNotification},
		{"null id notification", `{"jsonrpc":"2.0","id":null,"method":"notifications/message"}`, kindNotification},
		{"server ping", `{"jsonrpc":"2.0","id":"srv-1","method":"ping"}`, kindServerRequest},
		{"empty object", `{}`, kindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m inbound
			if err := json.Unmarshal([]byte(tt.raw), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.kind(); got != tt.want {
				t.Errorf("kind() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInboundResponse_StringIDDoesNotMatch(t *testing.T) {
	var m inbound
	json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"abc","result":{}}`), &m)
	if _, ok := m.response(); ok {
		t.Error("response() accepted a string id")
	}

	json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":12,"error":{"code":-1,"message":"x"}}`), &m)
	resp, ok := m.response()
	if !ok {
		t.Fatal("response() rejected an integer id")
	}
	if resp.ID != 12 || resp.Error == nil || resp.Error.Message != "x" {
		t.Errorf("response() = %+v", resp)
	}
}

func TestInboundAnswer(t *testing.T) {
	var ping inbound
	json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"p1","method":"ping"}`), &ping)
	data, _ := json.Marshal(ping.answer())
	if want := `{"jsonrpc":"2.0","id":"p1","result":{}}`; string(data) != want {
		t.Errorf("ping answer = %s, want %s", data, want)
	}

	var sampling inbound
	json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":3,"method":"sampling/createMessage"}`), &sampling)
	r := sampling.answer()
	if r.Error == nil || r.Error.Code != codeMethodNotFound {
		t.Errorf("sampling answer error = %+v, want method not found", r.Error)
	}
}
