package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestRun_Arguments(t *testing.T) {
	var out bytes.Buffer
	if err := run(t.Context(), nil, &out, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if out.Len() == 0 {
		t.Error("version printed nothing")
	}

	if err := run(t.Context(), nil, io.Discard, io.Discard, []string{"serve"}); err == nil {
		t.Error("unknown argument should fail")
	}
}

func TestRun_MissingCredentials(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BIGCOMMERCE_STORE_HASH", "")
	t.Setenv("BIGCOMMERCE_ACCESS_TOKEN", "")
	os.Unsetenv("BIGCOMMERCE_STORE_HASH")
	os.Unsetenv("BIGCOMMERCE_ACCESS_TOKEN")

	err := run(t.Context(), strings.NewReader(""), io.Discard, io.Discard, nil)
	if err == nil || !strings.Contains(err.Error(), "BIGCOMMERCE") {
		t.Errorf("run = %v, want missing credential error", err)
	}
}

func TestRun_ServesTools(t *testing.T) {
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stores/abc/v3/customers" {
			t.Errorf("unexpected store request %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"id":7,"email":"ann@example.com"}],"meta":{}}`)
	}))
	defer store.Close()

	t.Chdir(t.TempDir())
	t.Setenv("BIGCOMMERCE_STORE_HASH", "abc")
	t.Setenv("BIGCOMMERCE_ACCESS_TOKEN", "tok")
	t.Setenv("BIGCOMMERCE_API_URL", store.URL)
	t.Setenv("STOREFRONT_LOG_LEVEL", "warn")
	t.Setenv("BIGCOMMERCE_HEALTH_INTERVAL", "0")

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- run(t.Context(), inR, outW, io.Discard, nil)
		outW.Close()
	}()

	lines := bufio.NewScanner(outR)
	lines.Buffer(make([]byte, 1<<20), 1<<20)
	call := func(id int, method string, params any) map[string]any {
		t.Helper()
		req, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
		if _, err := fmt.Fprintf(inW, "%s\n", req); err != nil {
			t.Fatalf("write %s: %v", method, err)
		}
		if !lines.Scan() {
			t.Fatalf("no response to %s: %v", method, lines.Err())
		}
		var resp map[string]any
		if err := json.Unmarshal(lines.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s response: %v", method, err)
		}
		if resp["error"] != nil {
			t.Fatalf("%s error: %v", method, resp["error"])
		}
		return resp["result"].(map[string]any)
	}

	hello := call(1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
		"capabilities":    map[string]any{},
	})
	if info := hello["serverInfo"].(map[string]any); info["name"] != "BigCommerce MCP Server" {
		t.Errorf("serverInfo = %v", info)
	}
	fmt.Fprintln(inW, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	res := call(2, "tools/call", map[string]any{
		"name":      "get_all_customers",
		"arguments": map[string]any{"limit": 5},
	})
	content := res["content"].([]any)[0].(map[string]any)
	var body map[string]any
	if err := json.Unmarshal([]byte(content["text"].(string)), &body); err != nil {
		t.Fatalf("tool result is not JSON: %v", err)
	}
	if body["success"] != true || body["message"] != "Retrieved 1 customers" {
		t.Errorf("tool result = %v", body)
	}

	inW.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run = %v, want clean exit on EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after stdin closed")
	}
}
