package mcp

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newTestSession(t *testing.T, rec *spawnRecorder) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		Name:           "helper",
		Python:         "python3",
		Node:           "node",
		ConnectTimeout: 10 * time.Second,
		StopTimeout:    500 * time.Millisecond,
	})
	s.newCmd = helperCommand(rec)
	t.Cleanup(func() { s.Disconnect(context.Background()) })
	return s
}

func TestServerKind(t *testing.T) {
	tests := []struct {
		script  string
		want    string
		wantErr bool
	}{
		{"server.py", "python3", false},
		{"/srv/tools/server.js", "node", false},
		{"server.sh", "", true},
		{"server.PY", "", true},
		{"server.pyc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			got, err := ServerKind(tt.script, "python3", "node")
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedServerKind) {
					t.Errorf("ServerKind(%q) error = %v, want ErrUnsupportedServerKind", tt.script, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ServerKind(%q) = %q, %v; want %q", tt.script, got, err, tt.want)
			}
		})
	}
}

func TestSession_UnsupportedKindSpawnsNothing(t *testing.T) {
	rec := &spawnRecorder{}
	s := newTestSession(t, rec)

	err := s.Connect(t.Context(), "server.rb")
	if !errors.Is(err, ErrUnsupportedServerKind) {
		t.Fatalf("Connect = %v, want ErrUnsupportedServerKind", err)
	}
	if rec.count() != 0 {
		t.Errorf("spawned %d processes, want 0", rec.count())
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestSession_ConnectSelectsInterpreter(t *testing.T) {
	for _, script := range []string{"server.py", "server.js"} {
		t.Run(script, func(t *testing.T) {
			rec := &spawnRecorder{}
			s := newTestSession(t, rec)

			if err := s.Connect(t.Context(), script); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			want := "python3"
			if script == "server.js" {
				want = "node"
			}
			if got := rec.last(); len(got) != 2 || got[0] != want || got[1] != script {
				t.Errorf("spawn = %v, want [%s %s]", got, want, script)
			}
		})
	}
}

func TestSession_ConnectListsTools(t *testing.T) {
	s := newTestSession(t, &spawnRecorder{})
	if err := s.Connect(t.Context(), "server.py"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Connected() {
		t.Fatalf("state = %v, want connected", s.State())
	}

	tools, err := s.ListCapabilities()
	if err != nil {
		t.Fatalf("ListCapabilities: %v", err)
	}
	var names []string
	for _, td := range tools {
		names = append(names, td.Name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"echo", "fail", "sleep"}) {
		t.Errorf("tools = %v, want echo fail sleep", names)
	}

	fns, err := FunctionTools(tools)
	if err != nil {
		t.Fatalf("FunctionTools: %v", err)
	}
	if len(fns) != len(tools) {
		t.Errorf("FunctionTools len = %d, want %d", len(fns), len(tools))
	}
}

func TestSession_ConnectIsIdempotent(t *testing.T) {
	rec := &spawnRecorder{}
	s := newTestSession(t, rec)

	for i := 0; i < 2; i++ {
		if err := s.Connect(t.Context(), "server.py"); err != nil {
			t.Fatalf("Connect #%d: %v", i+1, err)
		}
	}
	if rec.count() != 1 {
		t.Errorf("spawned %d processes, want 1", rec.count())
	}
}

func TestSession_InvokeNotConnected(t *testing.T) {
	rec := &spawnRecorder{}
	s := newTestSession(t, rec)

	_, err := s.Invoke(t.Context(), "echo", map[string]any{"text": "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Invoke = %v, want ErrNotConnected", err)
	}
	if _, err := s.ListCapabilities(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListCapabilities = %v, want ErrNotConnected", err)
	}
	if rec.count() != 0 {
		t.Error("Invoke while disconnected spawned a process")
	}
}

func TestSession_Invoke(t *testing.T) {
	s := newTestSession(t, &spawnRecorder{})
	if err := s.Connect(t.Context(), "server.py"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res, err := s.Invoke(t.Context(), "echo", map[string]any{"text": "hello storefront"})
	if err != nil {
		t.Fatalf("Invoke echo: %v", err)
	}
	if res.IsError || res.Text() != "hello storefront" {
		t.Errorf("echo = %+v", res)
	}

	res, err = s.Invoke(t.Context(), "fail", nil)
	if err != nil {
		t.Fatalf("Invoke fail: %v", err)
	}
	if !res.IsError || res.Text() != "boom" {
		t.Errorf("fail = %+v, want IsError with boom", res)
	}
	if !s.Connected() {
		t.Error("tool error disconnected the session")
	}
}

func TestSession_DisconnectTwice(t *testing.T) {
	s := newTestSession(t, &spawnRecorder{})
	if err := s.Connect(t.Context(), "server.py"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.Disconnect(t.Context())
	s.Disconnect(t.Context())

	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if _, err := s.Invoke(t.Context(), "echo", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Invoke after Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestSession_DisconnectNeverConnected(t *testing.T) {
	s := newTestSession(t, nil)
	s.Disconnect(t.Context())
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestSession_ReconnectAfterDisconnect(t *testing.T) {
	rec := &spawnRecorder{}
	s := newTestSession(t, rec)
	if err := s.Connect(t.Context(), "server.py"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.Disconnect(t.Context())

	if err := s.Connect(t.Context(), "server.js"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("spawned %d processes, want 2", rec.count())
	}
	if s.Script() != "server.js" {
		t.Errorf("Script() = %q, want server.js", s.Script())
	}
}

func TestSession_FailedConnectUnwinds(t *testing.T) {
	tests := []string{"crash.py", "dies_on_list.py"}
	for _, script := range tests {
		t.Run(script, func(t *testing.T) {
			s := newTestSession(t, &spawnRecorder{})

			if err := s.Connect(t.Context(), script); err == nil {
				t.Fatal("Connect should fail")
			}
			if s.State() != StateDisconnected {
				t.Errorf("state = %v, want disconnected", s.State())
			}
			s.mu.RLock()
			defer s.mu.RUnlock()
			if s.client != nil || s.channel != nil {
				t.Error("failed connect left resources attached")
			}
		})
	}
}

func TestSession_DisconnectDuringInvoke(t *testing.T) {
	s := newTestSession(t, &spawnRecorder{})
	if err := s.Connect(t.Context(), "server.py"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.Invoke(context.Background(), "sleep", map[string]any{"ms": 5000})
		errc <- err
	}()

	inFlight(t, s)
	s.Disconnect(t.Context())

	select {
	case err := <-errc:
		if !errors.Is(err, ErrSessionUnavailable) {
			t.Errorf("in-flight Invoke = %v, want ErrSessionUnavailable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight Invoke did not return after Disconnect")
	}
}

// inFlight waits until the session's channel has a request awaiting
// its reply.
func inFlight(t *testing.T, s *Session) {
	t.Helper()
	s.mu.RLock()
	ch := s.channel
	s.mu.RUnlock()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ch.mu.Lock()
		n := len(ch.pending)
		ch.mu.Unlock()
		if n > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no request in flight")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSession_ReplyDuringShutdownIsDiscarded(t *testing.T) {
	s := newTestSession(t, &spawnRecorder{})
	if err := s.Connect(t.Context(), "raw_server.py"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	type outcome struct {
		res *ToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Invoke(context.Background(), "held", nil)
		done <- outcome{res, err}
	}()

	inFlight(t, s)
	time.Sleep(50 * time.Millisecond)
	// The server answers held calls once its stdin closes, inside the
	// stop grace period.
	s.Disconnect(t.Context())

	select {
	case got := <-done:
		if !errors.Is(got.err, ErrSessionUnavailable) {
			t.Errorf("Invoke = %v, %v; want ErrSessionUnavailable", got.res, got.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight Invoke did not return after Disconnect")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestStateString(t *testing.T) {
	if StateClosing.String() != "closing" || State(42).String() != "State(42)" {
		t.Errorf("String() = %q, %q", StateClosing.String(), State(42).String())
	}
}
