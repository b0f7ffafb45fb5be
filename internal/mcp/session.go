package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

// State is the connection state of a Session.
type State int32

// Session states. A session starts Disconnected, passes through
// Connecting to Connected, and through Closing to Closed. A failed
// connect returns it to Disconnected. Closed sessions may connect again.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Interpreter defaults used when SessionConfig leaves them empty.
const (
	DefaultPython = "python"
	DefaultNode   = "node"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Name labels the server in logs and the client handshake.
	Name string

	// Python and Node are the interpreter commands for .py and .js
	// server scripts.
	Python string
	Node   string

	// Env holds extra KEY=VALUE pairs for the subprocess.
	Env []string

	// ConnectTimeout bounds spawn, handshake and tool discovery. Zero
	// leaves Connect bounded only by its context.
	ConnectTimeout time.Duration

	// StopTimeout is the grace period given to the subprocess on
	// disconnect before it is killed.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// Session is the harness's connection to one tool server: the
// subprocess channel, the protocol client over it, and the tools it
// advertised at connect time.
//
// Connect and Disconnect are serialized. Invoke may run concurrently
// with either; an invocation caught by a teardown fails with
// [ErrSessionUnavailable].
type Session struct {
	config SessionConfig
	logger *slog.Logger
	newCmd func(name string, args ...string) *exec.Cmd

	opMu sync.Mutex // serializes Connect and Disconnect

	mu      sync.RWMutex
	state   State
	script  string
	channel *StdioTransport
	client  *Client
	tools   []ToolDefinition
}

// NewSession returns a disconnected session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Name == "" {
		cfg.Name = "storefront"
	}
	if cfg.Python == "" {
		cfg.Python = DefaultPython
	}
	if cfg.Node == "" {
		cfg.Node = DefaultNode
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		config: cfg,
		logger: logger.With("component", "mcp_session", "mcp_server", cfg.Name),
		newCmd: exec.Command,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the session is connected.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Script returns the server script of the current connection.
func (s *Session) Script() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.script
}

// ServerKind maps a server script to its interpreter command by suffix:
// .py runs under python, .js under node. Anything else is
// [ErrUnsupportedServerKind].
func ServerKind(script, python, node string) (string, error) {
	switch {
	case strings.HasSuffix(script, ".py"):
		return python, nil
	case strings.HasSuffix(script, ".js"):
		return node, nil
	default:
		return "", fmt.Errorf("%w: %q (server script must be .py or .js)", ErrUnsupportedServerKind, script)
	}
}

// stage is one acquired resource in a connect attempt, undone in
// reverse on failure.
type stage struct {
	name    string
	release func() error
}

// Connect spawns the server script, performs the handshake and lists
// its tools. Connecting an already connected session does nothing. On
// any failure every resource acquired so far is released in reverse
// order and the session returns to Disconnected.
func (s *Session) Connect(ctx context.Context, script string) (err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == StateConnected {
		s.logger.Debug("already connected", "script", s.Script())
		return nil
	}

	command, err := ServerKind(script, s.config.Python, s.config.Node)
	if err != nil {
		return err
	}

	if s.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}

	s.setState(StateConnecting)

	var acquired []stage
	defer func() {
		if err == nil {
			return
		}
		for i := len(acquired) - 1; i >= 0; i-- {
			if rerr := acquired[i].release(); rerr != nil {
				s.logger.Warn("error releasing after failed connect", "stage", acquired[i].name, "error", rerr)
			}
		}
		s.setState(StateDisconnected)
		s.logger.Error("failed to connect to tool server", "script", script, "error", err)
	}()

	channel := NewStdioTransport(StdioConfig{
		Command:     command,
		Args:        []string{script},
		Env:         s.config.Env,
		StopTimeout: s.config.StopTimeout,
		Logger:      s.logger,
	})
	channel.newCmd = s.newCmd
	if err = channel.Start(ctx); err != nil {
		return fmt.Errorf("start tool server: %w", err)
	}
	acquired = append(acquired, stage{"channel", channel.Close})

	client := NewClient(s.config.Name, channel, s.logger)
	acquired = append(acquired, stage{"session", client.Close})

	if err = client.Initialize(ctx); err != nil {
		return err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateConnected
	s.script = script
	s.channel = channel
	s.client = client
	s.tools = tools
	s.mu.Unlock()

	names := make([]string, len(tools))
	for i, td := range tools {
		names[i] = td.Name
	}
	s.logger.Info("connected to tool server",
		"script", script,
		"pid", channel.Pid(),
		"tools", names,
	)
	return nil
}

// ListCapabilities returns the tools discovered at connect time, in
// server order.
func (s *Session) ListCapabilities() ([]ToolDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected {
		return nil, ErrNotConnected
	}
	return slices.Clone(s.tools), nil
}

// Invoke calls a tool on the connected server. A tool-reported failure
// is returned as a result with IsError set. Invoking while not
// connected is [ErrNotConnected]; being torn down mid-call is
// [ErrSessionUnavailable].
func (s *Session) Invoke(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	s.mu.RLock()
	state, client := s.state, s.client
	s.mu.RUnlock()

	switch state {
	case StateConnected:
	case StateClosing:
		return nil, ErrSessionUnavailable
	default:
		return nil, ErrNotConnected
	}

	s.logger.Debug("invoking tool", "tool", name)
	res, err := client.CallTool(ctx, name, args)
	if err != nil {
		if !errors.Is(err, ErrSessionUnavailable) && s.generationEnded(client) {
			return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
		return nil, err
	}
	if s.generationEnded(client) {
		s.logger.Debug("discarding tool result from torn down session", "tool", name)
		return nil, ErrSessionUnavailable
	}
	return res, nil
}

// generationEnded reports whether the connection that owned client has
// been torn down since.
func (s *Session) generationEnded(client *Client) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != StateConnected || s.client != client
}

// Disconnect closes the protocol session and then the subprocess
// channel. Failures are logged, never returned; afterwards the session
// is Closed. Disconnecting a session that is not connected does
// nothing. ctx bounds the wait for the subprocess to exit.
func (s *Session) Disconnect(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	client, channel := s.client, s.channel
	s.mu.Unlock()

	s.logger.Info("disconnecting from tool server", "pid", channel.Pid())

	if err := client.Close(); err != nil {
		s.logger.Error("error closing tool server session", "error", err)
	}
	if err := channel.Shutdown(ctx); err != nil {
		s.logger.Error("error closing tool server channel", "error", err)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.client = nil
	s.channel = nil
	s.tools = nil
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
