package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nugget/storefront-mcp/internal/config"
)

// DefaultStopTimeout is how long Close waits for the subprocess to exit
// after its stdin is closed before killing it.
const DefaultStopTimeout = 5 * time.Second

// maxFrameSize bounds a single stdout line. A longer line closes the
// channel.
const maxFrameSize = 10 << 20

// StdioConfig configures a stdio transport that runs a tool server as a
// subprocess and exchanges newline-delimited JSON-RPC over its
// stdin and stdout.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are passed to the executable.
	Args []string

	// Env holds additional KEY=VALUE pairs appended to the current
	// process environment.
	Env []string

	// StopTimeout overrides DefaultStopTimeout.
	StopTimeout time.Duration

	// Logger receives transport diagnostics and the subprocess stderr.
	Logger *slog.Logger
}

// StdioTransport is the duplex channel to a tool server subprocess.
// Writes are serialized; a single reader goroutine routes responses to
// the waiting Send call by request ID, so concurrent Sends are safe.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	// newCmd builds the subprocess command. Tests replace it to run a
	// helper process instead of a real interpreter.
	newCmd func(name string, args ...string) *exec.Cmd

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu      sync.Mutex
	cmd     *exec.Cmd
	pending map[int64]chan *Response
	done    chan struct{} // closed when the reader goroutine exits
	exitErr error         // why the channel closed; set before done closes
	closing bool
}

// NewStdioTransport returns an unstarted transport. Call Start to spawn
// the subprocess.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
		newCmd: exec.Command,
	}
}

// Start spawns the subprocess. The process lifetime is independent of
// ctx; it only ends through Close or on its own. Start on a running
// transport is a no-op.
func (t *StdioTransport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		if t.done != nil && !isClosed(t.done) {
			return nil
		}
		return fmt.Errorf("%w: transport cannot be restarted", ErrTransportClosed)
	}

	t.logger.Info("starting tool server subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := t.newCmd(t.config.Command, t.config.Args...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start subprocess %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.pending = make(map[int64]chan *Response)
	t.done = make(chan struct{})

	go t.drainStderr(stderr)
	go t.readLoop(cmd, stdout)

	t.logger.Info("tool server subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// Pid returns the subprocess ID, or 0 if it was never started.
func (t *StdioTransport) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Done is closed once the subprocess has exited and the channel is
// unusable. It is nil before Start.
func (t *StdioTransport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Err reports why the channel closed, or nil while it is open.
func (t *StdioTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil || !isClosed(t.done) {
		return nil
	}
	return t.exitErr
}

// Send writes req and waits for the response with the same ID, for ctx
// to end, or for the channel to close.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	ch := make(chan *Response, 1)

	t.mu.Lock()
	if t.done == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: not started", ErrTransportClosed)
	}
	if t.closing || isClosed(t.done) {
		err := t.closedErr()
		t.mu.Unlock()
		return nil, err
	}
	if _, dup := t.pending[req.ID]; dup {
		t.mu.Unlock()
		return nil, fmt.Errorf("request id %d already in flight", req.ID)
	}
	t.pending[req.ID] = ch
	done := t.done
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}()

	if err := t.write(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		// A response routed just before shutdown still wins.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		t.mu.Lock()
		err := t.closedErr()
		t.mu.Unlock()
		return nil, err
	}
}

// Notify writes a notification.
func (t *StdioTransport) Notify(_ context.Context, notif *Notification) error {
	t.mu.Lock()
	if t.done == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: not started", ErrTransportClosed)
	}
	if t.closing || isClosed(t.done) {
		err := t.closedErr()
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	return t.write(notif)
}

// Close stops the subprocess: stdin is closed so the server can exit on
// its own, and it is killed if it has not exited within StopTimeout.
func (t *StdioTransport) Close() error {
	return t.Shutdown(context.Background())
}

// Shutdown is Close bounded additionally by ctx: the subprocess is
// killed at the earlier of StopTimeout and ctx ending. Pending Sends
// fail with ErrTransportClosed. Calling it again is a no-op.
func (t *StdioTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.cmd == nil || t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	cmd, done := t.cmd, t.done
	t.mu.Unlock()

	pid := cmd.Process.Pid
	t.logger.Info("stopping tool server subprocess", "pid", pid)

	// Not under writeMu: a write blocked on a full pipe holds it, and
	// closing stdin is what unblocks that write.
	t.stdin.Close()

	timer := time.NewTimer(t.config.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		t.mu.Lock()
		err := t.exitErr
		t.mu.Unlock()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("tool server exited: %w", exitErr)
		}
		return nil
	case <-timer.C:
		t.logger.Warn("tool server did not exit gracefully, killing", "pid", pid)
	case <-ctx.Done():
		t.logger.Warn("shutdown interrupted, killing tool server", "pid", pid, "error", ctx.Err())
	}

	_ = cmd.Process.Kill()
	<-done
	return nil
}

func (t *StdioTransport) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.logger.Log(context.Background(), config.LevelTrace, "tool server frame out", "frame", string(data))
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write to subprocess stdin: %v", ErrTransportClosed, err)
	}
	return nil
}

// readLoop owns stdout. It routes every frame until EOF, then reaps the
// process and closes done.
func (t *StdioTransport) readLoop(cmd *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxFrameSize)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			t.dispatch(line)
		}
	}
	readErr := scanner.Err()
	if readErr != nil {
		// Nobody reads stdout any more, so the server could block on
		// it forever.
		t.logger.Error("closing tool server channel", "pid", cmd.Process.Pid, "error", readErr)
		_ = cmd.Process.Kill()
	}

	// Wait must follow the last read from stdout.
	waitErr := cmd.Wait()

	t.mu.Lock()
	switch {
	case readErr != nil:
		t.exitErr = fmt.Errorf("read from subprocess stdout: %w", readErr)
	case waitErr != nil:
		t.exitErr = waitErr
	}
	close(t.done)
	t.mu.Unlock()

	t.logger.Debug("tool server subprocess exited", "pid", cmd.Process.Pid, "error", waitErr)
}

func (t *StdioTransport) dispatch(line []byte) {
	t.logger.Log(context.Background(), config.LevelTrace, "tool server frame in", "frame", string(line))

	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		t.logger.Debug("skipping non-JSON line from tool server", "line", string(line))
		return
	}

	switch msg.kind() {
	case kindResponse:
		resp, ok := msg.response()
		if !ok {
			t.logger.Debug("skipping response with foreign id", "id", string(msg.ID))
			return
		}
		t.mu.Lock()
		ch, found := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.mu.Unlock()
		if !found {
			t.logger.Debug("skipping unmatched response", "id", resp.ID)
			return
		}
		ch <- resp
	case kindNotification:
		t.logger.Debug("tool server notification", "method", msg.Method)
	case kindServerRequest:
		// Answer off the reader goroutine so a full stdin pipe cannot
		// stall response routing.
		go func() {
			if err := t.write(msg.answer()); err != nil {
				t.logger.Debug("failed to answer server request", "method", msg.Method, "error", err)
			}
		}()
	default:
		t.logger.Debug("skipping malformed frame from tool server", "line", string(line))
	}
}

func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("tool server stderr", "line", scanner.Text())
	}
}

// closedErr describes a closed channel. Caller must hold t.mu.
func (t *StdioTransport) closedErr() error {
	if t.exitErr != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, t.exitErr)
	}
	return ErrTransportClosed
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
	}
	return false
}
