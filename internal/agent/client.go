package agent

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/storefront-mcp/internal/lifecycle"
	"github.com/nugget/storefront-mcp/internal/llm"
)

// reclaimTimeout bounds the teardown scheduled when a still-connected
// Client is garbage collected.
const reclaimTimeout = 5 * time.Second

// Session is the tool server session a Client owns.
type Session interface {
	ToolSession
	Connect(ctx context.Context, script string) error
	Disconnect(ctx context.Context)
	Connected() bool
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Loop LoopConfig

	// Registry tracks the client for exit-time cleanup. Nil means
	// lifecycle.Default().
	Registry *lifecycle.Registry

	Logger *slog.Logger
}

// Client is one harness instance: a tool server session, the transcript
// of its latest query, and its lifecycle registration. Queries on one
// Client run one at a time.
//
// Call Cleanup (or Close) when done. If that is forgotten, the exit hook
// of the registry disconnects it, and a client that becomes unreachable
// while still connected has its session torn down in the background.
type Client struct {
	id         string
	session    Session
	loop       *Loop
	transcript *Transcript
	handle     *lifecycle.Handle
	logger     *slog.Logger
	closed     atomic.Bool

	queryMu sync.Mutex
}

// NewClient returns a client that answers queries with model over
// session.
func NewClient(model llm.Client, session Session, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = lifecycle.Default()
	}

	id := uuid.Must(uuid.NewV7()).String()
	logger = logger.With("client_id", id)

	loopCfg := cfg.Loop
	if loopCfg.Logger == nil {
		loopCfg.Logger = logger
	}

	c := &Client{
		id:         id,
		session:    session,
		loop:       NewLoop(model, session, loopCfg),
		transcript: &Transcript{},
		logger:     logger,
	}
	c.handle = registry.Track("client "+id, c.Cleanup)

	runtime.AddCleanup(c, func(s Session) {
		if !s.Connected() {
			return
		}
		logger.Warn("client reclaimed while connected, disconnecting")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), reclaimTimeout)
			defer cancel()
			s.Disconnect(ctx)
		}()
	}, session)

	return c
}

// ID returns the client's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Connect connects the session to the tool server at script.
func (c *Client) Connect(ctx context.Context, script string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.session.Connect(ctx, script)
}

// Tools returns the tools the connected server advertises.
func (c *Client) Tools() ([]ToolInfo, error) {
	defs, err := c.session.ListCapabilities()
	if err != nil {
		return nil, err
	}
	out := make([]ToolInfo, len(defs))
	for i, d := range defs {
		out[i] = ToolInfo{Name: d.Name, Description: d.Description}
	}
	return out, nil
}

// ToolInfo names and describes one available tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProcessQuery answers query and returns the full transcript. The
// transcript is reset first, so it only ever holds the latest query.
// On error the returned transcript holds everything recorded before
// the failure.
func (c *Client) ProcessQuery(ctx context.Context, query string) ([]llm.Message, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	c.transcript.Reset()
	conversationID := uuid.Must(uuid.NewV7()).String()

	err := c.loop.Run(ctx, conversationID, query, c.transcript)
	return c.transcript.Messages(), err
}

// Messages returns the transcript of the latest query.
func (c *Client) Messages() []llm.Message {
	return c.transcript.Messages()
}

// Cleanup disconnects the session and drops the lifecycle registration.
// It is safe to call more than once; teardown failures are logged by
// the session and never returned.
func (c *Client) Cleanup(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Debug("cleaning up client")
	c.session.Disconnect(ctx)
	c.handle.Release()
	return nil
}

// Close is Cleanup with a background context.
func (c *Client) Close() error {
	return c.Cleanup(context.Background())
}
