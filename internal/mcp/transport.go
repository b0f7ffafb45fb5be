package mcp

import "context"

// Transport carries JSON-RPC messages to a tool server.
type Transport interface {
	// Send sends a request and waits for the response with the same ID.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, notif *Notification) error

	// Close releases the transport. For stdio this stops the subprocess.
	Close() error
}
