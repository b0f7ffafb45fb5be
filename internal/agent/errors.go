package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned when the model answers with neither
	// text nor tool calls.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrMaxRounds is returned when the model keeps requesting tools
	// past the configured round limit.
	ErrMaxRounds = errors.New("tool round limit reached")

	// ErrClientClosed is returned by a Client after Cleanup.
	ErrClientClosed = errors.New("client is closed")
)

// ToolInvocationError aborts a query when a tool call could not be
// carried out: undecodable arguments, a dead session or a protocol
// failure. Tool-reported errors are not invocation errors.
type ToolInvocationError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// ModelCallError wraps a failed model request.
type ModelCallError struct {
	Model string
	Err   error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }
