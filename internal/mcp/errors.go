package mcp

import "errors"

var (
	// ErrUnsupportedServerKind is returned by Session.Connect when the
	// server script suffix maps to no known interpreter. Nothing is
	// spawned.
	ErrUnsupportedServerKind = errors.New("unsupported tool server kind")

	// ErrNotConnected is returned for operations attempted while the
	// session is not connected. No I/O is attempted.
	ErrNotConnected = errors.New("not connected to tool server")

	// ErrSessionUnavailable is returned when the session was torn down
	// while an operation was in flight or starting.
	ErrSessionUnavailable = errors.New("tool server session unavailable")

	// ErrTransportClosed is returned by a transport whose subprocess has
	// exited or been stopped.
	ErrTransportClosed = errors.New("transport closed")
)
