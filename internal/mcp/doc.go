// Package mcp is the harness side of the Model Context Protocol: it
// launches a tool server as a subprocess, speaks JSON-RPC 2.0 with it
// over stdin/stdout, discovers its tools via tools/list and invokes them
// via tools/call.
//
// Three layers stack on top of each other. [StdioTransport] owns the
// subprocess and the duplex line-delimited channel. [Client] is the
// protocol session over a [Transport]: handshake, listing and calls.
// [Session] ties both to a connection state machine with strict
// reverse-order teardown and is what the conversation loop talks to.
// [FunctionTools] converts discovered tools into the function-calling
// shape model APIs expect.
package mcp
