// Package llm is the model-invocation boundary: a provider-neutral
// Client interface with OpenRouter and Anthropic implementations.
package llm

import "context"

// Client is the interface that all model providers implement.
type Client interface {
	// Chat sends one completion request and returns the model's reply.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Pinger is implemented by providers that can check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

const defaultMaxTokens = 1000
