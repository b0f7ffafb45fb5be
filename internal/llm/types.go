package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool responses
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries the model's arguments as the
// raw JSON text it produced.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments parses the raw arguments. Empty arguments decode to
// an empty map; anything but a JSON object is an error.
func (tc ToolCall) DecodeArguments() (map[string]any, error) {
	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", tc.Function.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ChatRequest is one model call: the whole transcript, every tool the
// model may call, and the output token cap.
type ChatRequest struct {
	Model     string
	Messages  []Message
	Tools     []map[string]any
	MaxTokens int
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at the provider boundary.
type ChatResponse struct {
	Model   string
	Message Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// FinishReason is the provider's stop reason, normalized to
	// "stop", "tool_calls" or "length" where a mapping exists.
	FinishReason string

	Duration time.Duration
}
