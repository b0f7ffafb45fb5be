// Package agent drives the conversation between a model and the tools
// of a connected tool server.
//
// [Loop] runs one query: it seeds a transcript with the user's text,
// asks the model for a reply with the full tool list attached, executes
// any requested tool calls in order and feeds the results back until
// the model answers in text. [Client] owns a tool server session and a
// transcript and registers itself for cleanup at process exit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/storefront-mcp/internal/llm"
	"github.com/nugget/storefront-mcp/internal/mcp"
)

// toolErrorPrefix marks tool output the server flagged as an error so
// the model can tell it apart from data.
const toolErrorPrefix = "[tool error] "

// ToolSession is the part of a tool server session the loop needs.
type ToolSession interface {
	ListCapabilities() ([]mcp.ToolDefinition, error)
	Invoke(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
}

// Recorder receives every message appended to a transcript.
type Recorder interface {
	RecordMessage(ctx context.Context, conversationID string, seq int, msg llm.Message) error
}

// UsageRecorder receives every successful model response.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, conversationID string, resp *llm.ChatResponse) error
}

// LoopConfig tunes a Loop.
type LoopConfig struct {
	Model     string
	MaxTokens int

	// MaxRounds caps model calls per query. Zero means no cap.
	MaxRounds int

	// ModelTimeout and ToolTimeout bound each model call and each tool
	// invocation. Zero leaves them bounded only by the query context.
	ModelTimeout time.Duration
	ToolTimeout  time.Duration

	// SystemPrompt is sent ahead of the transcript on every model call.
	// It is not part of the transcript.
	SystemPrompt string

	// Include and Exclude filter the server's tools by name before
	// they are offered to the model.
	Include []string
	Exclude []string

	Recorder Recorder
	Usage    UsageRecorder
	Logger   *slog.Logger
}

// Loop runs queries against a model and a tool session.
type Loop struct {
	model   llm.Client
	session ToolSession
	cfg     LoopConfig
	logger  *slog.Logger
}

// NewLoop returns a loop over model and session.
func NewLoop(model llm.Client, session ToolSession, cfg LoopConfig) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		model:   model,
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "agent_loop"),
	}
}

// Run answers query, appending every message to tr. On success the last
// message in tr is the assistant's text answer. On failure tr keeps
// everything appended before the failure.
func (l *Loop) Run(ctx context.Context, conversationID, query string, tr *Transcript) error {
	defs, err := l.session.ListCapabilities()
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	tools, err := mcp.FunctionTools(mcp.FilterTools(defs, l.cfg.Include, l.cfg.Exclude))
	if err != nil {
		return fmt.Errorf("describe tools: %w", err)
	}

	log := l.logger.With("conversation_id", conversationID)
	log.Info("query started", "model", l.cfg.Model, "tools", len(tools))
	start := time.Now()

	l.append(ctx, conversationID, tr, llm.Message{Role: llm.RoleUser, Content: query})

	for round := 1; ; round++ {
		if l.cfg.MaxRounds > 0 && round > l.cfg.MaxRounds {
			log.Warn("round limit reached", "max_rounds", l.cfg.MaxRounds)
			return fmt.Errorf("%w (%d)", ErrMaxRounds, l.cfg.MaxRounds)
		}

		resp, err := l.callModel(ctx, tr, tools)
		if err != nil {
			return &ModelCallError{Model: l.cfg.Model, Err: err}
		}
		l.recordUsage(ctx, conversationID, resp)

		reply := resp.Message
		log.Debug("model replied",
			"round", round,
			"tool_calls", len(reply.ToolCalls),
			"content_len", len(reply.Content),
			"finish_reason", resp.FinishReason,
		)

		if len(reply.ToolCalls) == 0 {
			if strings.TrimSpace(reply.Content) == "" {
				return ErrEmptyResponse
			}
			l.append(ctx, conversationID, tr, llm.Message{Role: llm.RoleAssistant, Content: reply.Content})
			log.Info("query finished", "rounds", round, "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		}

		calls := normalizeCalls(reply.ToolCalls, round)
		l.append(ctx, conversationID, tr, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: calls,
		})

		for _, tc := range calls {
			content, err := l.invoke(ctx, tc)
			if err != nil {
				log.Error("tool invocation failed", "tool", tc.Function.Name, "call_id", tc.ID, "error", err)
				return &ToolInvocationError{Tool: tc.Function.Name, CallID: tc.ID, Err: err}
			}
			l.append(ctx, conversationID, tr, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}
}

func (l *Loop) callModel(ctx context.Context, tr *Transcript, tools []map[string]any) (*llm.ChatResponse, error) {
	if l.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ModelTimeout)
		defer cancel()
	}

	msgs := tr.Messages()
	if l.cfg.SystemPrompt != "" {
		msgs = append([]llm.Message{{Role: llm.RoleSystem, Content: l.cfg.SystemPrompt}}, msgs...)
	}

	resp, err := l.model.Chat(ctx, &llm.ChatRequest{
		Model:     l.cfg.Model,
		Messages:  msgs,
		Tools:     tools,
		MaxTokens: l.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("provider returned no response")
	}
	return resp, nil
}

// invoke runs one tool call and renders its result as tool message
// content.
func (l *Loop) invoke(ctx context.Context, tc llm.ToolCall) (string, error) {
	args, err := tc.DecodeArguments()
	if err != nil {
		return "", err
	}

	if l.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := l.session.Invoke(ctx, tc.Function.Name, args)
	if err != nil {
		return "", err
	}

	l.logger.Info("tool called",
		"tool", tc.Function.Name,
		"call_id", tc.ID,
		"is_error", res.IsError,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	content := res.Text()
	if res.IsError {
		content = toolErrorPrefix + content
	}
	return content, nil
}

func (l *Loop) append(ctx context.Context, conversationID string, tr *Transcript, msg llm.Message) {
	seq := tr.Append(msg)
	if l.cfg.Recorder == nil {
		return
	}
	if err := l.cfg.Recorder.RecordMessage(ctx, conversationID, seq, msg); err != nil {
		l.logger.Warn("failed to record message", "conversation_id", conversationID, "seq", seq, "error", err)
	}
}

func (l *Loop) recordUsage(ctx context.Context, conversationID string, resp *llm.ChatResponse) {
	if l.cfg.Usage == nil {
		return
	}
	if err := l.cfg.Usage.RecordUsage(ctx, conversationID, resp); err != nil {
		l.logger.Warn("failed to record usage", "conversation_id", conversationID, "error", err)
	}
}

// normalizeCalls fills in IDs and types some providers leave out, so
// every tool message can reference its call.
func normalizeCalls(calls []llm.ToolCall, round int) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d_%d", round, i)
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		out[i] = tc
	}
	return out
}
