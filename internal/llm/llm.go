// Package llm wraps the OpenAI chat-completion API behind a narrow
// interface the Agents (C7) depend on, generalizing the teacher's
// OpenAIChatModel.Call tool-call loop (ai/providers/openai/chat/model.go)
// from a single recursive Call into a bounded iterative loop suited to the
// per-sub-question state machine's round budget (spec §4.8, §6.4
// max_correction_attempts).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Role mirrors the OpenAI chat message roles this system emits or consumes.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single function-call request emitted by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is the provider-agnostic shape threaded through agent prompts.
type Message struct {
	Role       Role
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
	// TokenUsage is the estimated token_usage of Content (spec §3 Message),
	// populated by the orchestrator via internal/agentrun.CountTokens when
	// a message is appended to a Run's agent_thread. Zero when unset.
	TokenUsage int `json:"token_usage,omitempty"`
}

// ToolSpec describes one callable tool for the model's tool-calling surface.
// Parameters is a raw JSON Schema document, typically produced by
// github.com/invopop/jsonschema (spec DOMAIN STACK) from a Go struct.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Completion is one round-trip result: the assistant's message plus whether
// the model requested further tool calls.
type Completion struct {
	Message      Message
	FinishReason string
}

// Config configures the underlying OpenAI client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	// ToolCallRateLimit bounds tool calls per second during RunToolLoop, a
	// backstop ahead of the per-call tool_timeout budget (spec §6.4) so a
	// misbehaving agent cannot hammer a downstream tool faster than it can
	// be rate-limited elsewhere. Defaults to 5/s when unset.
	ToolCallRateLimit float64
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return errors.New("llm: api key is required")
	}
	if c.Model == "" {
		return errors.New("llm: model is required")
	}
	return nil
}

// Client is a thin chat-completion client. It holds no conversation state;
// callers own the message slice, matching the teacher's request-builder
// style (ai/client/chat/request.go) rather than a stateful session object.
type Client struct {
	api         openai.Client
	model       string
	temperature float64
	log         *logrus.Entry
	toolLimiter *rate.Limiter
}

// New constructs a Client from Config, applying defaults and validation in
// the teacher's Config+Validate idiom.
func New(cfg Config, log *logrus.Entry) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	rateLimit := cfg.ToolCallRateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}
	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		log:         log,
		toolLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}, nil
}

// Complete performs a single chat-completion call, optionally offering
// tools. It does not execute any returned tool calls; the caller inspects
// Completion.Message.ToolCalls and drives the loop (see RunToolLoop for the
// common case).
func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(c.temperature),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty choices in chat completion response")
	}

	choice := resp.Choices[0]
	msg := Message{
		Role:    RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &Completion{Message: msg, FinishReason: string(choice.FinishReason)}, nil
}

// ToolExecutor runs one tool call and returns its textual result, matching
// the teacher's CallableTool.Call(ctx, input) signature
// (ai/model/tool/tool.go) generalized to a plain function so callers don't
// need to stand up a full tool.Registry for a single-shot loop.
type ToolExecutor func(ctx context.Context, name string, arguments string) (string, error)

// RunToolLoop drives Complete repeatedly, executing tool calls via exec and
// feeding their results back as RoleTool messages, until the model stops
// requesting tools or maxRounds is exhausted. It returns the final
// completion and the full message history accumulated along the way
// (system/user messages the caller passed in, plus every assistant and tool
// message produced during the loop) so the caller can persist it into Run
// state.
//
// This generalizes the teacher's OpenAIChatModel.Call/Stream recursion
// (ai/providers/openai/chat/model.go) into an explicit bounded loop: the
// teacher recurses until the model stops calling tools, with no cap: this
// system needs a hard cap to honor max_correction_attempts and the
// tool_timeout budget (spec §6.4) for the cooperative scheduler.
func (c *Client) RunToolLoop(ctx context.Context, messages []Message, tools []ToolSpec, exec ToolExecutor, maxRounds int) (*Completion, []Message, error) {
	if maxRounds <= 0 {
		maxRounds = 1
	}

	history := make([]Message, len(messages))
	copy(history, messages)

	var last *Completion
	for round := 0; round < maxRounds; round++ {
		completion, err := c.Complete(ctx, history, tools)
		if err != nil {
			return nil, history, err
		}
		last = completion
		history = append(history, completion.Message)

		if len(completion.Message.ToolCalls) == 0 {
			return last, history, nil
		}

		for _, tc := range completion.Message.ToolCalls {
			select {
			case <-ctx.Done():
				return last, history, ctx.Err()
			default:
			}

			if err := c.toolLimiter.Wait(ctx); err != nil {
				return last, history, fmt.Errorf("llm: tool call rate limit: %w", err)
			}

			result, err := exec(ctx, tc.Name, tc.Arguments)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
				c.log.WithError(err).WithField("tool", tc.Name).Warn("tool execution failed")
			}
			history = append(history, Message{
				Role:       RoleTool,
				Content:    result,
				Name:       tc.Name,
				ToolCallID: tc.ID,
			})
		}
	}

	return last, history, fmt.Errorf("llm: exceeded max rounds (%d) without a final answer", maxRounds)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, assistantMessage(m))
		}
	}
	return out
}

// assistantMessage builds an assistant message param, re-attaching
// m.ToolCalls when present (ai/extensions/models/openai/chat_model.go
// buildAssistantMsg) so a tool-call round sent back on a later round still
// carries the tool_calls the subsequent RoleTool messages reference by
// tool_call_id — without it the API rejects the request.
func assistantMessage(m Message) openai.ChatCompletionMessageParamUnion {
	message := openai.AssistantMessage(m.Content)
	assistant := message.OfAssistant
	for _, tc := range m.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			},
		})
	}
	return message
}

func toOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(decodeSchema(t.Parameters)),
			},
		})
	}
	return out
}

func decodeSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}
