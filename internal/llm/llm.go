// Package llm provides the language-model provider client: chat completions
// with function-tool support and text embeddings, built on langchaingo's
// OpenAI bindings.
//
// Clients are explicitly constructed and injected into consumers; there are
// no package-level provider singletons.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// Role tags a chat message with its conversational role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "function"
)

// Message is one provider-facing chat message.
type Message struct {
	Role    Role
	Content string

	// ToolCall carries a model-issued tool call when replaying an
	// assistant turn that requested one (Role == RoleAssistant).
	ToolCall *ToolCall

	// ToolName and ToolCallID attribute a tool result message
	// (Role == RoleTool) to the call that produced it.
	ToolName   string
	ToolCallID string
}

// ToolCall is a model-emitted directive naming a callable and its
// serialized-JSON arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a callable function advertised to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage reports token consumption for one provider call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is one chat-completion invocation.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model string

	Messages  []Message
	MaxTokens int

	// Temperature is applied only when set; nil keeps the provider default.
	Temperature *float64

	// Tools advertised for this call. Empty means no tool schema is sent.
	Tools []Tool
}

// Response is the outcome of one chat-completion invocation.
type Response struct {
	// Content is the assistant text, empty when the model answered with a
	// tool call only.
	Content string

	// ToolCall is non-nil when the model requested a tool invocation.
	ToolCall *ToolCall

	Usage Usage

	// Raw is the provider response serialized for request logging.
	Raw json.RawMessage
}

// ErrNoCompletion indicates the provider returned no completion choices.
var ErrNoCompletion = errors.New("model returned no completion choices")

// Client is a chat-completion client bound to one default model.
type Client struct {
	llm    *openai.LLM
	model  string
	logger log.Logger
}

// NewClient creates a chat-completion client for the given credential and
// default model.
func NewClient(apiKey, model string, logger log.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key required")
	}
	client, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{llm: client, model: model, logger: logger}, nil
}

// Model returns the client's default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete performs one chat-completion call.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toMessageContent(m))
	}

	opts := make([]llms.CallOption, 0, 4)
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toLangchainTools(req.Tools)))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoCompletion
	}

	choice := resp.Choices[0]
	out := &Response{
		Content: choice.Content,
		Usage:   usageFromInfo(choice.GenerationInfo),
	}
	switch {
	case len(choice.ToolCalls) > 0 && choice.ToolCalls[0].FunctionCall != nil:
		tc := choice.ToolCalls[0]
		out.ToolCall = &ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		}
	case choice.FuncCall != nil:
		out.ToolCall = &ToolCall{
			Name:      choice.FuncCall.Name,
			Arguments: choice.FuncCall.Arguments,
		}
	}

	if raw, marshalErr := json.Marshal(resp); marshalErr == nil {
		out.Raw = raw
	} else {
		c.logger.Warn("failed to serialize provider response", "error", marshalErr)
	}

	return out, nil
}

// toMessageContent converts one Message to its langchaingo representation.
func toMessageContent(m Message) llms.MessageContent {
	switch m.Role {
	case RoleUser:
		return llms.TextParts(llms.ChatMessageTypeHuman, m.Content)
	case RoleAssistant:
		if m.ToolCall != nil {
			return llms.MessageContent{
				Role: llms.ChatMessageTypeAI,
				Parts: []llms.ContentPart{llms.ToolCall{
					ID:   m.ToolCall.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      m.ToolCall.Name,
						Arguments: m.ToolCall.Arguments,
					},
				}},
			}
		}
		return llms.TextParts(llms.ChatMessageTypeAI, m.Content)
	case RoleTool:
		return llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
				Content:    m.Content,
			}},
		}
	default:
		return llms.TextParts(llms.ChatMessageTypeSystem, m.Content)
	}
}

func toLangchainTools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// usageFromInfo extracts token counts from langchaingo's generation info.
// The OpenAI binding reports them as PromptTokens/CompletionTokens/TotalTokens.
func usageFromInfo(info map[string]any) Usage {
	return Usage{
		PromptTokens:     intFromInfo(info, "PromptTokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens"),
	}
}

func intFromInfo(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
