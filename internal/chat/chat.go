package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/analytics"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/credits"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/llm"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/pricing"
)

// ErrEmptyMessage indicates a chat request with no user message.
var ErrEmptyMessage = errors.New("no message provided")

// chatMaxTokens bounds each completion in the chat pipeline.
const chatMaxTokens = 750

// Tool names the model may call.
const (
	toolCFRSearch = "cfr_search"
	toolM21Search = "m21_search"
)

func queryToolSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": description,
			},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}
}

var chatTools = []llm.Tool{
	{
		Name: toolCFRSearch,
		Description: "Search 38 CFR regulations. Transforms the user query, generates embeddings, " +
			"and retrieves relevant CFR sections using a Pinecone search.",
		Parameters: queryToolSchema("The user query for searching 38 CFR regulations."),
	},
	{
		Name: toolM21Search,
		Description: "Search the M21 Manual of VA Regulations. Transforms the user query, generates embeddings, " +
			"and retrieves relevant articles using a Pinecone search.",
		Parameters: queryToolSchema("The user query for searching the M21 Manual."),
	},
}

// toolArgs is the argument payload of both search tools.
type toolArgs struct {
	Query string `json:"query"`
}

// Completer is the chat-completion client the service needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	Model() string
}

// Searcher runs the retrieval tools.
type Searcher interface {
	SearchCFR(ctx context.Context, userID int64, query string) (string, error)
	SearchM21(ctx context.Context, userID int64, query string) (string, error)
}

// RequestStore persists request logs and usage records.
type RequestStore interface {
	LogRequest(ctx context.Context, rl analytics.RequestLog) (int64, error)
	RecordUsage(ctx context.Context, rec analytics.UsageRecord) error
}

// Meter gates and settles provider spend.
type Meter interface {
	Gate(ctx context.Context, userID int64) error
	Settle(ctx context.Context, userID int64, model string, usage llm.Usage, latencyMS int64, logID *int64) error
}

// Result is the response to one processed chat message.
type Result struct {
	ChatResponse        string            `json:"chat_response"`
	ConversationHistory []Message         `json:"conversation_history"`
	TokenUsage          llm.Usage         `json:"token_usage"`
	Cost                pricing.Breakdown `json:"cost"`
	LatencyMS           int64             `json:"latency_ms"`
}

// Service processes chat messages end to end.
type Service struct {
	completer Completer
	searcher  Searcher
	store     RequestStore
	meter     Meter
	logger    log.Logger
	now       func() time.Time
}

// NewService creates the chat service.
func NewService(completer Completer, searcher Searcher, store RequestStore, meter Meter, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		completer: completer,
		searcher:  searcher,
		store:     store,
		meter:     meter,
		logger:    logger,
		now:       time.Now,
	}
}

// requestPayload is the provider request shape stored with each log entry.
type requestPayload struct {
	Model               string     `json:"model"`
	Messages            []Message  `json:"messages"`
	MaxCompletionTokens int        `json:"max_completion_tokens"`
	Functions           []llm.Tool `json:"functions"`
}

// ProcessChat runs one conversational turn: inject context, call the model
// with the search tools, execute at most one tool round trip, and settle
// the exchange against the user's credits. history is the caller-supplied
// prior conversation; the returned history includes the new user message,
// any tool result, and the assistant's reply.
func (s *Service) ProcessChat(ctx context.Context, userMessage string, history []Message, userID int64) (*Result, error) {
	if userMessage == "" {
		return nil, ErrEmptyMessage
	}

	model := s.completer.Model()
	conversation := prepareContext(append(append([]Message{}, history...), Message{
		Kind:    KindUser,
		Content: userMessage,
	}), s.now())

	payload, err := json.Marshal(requestPayload{
		Model:               model,
		Messages:            conversation,
		MaxCompletionTokens: chatMaxTokens,
		Functions:           chatTools,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}

	start := s.now().UTC()

	fail := func(cause error) (*Result, error) {
		s.recordFailure(ctx, userID, model, userMessage, payload, start, cause)
		return nil, cause
	}

	// Spend is gated before any tokens leave the building.
	if err := s.meter.Gate(ctx, userID); err != nil {
		return fail(err)
	}

	resp, err := s.completer.Complete(ctx, llm.Request{
		Messages:  llmMessages(conversation),
		MaxTokens: chatMaxTokens,
		Tools:     chatTools,
	})
	if err != nil {
		return fail(fmt.Errorf("chat completion: %w", err))
	}

	// Latency covers the primary call only, matching what the latency
	// column has always meant.
	latencyMS := time.Since(start).Milliseconds()

	if resp.ToolCall != nil {
		resp, conversation, err = s.runToolRound(ctx, userID, conversation, resp.ToolCall)
		if err != nil {
			return fail(err)
		}
	}

	assistantText := resp.Content
	conversation = append(conversation, Message{Kind: KindAssistant, Content: assistantText})

	usage := resp.Usage
	cost, err := pricing.Cost(model, usage.PromptTokens, usage.CompletionTokens, 0)
	if err != nil {
		return fail(err)
	}

	end := s.now().UTC()
	logID, err := s.store.LogRequest(ctx, analytics.RequestLog{
		UserID:             optionalUserID(userID),
		RequestPrompt:      userMessage,
		RequestPayload:     payload,
		RequestSentAt:      start,
		ResponseJSON:       resp.Raw,
		ResponseReceivedAt: end,
		Status:             analytics.StatusSuccess,
	})
	if err != nil {
		s.logger.Error("failed to store request log", "error", err)
	}

	var logRef *int64
	if logID > 0 {
		logRef = &logID
	}
	if err := s.meter.Settle(ctx, userID, model, usage, latencyMS, logRef); err != nil {
		s.logger.Error("failed to settle chat call", "error", err)
	}

	return &Result{
		ChatResponse:        assistantText,
		ConversationHistory: conversation,
		TokenUsage:          usage,
		Cost:                cost,
		LatencyMS:           latencyMS,
	}, nil
}

// runToolRound executes one model-requested tool call and re-queries the
// model with the result. Only a single round is allowed per turn; the
// follow-up call advertises no tools.
func (s *Service) runToolRound(ctx context.Context, userID int64, conversation []Message, call *llm.ToolCall) (*llm.Response, []Message, error) {
	var args toolArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return nil, nil, fmt.Errorf("parse %s arguments: %w", call.Name, err)
	}

	var result string
	var err error
	switch call.Name {
	case toolCFRSearch:
		result, err = s.searcher.SearchCFR(ctx, userID, args.Query)
	case toolM21Search:
		result, err = s.searcher.SearchM21(ctx, userID, args.Query)
	default:
		return nil, nil, fmt.Errorf("model requested unknown tool %q", call.Name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", call.Name, err)
	}

	s.logger.Info("tool executed", "tool", call.Name, "result_len", len(result))

	conversation = append(conversation, Message{
		Kind:       KindTool,
		Content:    result,
		ToolName:   call.Name,
		ToolCallID: call.ID,
	})

	// The provider-facing transcript replays the assistant's tool call
	// before its result; the caller-visible history carries the result only.
	followUp := llmMessages(conversation[:len(conversation)-1])
	followUp = append(followUp,
		llm.Message{Role: llm.RoleAssistant, ToolCall: call},
		llm.Message{Role: llm.RoleTool, Content: result, ToolName: call.Name, ToolCallID: call.ID},
	)

	resp, err := s.completer.Complete(ctx, llm.Request{
		Messages:  followUp,
		MaxTokens: chatMaxTokens,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("follow-up completion: %w", err)
	}
	return resp, conversation, nil
}

// recordFailure logs the failed exchange and records a zero-usage row so
// the request still appears in analytics.
func (s *Service) recordFailure(ctx context.Context, userID int64, model, userMessage string, payload []byte, start time.Time, cause error) {
	end := s.now().UTC()
	logID, err := s.store.LogRequest(ctx, analytics.RequestLog{
		UserID:             optionalUserID(userID),
		RequestPrompt:      userMessage,
		RequestPayload:     payload,
		RequestSentAt:      start,
		ResponseReceivedAt: end,
		Status:             analytics.StatusError,
		ErrorMessage:       cause.Error(),
	})
	if err != nil {
		s.logger.Error("failed to store error log", "error", err)
	}

	var logRef *int64
	if logID > 0 {
		logRef = &logID
	}
	if err := s.store.RecordUsage(ctx, analytics.UsageRecord{
		UserID:    optionalUserID(userID),
		Model:     model,
		LatencyMS: end.Sub(start).Milliseconds(),
		LogID:     logRef,
	}); err != nil {
		s.logger.Error("failed to record zero-usage row", "error", err)
	}

	s.logger.Error("chat turn failed", "user_id", userID, "error", cause)
}

func optionalUserID(userID int64) *int64 {
	if userID == credits.AnonymousUser {
		return nil
	}
	uid := userID
	return &uid
}
