package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/analytics"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/credits"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedCompleter struct {
	model     string
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	i := len(c.requests)
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return nil, errors.New("unexpected completion call")
}

func (c *scriptedCompleter) Model() string { return c.model }

type fakeSearcher struct {
	cfrResult string
	m21Result string
	err       error
	cfrCalls  []string
	m21Calls  []string
	userIDs   []int64
}

func (f *fakeSearcher) SearchCFR(_ context.Context, userID int64, query string) (string, error) {
	f.cfrCalls = append(f.cfrCalls, query)
	f.userIDs = append(f.userIDs, userID)
	return f.cfrResult, f.err
}

func (f *fakeSearcher) SearchM21(_ context.Context, userID int64, query string) (string, error) {
	f.m21Calls = append(f.m21Calls, query)
	f.userIDs = append(f.userIDs, userID)
	return f.m21Result, f.err
}

type memStore struct {
	logs   []analytics.RequestLog
	usages []analytics.UsageRecord
}

func (m *memStore) LogRequest(_ context.Context, rl analytics.RequestLog) (int64, error) {
	rl.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, rl)
	return rl.ID, nil
}

func (m *memStore) RecordUsage(_ context.Context, rec analytics.UsageRecord) error {
	m.usages = append(m.usages, rec)
	return nil
}

type fakeMeter struct {
	gateErr error
	gates   int
	settled []llm.Usage
	logIDs  []*int64
}

func (f *fakeMeter) Gate(_ context.Context, _ int64) error {
	f.gates++
	return f.gateErr
}

func (f *fakeMeter) Settle(_ context.Context, _ int64, _ string, usage llm.Usage, _ int64, logID *int64) error {
	f.settled = append(f.settled, usage)
	f.logIDs = append(f.logIDs, logID)
	return nil
}

const testModel = "gpt-4.1-nano-2025-04-14"

func TestProcessChatEmptyMessage(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	svc := NewService(&scriptedCompleter{model: testModel}, &fakeSearcher{}, store, &fakeMeter{}, nil)

	_, err := svc.ProcessChat(context.Background(), "", nil, 7)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, store.logs, "nothing logged for a rejected request")
}

func TestProcessChatPlainResponse(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{
		model: testModel,
		responses: []*llm.Response{{
			Content: "Tinnitus is rated at 10 percent under 38 CFR 4.87.",
			Usage:   llm.Usage{PromptTokens: 200, CompletionTokens: 40, TotalTokens: 240},
			Raw:     json.RawMessage(`{"choices":[{}]}`),
		}},
	}
	store := &memStore{}
	meter := &fakeMeter{}
	svc := NewService(completer, &fakeSearcher{}, store, meter, nil)

	result, err := svc.ProcessChat(context.Background(), "what is the tinnitus rating?", nil, 7)
	require.NoError(t, err)

	assert.Equal(t, "Tinnitus is rated at 10 percent under 38 CFR 4.87.", result.ChatResponse)
	assert.Equal(t, 240, result.TokenUsage.TotalTokens)
	assert.Positive(t, result.Cost.TotalCost)

	// persona, user, time context, assistant
	kinds := historyKinds(result.ConversationHistory)
	assert.Equal(t, []Kind{KindPersona, KindUser, KindTimeContext, KindAssistant}, kinds)

	require.Len(t, completer.requests, 1)
	assert.Len(t, completer.requests[0].Tools, 2, "primary call advertises both search tools")
	assert.Equal(t, chatMaxTokens, completer.requests[0].MaxTokens)

	require.Len(t, store.logs, 1)
	logEntry := store.logs[0]
	assert.Equal(t, analytics.StatusSuccess, logEntry.Status)
	assert.Equal(t, "what is the tinnitus rating?", logEntry.RequestPrompt)
	require.NotNil(t, logEntry.UserID)
	assert.Equal(t, int64(7), *logEntry.UserID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(logEntry.RequestPayload, &payload))
	assert.Equal(t, testModel, payload["model"])
	assert.EqualValues(t, chatMaxTokens, payload["max_completion_tokens"])
	assert.Len(t, payload["functions"], 2)

	assert.Equal(t, 1, meter.gates)
	require.Len(t, meter.settled, 1)
	assert.Equal(t, 240, meter.settled[0].TotalTokens)
	require.NotNil(t, meter.logIDs[0])
	assert.Equal(t, int64(1), *meter.logIDs[0])
}

func TestProcessChatToolRoundTrip(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{
		model: testModel,
		responses: []*llm.Response{
			{
				ToolCall: &llm.ToolCall{ID: "call_1", Name: "cfr_search", Arguments: `{"query":"tinnitus rating"}`},
				Usage:    llm.Usage{PromptTokens: 180, CompletionTokens: 20, TotalTokens: 200},
			},
			{
				Content: "Under Section 4.87, tinnitus receives a single 10 percent rating.",
				Usage:   llm.Usage{PromptTokens: 400, CompletionTokens: 60, TotalTokens: 460},
				Raw:     json.RawMessage(`{"choices":[{}]}`),
			},
		},
	}
	searcher := &fakeSearcher{cfrResult: "---\nSection 4.87:\nTinnitus, recurrent."}
	store := &memStore{}
	meter := &fakeMeter{}
	svc := NewService(completer, searcher, store, meter, nil)

	result, err := svc.ProcessChat(context.Background(), "whats the tinnitus rating", nil, 7)
	require.NoError(t, err)

	assert.Equal(t, []string{"tinnitus rating"}, searcher.cfrCalls)
	assert.Equal(t, []int64{7}, searcher.userIDs)

	// The turn makes exactly two completion calls; the follow-up advertises
	// no tools, so a second tool round is impossible.
	require.Len(t, completer.requests, 2)
	assert.Empty(t, completer.requests[1].Tools)

	// The follow-up transcript replays the tool call and its result.
	followUp := completer.requests[1].Messages
	require.GreaterOrEqual(t, len(followUp), 2)
	assistantCall := followUp[len(followUp)-2]
	toolResult := followUp[len(followUp)-1]
	require.NotNil(t, assistantCall.ToolCall)
	assert.Equal(t, "cfr_search", assistantCall.ToolCall.Name)
	assert.Equal(t, llm.RoleTool, toolResult.Role)
	assert.Equal(t, searcher.cfrResult, toolResult.Content)
	assert.Equal(t, "call_1", toolResult.ToolCallID)

	// Caller-visible history gains the tool result and the final answer.
	kinds := historyKinds(result.ConversationHistory)
	assert.Equal(t, []Kind{KindPersona, KindUser, KindTimeContext, KindTool, KindAssistant}, kinds)

	// Usage and cost reflect the final call.
	assert.Equal(t, 460, result.TokenUsage.TotalTokens)
	require.Len(t, meter.settled, 1)
	assert.Equal(t, 460, meter.settled[0].TotalTokens)

	require.Len(t, store.logs, 1)
	assert.Equal(t, analytics.StatusSuccess, store.logs[0].Status)
}

func TestProcessChatM21Tool(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{
		model: testModel,
		responses: []*llm.Response{
			{ToolCall: &llm.ToolCall{ID: "call_9", Name: "m21_search", Arguments: `{"query":"claim development"}`}},
			{Content: "See Article IV.ii.1.A.", Usage: llm.Usage{TotalTokens: 100}},
		},
	}
	searcher := &fakeSearcher{m21Result: "---\nArticle IV.ii.1.A:\n..."}
	svc := NewService(completer, searcher, &memStore{}, &fakeMeter{}, nil)

	result, err := svc.ProcessChat(context.Background(), "how are claims developed", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"claim development"}, searcher.m21Calls)
	assert.Equal(t, "See Article IV.ii.1.A.", result.ChatResponse)
}

func TestProcessChatFailures(t *testing.T) {
	t.Parallel()

	t.Run("provider error records error log and zero usage", func(t *testing.T) {
		t.Parallel()
		completer := &scriptedCompleter{model: testModel, errs: []error{errors.New("upstream timeout")}}
		store := &memStore{}
		svc := NewService(completer, &fakeSearcher{}, store, &fakeMeter{}, nil)

		_, err := svc.ProcessChat(context.Background(), "hello", nil, 7)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upstream timeout")

		require.Len(t, store.logs, 1)
		logEntry := store.logs[0]
		assert.Equal(t, analytics.StatusError, logEntry.Status)
		assert.Contains(t, logEntry.ErrorMessage, "upstream timeout")
		assert.Nil(t, logEntry.ResponseJSON)
		assert.NotEmpty(t, logEntry.RequestPayload, "the attempted payload is preserved")

		require.Len(t, store.usages, 1)
		usage := store.usages[0]
		assert.Zero(t, usage.TotalTokens)
		assert.Zero(t, usage.TotalCost)
		assert.Equal(t, testModel, usage.Model)
		require.NotNil(t, usage.LogID)
		assert.Equal(t, logEntry.ID, *usage.LogID)
	})

	t.Run("exhausted credits block before the provider call", func(t *testing.T) {
		t.Parallel()
		completer := &scriptedCompleter{model: testModel}
		store := &memStore{}
		meter := &fakeMeter{gateErr: credits.ErrInsufficientCredits}
		svc := NewService(completer, &fakeSearcher{}, store, meter, nil)

		_, err := svc.ProcessChat(context.Background(), "hello", nil, 7)
		assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
		assert.Empty(t, completer.requests, "no tokens spent for an exhausted user")

		require.Len(t, store.logs, 1)
		assert.Equal(t, analytics.StatusError, store.logs[0].Status)
		require.Len(t, store.usages, 1)
		assert.Zero(t, store.usages[0].TotalTokens)
	})

	t.Run("malformed tool arguments fail the turn", func(t *testing.T) {
		t.Parallel()
		completer := &scriptedCompleter{
			model: testModel,
			responses: []*llm.Response{
				{ToolCall: &llm.ToolCall{ID: "call_1", Name: "cfr_search", Arguments: `{"query":`}},
			},
		}
		store := &memStore{}
		svc := NewService(completer, &fakeSearcher{}, store, &fakeMeter{}, nil)

		_, err := svc.ProcessChat(context.Background(), "hello", nil, 0)
		require.Error(t, err)
		assert.Len(t, completer.requests, 1, "no follow-up after a bad tool call")
		require.Len(t, store.logs, 1)
		assert.Equal(t, analytics.StatusError, store.logs[0].Status)
	})

	t.Run("unknown tool fails the turn", func(t *testing.T) {
		t.Parallel()
		completer := &scriptedCompleter{
			model: testModel,
			responses: []*llm.Response{
				{ToolCall: &llm.ToolCall{ID: "call_1", Name: "delete_everything", Arguments: `{"query":"x"}`}},
			},
		}
		svc := NewService(completer, &fakeSearcher{}, &memStore{}, &fakeMeter{}, nil)

		_, err := svc.ProcessChat(context.Background(), "hello", nil, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "delete_everything")
	})

	t.Run("searcher error fails the turn", func(t *testing.T) {
		t.Parallel()
		completer := &scriptedCompleter{
			model: testModel,
			responses: []*llm.Response{
				{ToolCall: &llm.ToolCall{ID: "call_1", Name: "cfr_search", Arguments: `{"query":"x"}`}},
			},
		}
		searcher := &fakeSearcher{err: errors.New("index unreachable")}
		store := &memStore{}
		svc := NewService(completer, searcher, store, &fakeMeter{}, nil)

		_, err := svc.ProcessChat(context.Background(), "hello", nil, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "index unreachable")
		require.Len(t, store.logs, 1)
		assert.Equal(t, analytics.StatusError, store.logs[0].Status)
	})
}

func TestProcessChatPreservesPriorHistory(t *testing.T) {
	t.Parallel()

	prior := []Message{
		{Kind: KindPersona, Content: personaPrompt},
		{Kind: KindUser, Content: "first question"},
		{Kind: KindTimeContext, Content: "Current time: 2025-06-15 14:30:00 EST"},
		{Kind: KindAssistant, Content: "first answer"},
	}
	completer := &scriptedCompleter{
		model: testModel,
		responses: []*llm.Response{{
			Content: "second answer",
			Usage:   llm.Usage{TotalTokens: 50},
		}},
	}
	svc := NewService(completer, &fakeSearcher{}, &memStore{}, &fakeMeter{}, nil)

	result, err := svc.ProcessChat(context.Background(), "second question", prior, 0)
	require.NoError(t, err)

	// Context already present: nothing re-injected.
	kinds := historyKinds(result.ConversationHistory)
	assert.Equal(t, []Kind{KindPersona, KindUser, KindTimeContext, KindAssistant, KindUser, KindAssistant}, kinds)
	assert.Equal(t, "second question", result.ConversationHistory[4].Content)

	// The caller's slice is untouched.
	assert.Len(t, prior, 4)
}

func historyKinds(history []Message) []Kind {
	kinds := make([]Kind, 0, len(history))
	for _, m := range history {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}
