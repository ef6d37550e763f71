package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/testutil"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := NewStore(tdb.Pool, nil)
	ctx := context.Background()
	userID := int64(42)

	t.Run("empty summary is all zeros", func(t *testing.T) {
		summary, err := store.Summary(ctx)
		require.NoError(t, err)

		assert.Zero(t, summary.TotalCost)
		assert.Zero(t, summary.TotalRequests)
		assert.Zero(t, summary.AverageCostPerRequest)
		assert.NotNil(t, summary.RequestsByDate)
		assert.Empty(t, summary.RequestsByDate)
		assert.NotNil(t, summary.CostByModel)
		assert.Empty(t, summary.CostByModel)

		// The JSON payload must carry [] and {}, not null.
		data, err := json.Marshal(summary)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"requestsByDate":[]`)
		assert.Contains(t, string(data), `"costByModel":{}`)
	})

	var logID int64
	t.Run("log request and fetch it back", func(t *testing.T) {
		now := time.Now().UTC()
		id, err := store.LogRequest(ctx, RequestLog{
			UserID:             &userID,
			RequestPrompt:      "what is the rating for tinnitus?",
			RequestPayload:     json.RawMessage(`{"model":"gpt-4.1-nano-2025-04-14"}`),
			RequestSentAt:      now,
			ResponseJSON:       json.RawMessage(`{"choices":[]}`),
			ResponseReceivedAt: now.Add(120 * time.Millisecond),
			Status:             StatusSuccess,
		})
		require.NoError(t, err)
		require.Positive(t, id)
		logID = id

		got, err := store.Log(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		require.NotNil(t, got.UserID)
		assert.Equal(t, userID, *got.UserID)
		assert.Equal(t, StatusSuccess, got.Status)
		assert.Empty(t, got.ErrorMessage)
		assert.JSONEq(t, `{"model":"gpt-4.1-nano-2025-04-14"}`, string(got.RequestPayload))
	})

	t.Run("missing log", func(t *testing.T) {
		_, err := store.Log(ctx, 999999)
		assert.ErrorIs(t, err, ErrLogNotFound)
	})

	t.Run("record usage and summarize", func(t *testing.T) {
		require.NoError(t, store.RecordUsage(ctx, UsageRecord{
			UserID:           &userID,
			Model:            "gpt-4.1-nano-2025-04-14",
			PromptTokens:     1000,
			CompletionTokens: 200,
			TotalTokens:      1200,
			PromptCost:       0.0001,
			CompletionCost:   0.00008,
			TotalCost:        0.00018,
			LatencyMS:        350,
			LogID:            &logID,
		}))
		require.NoError(t, store.RecordUsage(ctx, UsageRecord{
			Model:          "text-embedding-3-small",
			PromptTokens:   50,
			TotalTokens:    50,
			PromptCost:     0.000001,
			TotalCost:      0.000001,
			LatencyMS:      40,
		}))

		summary, err := store.Summary(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(2), summary.TotalRequests)
		assert.InDelta(t, 0.000181, summary.TotalCost, 1e-9)
		assert.InDelta(t, 0.000181/2, summary.AverageCostPerRequest, 1e-9)
		assert.Equal(t, int64(1050), summary.TotalSentTokens)
		assert.Equal(t, int64(200), summary.TotalReceivedTokens)
		assert.Len(t, summary.RequestsByDate, 2)
		assert.InDelta(t, 0.00018, summary.CostByModel["gpt-4.1-nano-2025-04-14"], 1e-9)
		assert.InDelta(t, 0.000001, summary.CostByModel["text-embedding-3-small"], 1e-9)
	})

	t.Run("export lists all usage rows", func(t *testing.T) {
		rows, err := store.Export(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 1250, rows[0].TotalTokens+rows[1].TotalTokens)
	})

	t.Run("reset clears everything", func(t *testing.T) {
		require.NoError(t, store.Reset(ctx))

		summary, err := store.Summary(ctx)
		require.NoError(t, err)
		assert.Zero(t, summary.TotalRequests)

		_, err = store.Log(ctx, logID)
		assert.ErrorIs(t, err, ErrLogNotFound)
	})
}
