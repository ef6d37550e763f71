package credits

import (
	"context"
	"fmt"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/analytics"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/llm"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/pricing"
)

// AnonymousUser marks a request with no identified user. Anonymous calls
// are neither gated nor debited, and their usage records carry no user id.
const AnonymousUser int64 = 0

// Ledger is the balance operations the meter needs.
type Ledger interface {
	Balance(ctx context.Context, userID int64) (int64, error)
	Debit(ctx context.Context, userID, amount int64) (int64, error)
}

// Recorder persists per-call usage records.
type Recorder interface {
	RecordUsage(ctx context.Context, rec analytics.UsageRecord) error
}

// Meter gates provider calls on credit balance and settles their cost
// afterwards: price the usage, record it, debit the total tokens.
type Meter struct {
	ledger Ledger
	usage  Recorder
	logger log.Logger
}

// NewMeter creates a meter over the given ledger and usage recorder.
func NewMeter(ledger Ledger, usage Recorder, logger log.Logger) *Meter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Meter{ledger: ledger, usage: usage, logger: logger}
}

// Gate returns ErrInsufficientCredits when the user's balance cannot cover
// a provider call. It must run before the call so an exhausted user spends
// nothing.
func (m *Meter) Gate(ctx context.Context, userID int64) error {
	if userID == AnonymousUser {
		return nil
	}
	balance, err := m.ledger.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance <= 0 {
		return fmt.Errorf("%w: user %d", ErrInsufficientCredits, userID)
	}
	return nil
}

// Settle prices one completed provider call, records its usage and debits
// the user by the call's total tokens. Recording and debit failures are
// logged but do not fail the settled call; the response was already served.
func (m *Meter) Settle(ctx context.Context, userID int64, model string, usage llm.Usage, latencyMS int64, logID *int64) error {
	breakdown, err := pricing.Cost(model, usage.PromptTokens, usage.CompletionTokens, 0)
	if err != nil {
		return fmt.Errorf("settle call: %w", err)
	}

	rec := analytics.UsageRecord{
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		PromptCost:       breakdown.PromptCost,
		CompletionCost:   breakdown.CompletionCost,
		TotalCost:        breakdown.TotalCost,
		LatencyMS:        latencyMS,
		LogID:            logID,
	}
	if userID != AnonymousUser {
		uid := userID
		rec.UserID = &uid
	}
	if err := m.usage.RecordUsage(ctx, rec); err != nil {
		m.logger.Error("failed to record usage", "model", model, "error", err)
	}

	if userID != AnonymousUser && usage.TotalTokens > 0 {
		if _, err := m.ledger.Debit(ctx, userID, int64(usage.TotalTokens)); err != nil {
			m.logger.Error("failed to debit credits",
				"user_id", userID,
				"tokens", usage.TotalTokens,
				"error", err)
		}
	}
	return nil
}

// SettleEmbedding settles an embedding call. Embedding responses report no
// usage, so input tokens are counted locally with the model's tokenizer.
func (m *Meter) SettleEmbedding(ctx context.Context, userID int64, model, input string, latencyMS int64) error {
	tokens := llm.CountTokens(model, input)
	return m.Settle(ctx, userID, model, llm.Usage{
		PromptTokens: tokens,
		TotalTokens:  tokens,
	}, latencyMS, nil)
}
