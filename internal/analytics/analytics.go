// Package analytics persists request logs and per-call usage records, and
// aggregates them into the operator-facing summary.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// Request log status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrLogNotFound indicates no request log exists for the given id.
var ErrLogNotFound = errors.New("request log not found")

// RequestLog is one provider request/response exchange.
type RequestLog struct {
	ID                 int64           `json:"id"`
	UserID             *int64          `json:"user_id"`
	RequestPrompt      string          `json:"request_prompt"`
	RequestPayload     json.RawMessage `json:"request_payload"`
	RequestSentAt      time.Time       `json:"request_sent_at"`
	ResponseJSON       json.RawMessage `json:"response_json"`
	ResponseReceivedAt time.Time       `json:"response_received_at"`
	Status             string          `json:"status"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

// UsageRecord is one metered provider call.
type UsageRecord struct {
	UserID           *int64
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	PromptCost       float64
	CompletionCost   float64
	TotalCost        float64
	LatencyMS        int64
	LogID            *int64
}

// RequestSummary is one recent request in the summary payload.
type RequestSummary struct {
	Date           string  `json:"date"`
	Model          string  `json:"model"`
	SentTokens     int     `json:"sentTokens"`
	ReceivedTokens int     `json:"receivedTokens"`
	Cost           float64 `json:"cost"`
}

// Summary aggregates all recorded usage. An empty store yields zero values
// with empty (never null) collections.
type Summary struct {
	TotalCost             float64            `json:"totalCost"`
	TotalRequests         int64              `json:"totalRequests"`
	AverageCostPerRequest float64            `json:"averageCostPerRequest"`
	TotalSentTokens       int64              `json:"totalSentTokens"`
	TotalReceivedTokens   int64              `json:"totalReceivedTokens"`
	RequestsByDate        []RequestSummary   `json:"requestsByDate"`
	CostByModel           map[string]float64 `json:"costByModel"`
}

// ExportRow is one usage record in the CSV report.
type ExportRow struct {
	Date             time.Time
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	PromptCost       float64
	CompletionCost   float64
	TotalCost        float64
}

// Store persists analytics rows in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates an analytics store over the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// LogRequest inserts one request log and returns its id.
func (s *Store) LogRequest(ctx context.Context, rl RequestLog) (int64, error) {
	var errMsg *string
	if rl.ErrorMessage != "" {
		errMsg = &rl.ErrorMessage
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO request_logs (
			user_id, request_prompt, request_payload, request_sent_at,
			response_json, response_received_at, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rl.UserID, rl.RequestPrompt, rl.RequestPayload, rl.RequestSentAt,
		rl.ResponseJSON, rl.ResponseReceivedAt, rl.Status, errMsg,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert request log: %w", err)
	}
	return id, nil
}

// RecordUsage inserts one usage record.
func (s *Store) RecordUsage(ctx context.Context, rec UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_logs (
			user_id, model, prompt_tokens, completion_tokens, total_tokens,
			prompt_cost, completion_cost, total_cost, latency_ms, log_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.UserID, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.PromptCost, rec.CompletionCost, rec.TotalCost, rec.LatencyMS, rec.LogID,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Log fetches one request log by id.
func (s *Store) Log(ctx context.Context, id int64) (*RequestLog, error) {
	var rl RequestLog
	var errMsg *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, request_prompt, request_payload, request_sent_at,
		       response_json, response_received_at, status, error_message
		FROM request_logs WHERE id = $1`, id,
	).Scan(
		&rl.ID, &rl.UserID, &rl.RequestPrompt, &rl.RequestPayload, &rl.RequestSentAt,
		&rl.ResponseJSON, &rl.ResponseReceivedAt, &rl.Status, &errMsg,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch request log %d: %w", id, err)
	}
	if errMsg != nil {
		rl.ErrorMessage = *errMsg
	}
	return &rl, nil
}

// Summary aggregates all usage records.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	summary := Summary{
		RequestsByDate: []RequestSummary{},
		CostByModel:    map[string]float64{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cost), 0),
		       COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0)
		FROM usage_logs`,
	).Scan(&summary.TotalCost, &summary.TotalRequests, &summary.TotalSentTokens, &summary.TotalReceivedTokens)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregate usage: %w", err)
	}
	if summary.TotalRequests > 0 {
		summary.AverageCostPerRequest = summary.TotalCost / float64(summary.TotalRequests)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT created_at, model, prompt_tokens, completion_tokens, total_cost
		FROM usage_logs
		ORDER BY created_at DESC
		LIMIT 10`)
	if err != nil {
		return Summary{}, fmt.Errorf("query recent usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var createdAt time.Time
		var rs RequestSummary
		if err := rows.Scan(&createdAt, &rs.Model, &rs.SentTokens, &rs.ReceivedTokens, &rs.Cost); err != nil {
			return Summary{}, fmt.Errorf("scan recent usage: %w", err)
		}
		rs.Date = createdAt.UTC().Format("2006-01-02 15:04:05")
		summary.RequestsByDate = append(summary.RequestsByDate, rs)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate recent usage: %w", err)
	}

	modelRows, err := s.pool.Query(ctx, `
		SELECT model, SUM(total_cost)
		FROM usage_logs
		GROUP BY model`)
	if err != nil {
		return Summary{}, fmt.Errorf("query cost by model: %w", err)
	}
	defer modelRows.Close()
	for modelRows.Next() {
		var model string
		var cost float64
		if err := modelRows.Scan(&model, &cost); err != nil {
			return Summary{}, fmt.Errorf("scan cost by model: %w", err)
		}
		summary.CostByModel[model] = cost
	}
	if err := modelRows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate cost by model: %w", err)
	}

	return summary, nil
}

// Reset deletes all usage records and request logs in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM usage_logs`); err != nil {
		return fmt.Errorf("delete usage records: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM request_logs`); err != nil {
		return fmt.Errorf("delete request logs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}

	s.logger.Info("analytics data reset")
	return nil
}

// Export returns all usage records newest first for the CSV report.
func (s *Store) Export(ctx context.Context) ([]ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT created_at, model, prompt_tokens, completion_tokens, total_tokens,
		       prompt_cost, completion_cost, total_cost
		FROM usage_logs
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query usage export: %w", err)
	}
	defer rows.Close()

	out := []ExportRow{}
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(
			&r.Date, &r.Model, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.PromptCost, &r.CompletionCost, &r.TotalCost,
		); err != nil {
			return nil, fmt.Errorf("scan usage export: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage export: %w", err)
	}
	return out, nil
}
