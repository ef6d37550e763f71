// Package credits tracks per-user token credit balances and gates
// provider spend on them.
package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

var (
	// ErrInsufficientCredits indicates the user's balance cannot cover a
	// provider call. Checked before any tokens are spent.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUserNotFound indicates no credit row exists for the user.
	ErrUserNotFound = errors.New("user has no credit account")
)

// Store persists credit balances in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a credit store over the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Balance returns the user's remaining credits.
func (s *Store) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT credits_remaining FROM user_credits WHERE user_id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("query balance for user %d: %w", userID, err)
	}
	return balance, nil
}

// Debit subtracts amount from the user's balance and returns the remainder.
// The subtraction is conditional on a positive balance so concurrent
// requests cannot both spend the last credits; a balance may still dip
// below zero by the in-flight call that consumed it, matching how the
// provider bills a call already made.
func (s *Store) Debit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit amount must be non-negative, got %d", amount)
	}

	var remaining int64
	err := s.pool.QueryRow(ctx, `
		UPDATE user_credits
		SET credits_remaining = credits_remaining - $2, updated_at = now()
		WHERE user_id = $1 AND credits_remaining > 0
		RETURNING credits_remaining`,
		userID, amount,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish an exhausted balance from a missing account.
		if _, balErr := s.Balance(ctx, userID); errors.Is(balErr, ErrUserNotFound) {
			return 0, balErr
		}
		return 0, fmt.Errorf("%w: user %d", ErrInsufficientCredits, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("debit user %d: %w", userID, err)
	}

	s.logger.Debug("credits debited", "user_id", userID, "amount", amount, "remaining", remaining)
	return remaining, nil
}

// Grant adds amount to the user's balance, creating the account when absent.
func (s *Store) Grant(ctx context.Context, userID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("grant amount must be non-negative, got %d", amount)
	}

	var remaining int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_credits (user_id, credits_remaining)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET credits_remaining = user_credits.credits_remaining + $2, updated_at = now()
		RETURNING credits_remaining`,
		userID, amount,
	).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("grant credits to user %d: %w", userID, err)
	}
	return remaining, nil
}
