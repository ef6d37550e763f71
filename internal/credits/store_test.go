package credits

import (
	"context"
	"testing"

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

	t.Run("balance of unknown user", func(t *testing.T) {
		_, err := store.Balance(ctx, 404)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("grant creates the account", func(t *testing.T) {
		remaining, err := store.Grant(ctx, 1, 5000)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), remaining)

		remaining, err = store.Grant(ctx, 1, 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(6000), remaining)
	})

	t.Run("debit subtracts", func(t *testing.T) {
		remaining, err := store.Debit(ctx, 1, 1500)
		require.NoError(t, err)
		assert.Equal(t, int64(4500), remaining)

		balance, err := store.Balance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(4500), balance)
	})

	t.Run("debit can overdraw an in-flight call", func(t *testing.T) {
		remaining, err := store.Debit(ctx, 1, 5000)
		require.NoError(t, err)
		assert.Equal(t, int64(-500), remaining)
	})

	t.Run("exhausted balance refuses further debits", func(t *testing.T) {
		_, err := store.Debit(ctx, 1, 100)
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})

	t.Run("debit of unknown user", func(t *testing.T) {
		_, err := store.Debit(ctx, 404, 10)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("negative amounts rejected", func(t *testing.T) {
		_, err := store.Debit(ctx, 1, -5)
		assert.Error(t, err)
		_, err = store.Grant(ctx, 1, -5)
		assert.Error(t, err)
	})
}
