package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareContext(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC)

	t.Run("empty history gains persona and time context", func(t *testing.T) {
		t.Parallel()
		out := prepareContext(nil, now)

		require.Len(t, out, 2)
		assert.Equal(t, KindPersona, out[0].Kind)
		assert.Equal(t, KindTimeContext, out[1].Kind)
	})

	t.Run("persona leads, time context trails the user message", func(t *testing.T) {
		t.Parallel()
		out := prepareContext([]Message{
			{Kind: KindUser, Content: "hello"},
		}, now)

		require.Len(t, out, 3)
		assert.Equal(t, KindPersona, out[0].Kind)
		assert.Equal(t, KindUser, out[1].Kind)
		assert.Equal(t, KindTimeContext, out[2].Kind)
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		first := prepareContext([]Message{{Kind: KindUser, Content: "hello"}}, now)
		second := prepareContext(first, now)
		assert.Equal(t, first, second)
	})

	t.Run("counts kinds not content", func(t *testing.T) {
		t.Parallel()
		// A system message that merely mentions the time must not
		// suppress the injected context.
		out := prepareContext([]Message{
			{Kind: KindSystem, Content: "Current time: whenever you like"},
		}, now)

		kinds := make([]Kind, 0, len(out))
		for _, m := range out {
			kinds = append(kinds, m.Kind)
		}
		assert.Equal(t, []Kind{KindPersona, KindSystem, KindTimeContext}, kinds)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		t.Parallel()
		in := []Message{{Kind: KindUser, Content: "hello"}}
		_ = prepareContext(in, now)
		require.Len(t, in, 1)
	})
}

func TestTimeContextMessage(t *testing.T) {
	t.Parallel()

	// 18:30 UTC on June 15 is 14:30 in daylight-time New York.
	now := time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC)
	msg := timeContextMessage(now)

	assert.Equal(t, KindTimeContext, msg.Kind)
	assert.Equal(t, "Current time: 2025-06-15 14:30:00 EST", msg.Content)
}
