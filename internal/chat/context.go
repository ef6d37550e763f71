package chat

import (
	"fmt"
	"sync"
	"time"
)

// personaPrompt sets the assistant's identity for every conversation.
const personaPrompt = `# Identity
You are a knowledgeable assistant supporting veterans and their representatives with questions about VA disability benefits. You explain rating criteria, claim procedures and appeal options in plain language, grounded in 38 CFR and the M21 adjudication manual. When regulatory detail matters, use the search tools to cite the governing section or article rather than answering from memory. You do not give legal or medical advice.`

// easternTime resolves the US/Eastern location once. A fixed EST offset
// stands in when the tz database is unavailable.
var easternTime = sync.OnceValue(func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
})

// personaMessage returns the injected persona context.
func personaMessage() Message {
	return Message{Kind: KindPersona, Content: personaPrompt}
}

// timeContextMessage returns the injected current-time context.
func timeContextMessage(now time.Time) Message {
	stamp := now.In(easternTime()).Format("2006-01-02 15:04:05")
	return Message{
		Kind:    KindTimeContext,
		Content: fmt.Sprintf("Current time: %s EST", stamp),
	}
}

// prepareContext returns history with injected context in place: exactly
// one persona, inserted at the front when absent, and exactly one time
// context, appended when absent. A history that already carries both comes
// back unchanged, so preparation is idempotent across turns. The input
// slice is never mutated.
func prepareContext(history []Message, now time.Time) []Message {
	hasPersona := false
	hasTimeContext := false
	for _, m := range history {
		switch m.Kind {
		case KindPersona:
			hasPersona = true
		case KindTimeContext:
			hasTimeContext = true
		}
	}

	out := make([]Message, 0, len(history)+2)
	if !hasPersona {
		out = append(out, personaMessage())
	}
	out = append(out, history...)
	if !hasTimeContext {
		out = append(out, timeContextMessage(now))
	}
	return out
}
