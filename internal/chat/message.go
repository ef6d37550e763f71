// Package chat orchestrates conversations: context preparation, the
// provider call with function tools, a single tool round trip, and the
// bookkeeping around each exchange.
package chat

import (
	"encoding/json"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/llm"
)

// Kind classifies a conversation message. Injected context carries its own
// kind so detection never depends on matching message text.
type Kind string

const (
	// KindPersona is the injected assistant persona.
	KindPersona Kind = "persona"
	// KindTimeContext is the injected current-time message.
	KindTimeContext Kind = "time_context"
	// KindSystem is any other caller-supplied system message.
	KindSystem Kind = "system"
	KindUser   Kind = "user"
	// KindAssistant is a model response.
	KindAssistant Kind = "assistant"
	// KindTool is a tool result fed back to the model.
	KindTool Kind = "tool"
)

// Message is one entry of a conversation history.
type Message struct {
	Kind    Kind
	Content string

	// ToolName and ToolCallID are set on KindTool messages.
	ToolName   string
	ToolCallID string
}

// Role returns the provider-facing role for the message.
func (m Message) Role() llm.Role {
	switch m.Kind {
	case KindUser:
		return llm.RoleUser
	case KindAssistant:
		return llm.RoleAssistant
	case KindTool:
		return llm.RoleTool
	default:
		return llm.RoleSystem
	}
}

// llmMessage converts the message to its provider representation.
func (m Message) llmMessage() llm.Message {
	return llm.Message{
		Role:       m.Role(),
		Content:    m.Content,
		ToolName:   m.ToolName,
		ToolCallID: m.ToolCallID,
	}
}

// wireMessage is the JSON shape of a Message: the provider-style role plus
// the kind tag, so histories round-trip without text sniffing.
type wireMessage struct {
	Kind       Kind   `json:"kind,omitempty"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolName   string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MarshalJSON writes the message with both role and kind.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		Kind:       m.Kind,
		Role:       string(m.Role()),
		Content:    m.Content,
		ToolName:   m.ToolName,
		ToolCallID: m.ToolCallID,
	})
}

// UnmarshalJSON restores a message, deriving the kind from the role for
// histories produced by clients that only speak provider roles. Unknown
// system messages stay KindSystem; only messages tagged by this service
// count as injected context.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Kind != "" {
		m.Kind = w.Kind
	} else {
		switch llm.Role(w.Role) {
		case llm.RoleUser:
			m.Kind = KindUser
		case llm.RoleAssistant:
			m.Kind = KindAssistant
		case llm.RoleTool:
			m.Kind = KindTool
		default:
			m.Kind = KindSystem
		}
	}
	m.Content = w.Content
	m.ToolName = w.ToolName
	m.ToolCallID = w.ToolCallID
	return nil
}

// llmMessages converts a history to its provider representation.
func llmMessages(history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, m.llmMessage())
	}
	return out
}
