// Package conversation keeps the recent message log of each review chat.
package conversation

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultLimit is the number of most recent messages kept per conversation.
const DefaultLimit = 50

// Message is one entry of a conversation. Content is what the model sees;
// Display, when set, is what the reader typed.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Display   string    `json:"display,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// DisplayText returns the text shown to the reader.
func (m Message) DisplayText() string {
	if m.Display != "" {
		return m.Display
	}
	return m.Content
}

// Conversational reports whether the message belongs in model history.
func (m Message) Conversational() bool {
	return m.Role == RoleUser || m.Role == RoleAssistant
}

// Cap returns the last limit messages of msgs.
func Cap(msgs []Message, limit int) []Message {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
