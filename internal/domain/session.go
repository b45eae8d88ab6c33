package domain

import (
	"time"
	"unicode/utf8"
)

// MessageRole describes who authored a chat message.
type MessageRole string

const (
	RoleUser MessageRole = "user"
	RoleBot  MessageRole = "bot"
)

// titleMaxLen is the longest title kept verbatim; longer first messages are
// cut to titleMaxLen-3 runes plus an ellipsis.
const titleMaxLen = 50

// ChatSession is an ordered, user-scoped sequence of chat exchanges.
type ChatSession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"-"`
	Title           string     `json:"title"`
	CreatedAt       time.Time  `json:"created_at"`
	LastMessageAt   time.Time  `json:"last_message_at"`
	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
}

// ChatMessage is a single entry within a session. Seq is strictly
// increasing inside a session and defines message order.
type ChatMessage struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Seq       int64       `json:"seq"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsBot returns true for assistant-authored messages.
func (m *ChatMessage) IsBot() bool {
	return m.Role == RoleBot
}

// SessionTitle derives a session title from the first user message.
func SessionTitle(firstMessage string) string {
	if utf8.RuneCountInString(firstMessage) <= titleMaxLen {
		return firstMessage
	}
	runes := []rune(firstMessage)
	return string(runes[:titleMaxLen-3]) + "..."
}
