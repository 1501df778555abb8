// Package conversation holds the chat session model used to build
// generation context.
package conversation

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a session.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TokenCount int            `json:"token_count"`
}

// Session is the conversation state for one session id.
type Session struct {
	ID            string         `json:"session_id"`
	Messages      []Message      `json:"messages"`
	TotalTokens   int            `json:"total_tokens"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdated   time.Time      `json:"last_updated"`
	WorkspacePath string         `json:"workspace_path"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Stats summarises a session.
type Stats struct {
	SessionID     string       `json:"session_id"`
	TotalMessages int          `json:"total_messages"`
	TotalTokens   int          `json:"total_tokens"`
	MessageCounts map[Role]int `json:"message_counts"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUpdated   time.Time    `json:"last_updated"`
	WorkspacePath string       `json:"workspace_path"`
}

// EstimateTokens approximates the token count of text at four characters
// per token, with a minimum of one for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, utf8.RuneCountInString(text)/4)
}

// Format renders a message as a prompt line.
func (m *Message) Format() string {
	switch m.Role {
	case RoleUser:
		return "User: " + m.Content
	case RoleAssistant:
		return "Assistant: " + m.Content
	case RoleTool:
		return "Tool Result: " + m.Content
	case RoleSystem:
		return "System: " + m.Content
	}
	return strings.TrimSpace(string(m.Role) + ": " + m.Content)
}
