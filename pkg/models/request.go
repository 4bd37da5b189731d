// Package models defines the shared data types exchanged between the
// permission gate, stream decoder, tool dispatcher, and response integrator.
package models

import (
	"time"
)

// UserRequest is one inbound message from a platform user. It is created
// once per message and never mutated; the coordinator owns it for the
// lifetime of a single turn loop.
type UserRequest struct {
	// ID uniquely identifies this request.
	ID string `json:"id"`

	// Message is the raw user message text.
	Message string `json:"message"`

	// UserID identifies the caller.
	UserID string `json:"user_id"`

	// ConversationID groups requests into one conversation thread.
	ConversationID string `json:"conversation_id"`

	// SessionID optionally ties the request to a client session.
	SessionID string `json:"session_id,omitempty"`

	// MessageID optionally carries the client-assigned message id.
	MessageID string `json:"message_id,omitempty"`

	// Role is the caller's free-form role string as supplied by the
	// authentication layer. It is normalized by the permission gate.
	Role string `json:"role"`

	// Context carries opaque caller context (auth token, locale, etc.).
	Context map[string]any `json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MessageRole identifies who authored a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// Message is one entry in a conversation transcript.
type Message struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id"`
	Role           MessageRole           `json:"role"`
	Content        string                `json:"content,omitempty"`
	ToolCalls      []ToolCall            `json:"tool_calls,omitempty"`
	ToolResults    []ToolExecutionResult `json:"tool_results,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Conversation is a thread of messages for one user.
type Conversation struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
