// Package session provides PostgreSQL-backed persistence for conversation
// sessions and their messages.
//
// A session is a titled container of ordered messages. Messages carry the
// role of their author ("user" or "assistant") and a status recording
// whether an assistant reply completed normally or was cut short mid-stream.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Role constants define valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message status constants.
const (
	// StatusCompleted marks a message whose content is final.
	StatusCompleted = "completed"

	// StatusTruncated marks an assistant message whose stream failed partway;
	// the stored content is the prefix received before the failure.
	StatusTruncated = "truncated"
)

// DefaultTitle is the placeholder title assigned to new sessions until a
// real title is synthesized from the first exchange.
const DefaultTitle = "New Conversation"

// Session represents a conversation session.
type Session struct {
	ID           uuid.UUID
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message represents a single conversation message.
type Message struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      string // "user" | "assistant"
	Content   string
	Status    string // "completed" | "truncated"
	CreatedAt time.Time
}

// ExportData bundles a session with its full message history for export.
type ExportData struct {
	Session  *Session
	Messages []*Message
}
