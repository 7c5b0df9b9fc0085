// Package store persists conversation message records. The postgres
// implementation backs production; the memory implementation serves
// deployments without a database and the handler tests.
package store

import (
	"context"
	"time"
)

// Role values for stored messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// VoiceMeta is optional voice metadata for a message that originated from or
// was rendered as audio.
type VoiceMeta struct {
	DurationMS int    `json:"duration_ms,omitempty"`
	Format     string `json:"format,omitempty"`
}

// Message is one persisted conversation turn.
type Message struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	VoiceMeta *VoiceMeta `json:"voice_meta,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store is the conversation repository. AppendMessage assigns ID and
// CreatedAt when they are zero. ListMessages returns up to limit of the most
// recent messages for a session, oldest first.
type Store interface {
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	Close()
}
