package models

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of raw conversation history as supplied
// by the caller. Turns are immutable once built; downstream stages only
// re-serialize them.
type ConversationTurn struct {
	Role        Role            `json:"role"`
	Content     string          `json:"content"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// AttachmentRef is an uploaded binary payload as it arrives on the wire.
// It lives only for the duration of one pipeline run.
type AttachmentRef struct {
	EncodedPayload   string `json:"data"`
	DeclaredMimeType string `json:"mime_type"`
	FileName         string `json:"file_name"`
}

// EmbeddingRecord is one indexed turn in the vector memory. A record
// always belongs to exactly one user and one conversation.
type EmbeddingRecord struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ConversationID    string    `json:"conversation_id"`
	MessageID         string    `json:"message_id"`
	Content           string    `json:"content"`
	Role              Role      `json:"role"`
	Timestamp         time.Time `json:"timestamp"`
	Vector            []float32 `json:"vector,omitempty"`
	ConversationTitle string    `json:"conversation_title,omitempty"`
}

// SearchResult pairs a recalled record with its similarity score
// (cosine, higher is closer).
type SearchResult struct {
	Record EmbeddingRecord `json:"record"`
	Score  float64         `json:"score"`
}

// InboundMessage is the send-message event that triggers one pipeline run.
type InboundMessage struct {
	ConversationID    string             `json:"conversation_id"`
	ConversationTitle string             `json:"conversation_title,omitempty"`
	UserID            string             `json:"user_id"`
	Message           string             `json:"message"`
	History           []ConversationTurn `json:"history,omitempty"`
	Attachments       []AttachmentRef    `json:"attachments,omitempty"`
}

// RateLimitInfo is emitted after an allowed request so the client can
// display remaining quota.
type RateLimitInfo struct {
	RemainingMinute int       `json:"remaining_minute"`
	RemainingHour   int       `json:"remaining_hour"`
	ResetMinute     time.Time `json:"reset_minute"`
	ResetHour       time.Time `json:"reset_hour"`
}
