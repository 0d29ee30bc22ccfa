package store

import "time"

// Message status values. A pending message is an optimistic local record
// awaiting server confirmation; it always carries a ClientID and corresponds
// to exactly one live outbox operation.
const (
	MessageStatusPending   = "pending"
	MessageStatusConfirmed = "confirmed"
	MessageStatusFailed    = "failed"
)

// Message represents a locally cached message.
type Message struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"clientId,omitempty"`
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	SenderID       string         `json:"senderId"`
	ParentID       string         `json:"parentId,omitempty"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"createdAt"`
	UpdatedAt      string         `json:"updatedAt,omitempty"`
	SyncSeq        int64          `json:"syncSeq,omitempty"`
}

// Member describes a conversation participant.
type Member struct {
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Conversation represents a locally cached conversation. SyncSeq is
// monotonically non-decreasing: an event carrying a lower or equal sequence
// number must not override newer fields.
type Conversation struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"` // direct | group
	Title         string         `json:"title,omitempty"`
	UnreadCount   int            `json:"unreadCount"`
	Members       []Member       `json:"members,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	LastMessageAt string         `json:"lastMessageAt,omitempty"`
	UpdatedAt     string         `json:"updatedAt,omitempty"`
	SyncSeq       int64          `json:"syncSeq,omitempty"`
}

// Contact represents a synced contact.
type Contact struct {
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Operation type values.
const (
	OpMessageSend      = "message.send"
	OpMessageEdit      = "message.edit"
	OpMessageDelete    = "message.delete"
	OpConversationRead = "conversation.read"
)

// Operation status values.
const (
	OpStatusPending = "pending"
	OpStatusSending = "sending"
	OpStatusFailed  = "failed"
)

// Operation represents a queued offline write operation. ID doubles as the
// client correlation id and the idempotency seed.
type Operation struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Body           any               `json:"body,omitempty"`
	Query          map[string]string `json:"query,omitempty"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	Retries        int               `json:"retries"`
	MaxRetries     int               `json:"maxRetries"`
	IdempotencyKey string            `json:"idempotencyKey"`
	LocalData      *Message          `json:"localData,omitempty"`
	Error          string            `json:"error,omitempty"`
}
