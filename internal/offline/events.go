package offline

import "github.com/driftmsg/drift/internal/store"

// Event kinds published on the bus. Namespaced so subscribers can filter on
// a prefix ("outbox.", "sync.") or an exact kind.
const (
	EventNetworkOnline  = "network.online"
	EventNetworkOffline = "network.offline"

	EventMessageLocal     = "message.local"
	EventMessageConfirmed = "message.confirmed"
	EventMessageFailed    = "message.failed"

	EventOutboxSending   = "outbox.sending"
	EventOutboxConfirmed = "outbox.confirmed"
	EventOutboxFailed    = "outbox.failed"

	EventSyncStart    = "sync.start"
	EventSyncProgress = "sync.progress"
	EventSyncComplete = "sync.complete"
	EventSyncError    = "sync.error"
)

// OutboxSending is the payload for outbox.sending.
type OutboxSending struct {
	OpID string
	Type string
}

// OutboxConfirmed is the payload for outbox.confirmed.
type OutboxConfirmed struct {
	OpID string
	Type string
}

// OutboxFailed is the payload for outbox.failed. RetriesLeft is zero when
// the operation has been abandoned.
type OutboxFailed struct {
	OpID        string
	Type        string
	Err         string
	RetriesLeft int
}

// MessageConfirmed is the payload for message.confirmed. ClientID identifies
// the optimistic placeholder the confirmed message replaced.
type MessageConfirmed struct {
	ClientID string
	Message  *store.Message
}

// MessageFailed is the payload for message.failed.
type MessageFailed struct {
	ClientID string
	Err      string
}

// SyncProgress is the payload for sync.progress, published once per applied
// page.
type SyncProgress struct {
	Applied int
	Cursor  string
}

// SyncComplete is the payload for sync.complete.
type SyncComplete struct {
	NewMessages          int
	UpdatedConversations int
	Cursor               string
}

// SyncError is the payload for sync.error.
type SyncError struct {
	Err string
}
