package store

// Adapter is the pluggable persistence contract for messages, conversations,
// contacts, sync cursors, and the outbox queue. Lookups return (nil, nil)
// for absent records. Any persistence failure is fatal to the enclosing
// operation: callers propagate, never swallow.
type Adapter interface {
	// Messages. PutMessages upserts by id, last-write-wins. ListMessages
	// returns messages for a conversation ordered by created_at ascending,
	// truncated to the most recent limit; before, when non-empty, bounds
	// created_at exclusively. SearchMessages is a case-insensitive substring
	// match over content, short-circuiting at limit.
	GetMessage(id string) (*Message, error)
	PutMessages(msgs []*Message) error
	ListMessages(conversationID string, limit int, before string) ([]*Message, error)
	DeleteMessage(id string) error
	SearchMessages(query, conversationID string, limit int) ([]*Message, error)

	// Conversations. ListConversations orders by updated_at descending.
	GetConversation(id string) (*Conversation, error)
	PutConversations(convs []*Conversation) error
	ListConversations(limit int) ([]*Conversation, error)

	// Contacts. PutContacts replaces the whole list, never merges.
	GetContacts() ([]Contact, error)
	PutContacts(contacts []Contact) error

	// Sync cursors, keyed by logical stream name.
	GetCursor(key string) (string, error)
	SetCursor(key, value string) error

	// Outbox. DequeueReady returns pending operations with retries below
	// their ceiling, FIFO by creation time. Ack removes permanently. Nack
	// records the error and retry count, flipping status to failed once the
	// ceiling is reached.
	Enqueue(op *Operation) error
	DequeueReady(limit int) ([]*Operation, error)
	Ack(opID string) error
	Nack(opID string, errMsg string, retries int) error
	PendingCount() (int, error)
}
