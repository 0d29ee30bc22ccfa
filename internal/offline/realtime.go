package offline

import (
	"time"

	"github.com/driftmsg/drift/internal/store"
)

// HandleRealtimeEvent folds a push notification into local storage. Only
// message.new is materialized directly; every other kind arrives again
// through the sync log with a proper sequence number.
func (m *Manager) HandleRealtimeEvent(eventType string, payload map[string]any) error {
	if eventType != "message.new" || payload == nil {
		return nil
	}
	id := strOr(payload, "id", "")
	if id == "" {
		return nil
	}
	// A record already obtained via sync carries a seq tag; keep it.
	existing, err := m.store.GetMessage(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	var metadata map[string]any
	if md, ok := payload["metadata"].(map[string]any); ok {
		metadata = md
	}
	return m.store.PutMessages([]*store.Message{{
		ID:             id,
		ConversationID: strOr(payload, "conversationId", ""),
		Content:        strOr(payload, "content", ""),
		Type:           strOr(payload, "type", "text"),
		SenderID:       strOr(payload, "senderId", ""),
		ParentID:       strOr(payload, "parentId", ""),
		Status:         store.MessageStatusConfirmed,
		Metadata:       metadata,
		CreatedAt:      strOr(payload, "createdAt", time.Now().UTC().Format(time.RFC3339Nano)),
	}})
}
