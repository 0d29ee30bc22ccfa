package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/driftmsg/drift/internal/status"
	"github.com/driftmsg/drift/internal/store"
)

const (
	syncCursorKey = "global_sync"
	syncPageLimit = 100
	syncPath      = "/api/im/sync"
)

// SyncEvent is one entry of the server's ordered event log.
type SyncEvent struct {
	Seq            int64          `json:"seq"`
	Type           string         `json:"type"`
	Data           map[string]any `json:"data"`
	ConversationID string         `json:"conversationId,omitempty"`
	At             string         `json:"at"`
}

type syncPage struct {
	Events  []SyncEvent `json:"events"`
	Cursor  int64       `json:"cursor"`
	HasMore bool        `json:"hasMore"`
}

// Sync pulls the server event log from the last persisted cursor and folds
// it into local storage. Single-flight: a call while a sync is in progress
// is a no-op, as is a call while offline. The cursor is persisted only after
// a full page is applied, so a crash mid-page re-delivers events the
// reducers already tolerate.
func (m *Manager) Sync(ctx context.Context) error {
	if !m.Online() {
		return nil
	}
	if err := m.machine.Transition(status.Syncing); err != nil {
		return nil
	}
	m.emit(EventSyncStart, nil)

	cursor, err := m.store.GetCursor(syncCursorKey)
	if err != nil {
		return m.syncFail(fmt.Errorf("load cursor: %w", err))
	}
	if cursor == "" {
		cursor = "0"
	}

	newMessages := 0
	updatedConversations := 0

	for {
		result, err := m.api.Do(ctx, http.MethodGet, syncPath, nil, map[string]string{
			"since": cursor,
			"limit": strconv.Itoa(syncPageLimit),
		})
		if err != nil {
			return m.syncFail(err)
		}
		if !result.OK || result.Data == nil {
			msg := "sync request rejected"
			if result.Error != nil {
				msg = result.Error.Message
			}
			return m.syncFail(errors.New(msg))
		}

		var page syncPage
		if err := result.Decode(&page); err != nil {
			return m.syncFail(fmt.Errorf("decode sync page: %w", err))
		}

		for i := range page.Events {
			ev := &page.Events[i]
			if err := m.applySyncEvent(ev); err != nil {
				return m.syncFail(fmt.Errorf("apply %s seq %d: %w", ev.Type, ev.Seq, err))
			}
			switch {
			case ev.Type == "message.new":
				newMessages++
			case strings.HasPrefix(ev.Type, "conversation."):
				updatedConversations++
			}
		}

		cursor = strconv.FormatInt(page.Cursor, 10)
		if err := m.store.SetCursor(syncCursorKey, cursor); err != nil {
			return m.syncFail(fmt.Errorf("persist cursor: %w", err))
		}
		m.emit(EventSyncProgress, SyncProgress{Applied: len(page.Events), Cursor: cursor})

		if !page.HasMore {
			break
		}
	}

	if err := m.machine.Transition(status.Idle); err != nil {
		return err
	}
	m.emit(EventSyncComplete, SyncComplete{
		NewMessages:          newMessages,
		UpdatedConversations: updatedConversations,
		Cursor:               cursor,
	})
	return nil
}

func (m *Manager) syncFail(err error) error {
	_ = m.machine.Transition(status.Error)
	m.emit(EventSyncError, SyncError{Err: err.Error()})
	m.logger.Error("sync failed", zap.Error(err))
	return err
}

// applySyncEvent folds one event into local storage. Reducers are idempotent
// and skip events whose seq is not newer than the stored record's, so
// replays after a mid-page crash are harmless. Unknown event types are
// ignored.
func (m *Manager) applySyncEvent(event *SyncEvent) error {
	switch event.Type {
	case "message.new":
		return m.reduceMessageNew(event)
	case "message.edit":
		return m.reduceMessageEdit(event)
	case "message.delete":
		if id := strOr(event.Data, "id", ""); id != "" {
			return m.store.DeleteMessage(id)
		}
	case "conversation.create", "conversation.update":
		return m.reduceConversationUpsert(event)
	case "conversation.archive":
		return m.reduceConversationArchive(event)
	case "participant.add":
		return m.reduceParticipantAdd(event)
	case "participant.remove":
		return m.reduceParticipantRemove(event)
	}
	return nil
}

func (m *Manager) reduceMessageNew(event *SyncEvent) error {
	id := strOr(event.Data, "id", "")
	if id == "" {
		return nil
	}
	existing, err := m.store.GetMessage(id)
	if err != nil {
		return err
	}
	if existing != nil && event.Seq <= existing.SyncSeq {
		return nil
	}
	var metadata map[string]any
	if md, ok := event.Data["metadata"].(map[string]any); ok {
		metadata = md
	}
	return m.store.PutMessages([]*store.Message{{
		ID:             id,
		ConversationID: strOr(event.Data, "conversationId", event.ConversationID),
		Content:        strOr(event.Data, "content", ""),
		Type:           strOr(event.Data, "type", "text"),
		SenderID:       strOr(event.Data, "senderId", ""),
		ParentID:       strOr(event.Data, "parentId", ""),
		Status:         store.MessageStatusConfirmed,
		Metadata:       metadata,
		CreatedAt:      strOr(event.Data, "createdAt", event.At),
		SyncSeq:        event.Seq,
	}})
}

func (m *Manager) reduceMessageEdit(event *SyncEvent) error {
	existing, err := m.store.GetMessage(strOr(event.Data, "id", ""))
	if err != nil {
		return err
	}
	// The message may belong to a conversation not yet synced.
	if existing == nil || event.Seq <= existing.SyncSeq {
		return nil
	}
	if content, ok := event.Data["content"].(string); ok {
		existing.Content = content
	}
	existing.UpdatedAt = event.At
	existing.SyncSeq = event.Seq
	return m.store.PutMessages([]*store.Message{existing})
}

func (m *Manager) reduceConversationUpsert(event *SyncEvent) error {
	convID := strOr(event.Data, "id", event.ConversationID)
	if convID == "" {
		return nil
	}
	existing, err := m.store.GetConversation(convID)
	if err != nil {
		return err
	}
	if existing != nil && event.Seq <= existing.SyncSeq {
		return nil
	}
	var metadata map[string]any
	if md, ok := event.Data["metadata"].(map[string]any); ok {
		metadata = md
	}
	return m.store.PutConversations([]*store.Conversation{{
		ID:            convID,
		Type:          strOr(event.Data, "type", "direct"),
		Title:         strOr(event.Data, "title", ""),
		UnreadCount:   intOr(event.Data, "unreadCount", 0),
		Members:       decodeMembers(event.Data["members"]),
		Metadata:      metadata,
		LastMessageAt: strOr(event.Data, "lastMessageAt", ""),
		UpdatedAt:     event.At,
		SyncSeq:       event.Seq,
	}})
}

func (m *Manager) reduceConversationArchive(event *SyncEvent) error {
	convID := strOr(event.Data, "id", event.ConversationID)
	if convID == "" {
		return nil
	}
	existing, err := m.store.GetConversation(convID)
	if err != nil {
		return err
	}
	if existing == nil || event.Seq <= existing.SyncSeq {
		return nil
	}
	if existing.Metadata == nil {
		existing.Metadata = make(map[string]any)
	}
	existing.Metadata["_archived"] = true
	existing.UpdatedAt = event.At
	existing.SyncSeq = event.Seq
	return m.store.PutConversations([]*store.Conversation{existing})
}

func (m *Manager) reduceParticipantAdd(event *SyncEvent) error {
	convID := strOr(event.Data, "conversationId", event.ConversationID)
	if convID == "" {
		return nil
	}
	existing, err := m.store.GetConversation(convID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Members == nil || event.Seq <= existing.SyncSeq {
		return nil
	}
	userID := strOr(event.Data, "userId", "")
	present := false
	for _, member := range existing.Members {
		if member.UserID == userID {
			present = true
			break
		}
	}
	if !present {
		existing.Members = append(existing.Members, store.Member{
			UserID:      userID,
			Username:    strOr(event.Data, "username", ""),
			DisplayName: strOr(event.Data, "displayName", ""),
			Role:        strOr(event.Data, "role", "member"),
		})
	}
	existing.UpdatedAt = event.At
	existing.SyncSeq = event.Seq
	return m.store.PutConversations([]*store.Conversation{existing})
}

func (m *Manager) reduceParticipantRemove(event *SyncEvent) error {
	convID := strOr(event.Data, "conversationId", event.ConversationID)
	userID := strOr(event.Data, "userId", "")
	if convID == "" || userID == "" {
		return nil
	}
	existing, err := m.store.GetConversation(convID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Members == nil || event.Seq <= existing.SyncSeq {
		return nil
	}
	filtered := existing.Members[:0]
	for _, member := range existing.Members {
		if member.UserID != userID {
			filtered = append(filtered, member)
		}
	}
	existing.Members = filtered
	existing.UpdatedAt = event.At
	existing.SyncSeq = event.Seq
	return m.store.PutConversations([]*store.Conversation{existing})
}

// decodeMembers converts a raw members payload into typed descriptors.
func decodeMembers(v any) []store.Member {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var members []store.Member
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil
	}
	return members
}
