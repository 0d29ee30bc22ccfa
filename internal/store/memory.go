package store

import (
	"sort"
	"strings"
	"sync"
)

// Memory is a goroutine-safe in-memory Adapter, the reference backend used
// when no durable store is configured and throughout the tests.
type Memory struct {
	mu            sync.RWMutex
	messages      map[string]*Message
	conversations map[string]*Conversation
	contacts      []Contact
	cursors       map[string]string
	outbox        map[string]*Operation
}

var _ Adapter = (*Memory)(nil)

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages:      make(map[string]*Message),
		conversations: make(map[string]*Conversation),
		cursors:       make(map[string]string),
		outbox:        make(map[string]*Operation),
	}
}

// GetMessage returns a message by id, or nil if absent.
func (s *Memory) GetMessage(id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[id], nil
}

// PutMessages upserts messages by id.
func (s *Memory) PutMessages(msgs []*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.messages[m.ID] = m
	}
	return nil
}

// ListMessages returns a conversation's messages ordered by created_at
// ascending, truncated to the most recent limit.
func (s *Memory) ListMessages(conversationID string, limit int, before string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if before == "" || m.CreatedAt < before {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt })
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// DeleteMessage removes a message by id. No-op if absent.
func (s *Memory) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

// SearchMessages performs a case-insensitive substring match over content.
func (s *Memory) SearchMessages(query, conversationID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var results []*Message
	for _, m := range s.messages {
		if conversationID != "" && m.ConversationID != conversationID {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), q) {
			results = append(results, m)
			if len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// GetConversation returns a conversation by id, or nil if absent.
func (s *Memory) GetConversation(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[id], nil
}

// PutConversations upserts conversations by id.
func (s *Memory) PutConversations(convs []*Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range convs {
		s.conversations[c.ID] = c
	}
	return nil
}

// ListConversations returns conversations ordered by updated_at descending.
func (s *Memory) ListConversations(limit int) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt > result[j].UpdatedAt })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetContacts returns a copy of the contact list.
func (s *Memory) GetContacts() ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Contact{}, s.contacts...), nil
}

// PutContacts replaces the whole contact list.
func (s *Memory) PutContacts(contacts []Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append([]Contact{}, contacts...)
	return nil
}

// GetCursor returns the persisted cursor for a stream, "" if unset.
func (s *Memory) GetCursor(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[key], nil
}

// SetCursor persists the cursor for a stream.
func (s *Memory) SetCursor(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = value
	return nil
}

// Enqueue adds an operation to the outbox.
func (s *Memory) Enqueue(op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[op.ID] = op
	return nil
}

// DequeueReady returns pending operations below their retry ceiling, FIFO.
func (s *Memory) DequeueReady(limit int) ([]*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*Operation
	for _, op := range s.outbox {
		if op.Status == OpStatusPending && op.Retries < op.MaxRetries {
			ready = append(ready, op)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.Before(ready[j].CreatedAt) })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

// Ack removes an operation permanently.
func (s *Memory) Ack(opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outbox, opID)
	return nil
}

// Nack records a failed attempt. The operation flips to failed once the
// retry ceiling is reached.
func (s *Memory) Nack(opID string, errMsg string, retries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.outbox[opID]
	if op == nil {
		return nil
	}
	op.Retries = retries
	op.Error = errMsg
	if retries >= op.MaxRetries {
		op.Status = OpStatusFailed
	}
	return nil
}

// PendingCount returns the number of pending operations.
func (s *Memory) PendingCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, op := range s.outbox {
		if op.Status == OpStatusPending {
			count++
		}
	}
	return count, nil
}
