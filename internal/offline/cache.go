package offline

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/driftmsg/drift/internal/store"
	"github.com/driftmsg/drift/internal/transport"
)

// Cacheable read routes: conversation list, a conversation's message
// history, and the contact list.
var (
	conversationsPathRe = regexp.MustCompile(`^/api/im/conversations$`)
	messagesPathRe      = regexp.MustCompile(`^/api/im/messages/([^/]+)$`)
	contactsPathRe      = regexp.MustCompile(`^/api/im/contacts$`)
)

const cacheListLimit = 50

// readFromCache serves a GET from local storage. Returns (nil, nil) on a
// cache miss so the caller falls through to the network.
func (m *Manager) readFromCache(path string, query map[string]string) (*transport.Result, error) {
	if conversationsPathRe.MatchString(path) {
		convs, err := m.store.ListConversations(cacheListLimit)
		if err != nil {
			return nil, err
		}
		if len(convs) > 0 {
			return okResult(convs)
		}
		return nil, nil
	}

	if sub := messagesPathRe.FindStringSubmatch(path); sub != nil {
		limit := cacheListLimit
		if l := query["limit"]; l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 {
				limit = n
			}
		}
		msgs, err := m.store.ListMessages(sub[1], limit, query["before"])
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return okResult(msgs)
		}
		return nil, nil
	}

	if contactsPathRe.MatchString(path) {
		contacts, err := m.store.GetContacts()
		if err != nil {
			return nil, err
		}
		if len(contacts) > 0 {
			return okResult(contacts)
		}
	}
	return nil, nil
}

// cacheReadResult opportunistically populates local storage from a
// successful network read. Payloads that do not decode as the expected list
// shape are skipped, never treated as errors.
func (m *Manager) cacheReadResult(path string, result *transport.Result) error {
	if result == nil || !result.OK || result.Data == nil {
		return nil
	}

	if conversationsPathRe.MatchString(path) {
		var convs []*store.Conversation
		if json.Unmarshal(result.Data, &convs) != nil || len(convs) == 0 {
			return nil
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, c := range convs {
			if c.UpdatedAt == "" {
				c.UpdatedAt = now
			}
		}
		return m.store.PutConversations(convs)
	}

	if sub := messagesPathRe.FindStringSubmatch(path); sub != nil {
		var msgs []*store.Message
		if json.Unmarshal(result.Data, &msgs) != nil || len(msgs) == 0 {
			return nil
		}
		for _, msg := range msgs {
			if msg.ConversationID == "" {
				msg.ConversationID = sub[1]
			}
			if msg.Status == "" {
				msg.Status = store.MessageStatusConfirmed
			}
		}
		return m.store.PutMessages(msgs)
	}

	if contactsPathRe.MatchString(path) {
		var contacts []store.Contact
		if json.Unmarshal(result.Data, &contacts) != nil {
			return nil
		}
		return m.store.PutContacts(contacts)
	}
	return nil
}

func okResult(v any) (*transport.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &transport.Result{OK: true, Data: data}, nil
}
