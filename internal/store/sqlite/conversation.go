package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/driftmsg/drift/internal/store"
)

const conversationColumns = `id, type, title, unread_count, members, metadata, last_message_at, updated_at, sync_seq`

// GetConversation returns a conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*store.Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// PutConversations upserts conversations by id in a single transaction.
func (db *DB) PutConversations(convs []*store.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range convs {
		members, err := marshalJSON(c.Members)
		if err != nil {
			return err
		}
		metadata, err := marshalJSON(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (`+conversationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				title = excluded.title,
				unread_count = excluded.unread_count,
				members = excluded.members,
				metadata = excluded.metadata,
				last_message_at = excluded.last_message_at,
				updated_at = excluded.updated_at,
				sync_seq = excluded.sync_seq`,
			c.ID, c.Type, c.Title, c.UnreadCount, members, metadata,
			c.LastMessageAt, c.UpdatedAt, c.SyncSeq); err != nil {
			return fmt.Errorf("upsert conversation %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListConversations returns conversations ordered by updated_at descending.
func (db *DB) ListConversations(limit int) ([]*store.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []*store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var c store.Conversation
	var members, metadata string
	if err := row.Scan(&c.ID, &c.Type, &c.Title, &c.UnreadCount, &members,
		&metadata, &c.LastMessageAt, &c.UpdatedAt, &c.SyncSeq); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(members, &c.Members); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}
