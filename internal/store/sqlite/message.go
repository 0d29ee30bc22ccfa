package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/driftmsg/drift/internal/store"
)

const messageColumns = `id, client_id, conversation_id, content, type, sender_id, parent_id, status, metadata, created_at, updated_at, sync_seq`

// GetMessage returns a message by id, or nil if absent.
func (db *DB) GetMessage(id string) (*store.Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// PutMessages upserts messages by id in a single transaction.
func (db *DB) PutMessages(msgs []*store.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		metadata, err := marshalJSON(m.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (`+messageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				client_id = excluded.client_id,
				conversation_id = excluded.conversation_id,
				content = excluded.content,
				type = excluded.type,
				sender_id = excluded.sender_id,
				parent_id = excluded.parent_id,
				status = excluded.status,
				metadata = excluded.metadata,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				sync_seq = excluded.sync_seq`,
			m.ID, m.ClientID, m.ConversationID, m.Content, m.Type, m.SenderID,
			m.ParentID, m.Status, metadata, m.CreatedAt, m.UpdatedAt, m.SyncSeq); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns a conversation's messages ordered by created_at
// ascending, truncated to the most recent limit. before, when non-empty,
// bounds created_at exclusively.
func (db *DB) ListMessages(conversationID string, limit int, before string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if before != "" {
		q += ` AND created_at < ?`
		args = append(args, before)
	}
	// Newest window first, flipped to ascending below.
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessage removes a message by id. No-op if absent.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// SearchMessages performs a case-insensitive substring match over content.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != "" {
		q += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var m store.Message
	var metadata string
	if err := row.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.Content, &m.Type,
		&m.SenderID, &m.ParentID, &m.Status, &metadata, &m.CreatedAt, &m.UpdatedAt, &m.SyncSeq); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &m.Metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
