package sqlite

import (
	"fmt"
	"time"

	"github.com/driftmsg/drift/internal/store"
)

// Enqueue adds an operation to the outbox.
func (db *DB) Enqueue(op *store.Operation) error {
	body, err := marshalJSON(op.Body)
	if err != nil {
		return err
	}
	query, err := marshalJSON(op.Query)
	if err != nil {
		return err
	}
	localData, err := marshalJSON(op.LocalData)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO outbox (id, op_type, method, path, body, query, status, created_at, retries, max_retries, idempotency_key, local_data, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Type, op.Method, op.Path, body, query, op.Status,
		op.CreatedAt.UnixNano(), op.Retries, op.MaxRetries, op.IdempotencyKey, localData, op.Error)
	if err != nil {
		return fmt.Errorf("enqueue op %q: %w", op.ID, err)
	}
	return nil
}

// DequeueReady returns pending operations below their retry ceiling, FIFO
// by creation time.
func (db *DB) DequeueReady(limit int) ([]*store.Operation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT id, op_type, method, path, body, query, status, created_at, retries, max_retries, idempotency_key, local_data, error
		FROM outbox
		WHERE status = ? AND retries < max_retries
		ORDER BY created_at ASC
		LIMIT ?`, store.OpStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []*store.Operation
	for rows.Next() {
		var op store.Operation
		var body, query, localData string
		var createdAt int64
		if err := rows.Scan(&op.ID, &op.Type, &op.Method, &op.Path, &body, &query,
			&op.Status, &createdAt, &op.Retries, &op.MaxRetries,
			&op.IdempotencyKey, &localData, &op.Error); err != nil {
			return nil, err
		}
		op.CreatedAt = time.Unix(0, createdAt)
		if body != "" {
			var decoded any
			if err := unmarshalJSON(body, &decoded); err != nil {
				return nil, err
			}
			op.Body = decoded
		}
		if err := unmarshalJSON(query, &op.Query); err != nil {
			return nil, err
		}
		if localData != "" {
			op.LocalData = &store.Message{}
			if err := unmarshalJSON(localData, op.LocalData); err != nil {
				return nil, err
			}
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// Ack removes an operation permanently.
func (db *DB) Ack(opID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE id = ?`, opID)
	return err
}

// Nack records a failed attempt. The operation flips to failed once the
// retry ceiling is reached.
func (db *DB) Nack(opID string, errMsg string, retries int) error {
	_, err := db.Exec(`
		UPDATE outbox SET
			retries = ?,
			error = ?,
			status = CASE WHEN ? >= max_retries THEN ? ELSE status END
		WHERE id = ?`,
		retries, errMsg, retries, store.OpStatusFailed, opID)
	return err
}

// PendingCount returns the number of pending operations.
func (db *DB) PendingCount() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status = ?`, store.OpStatusPending).Scan(&count)
	return count, err
}
