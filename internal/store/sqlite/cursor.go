package sqlite

import (
	"database/sql"
	"time"
)

// GetCursor retrieves a sync cursor value, "" if unset.
func (db *DB) GetCursor(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM cursors WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetCursor persists a sync cursor value.
func (db *DB) SetCursor(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO cursors (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}
