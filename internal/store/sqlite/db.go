package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/driftmsg/drift/internal/store"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the app-owned drift.db.
// It implements store.Adapter.
type DB struct {
	*sql.DB
}

var _ store.Adapter = (*DB)(nil)

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// marshalJSON encodes v for a TEXT column; nil-ish values become "".
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	s := string(data)
	if s == "null" {
		return "", nil
	}
	return s, nil
}

// unmarshalJSON decodes a TEXT column into v; "" leaves v untouched.
func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
