package sqlite

import (
	"fmt"

	"github.com/driftmsg/drift/internal/store"
)

// GetContacts returns all contacts.
func (db *DB) GetContacts() ([]store.Contact, error) {
	rows, err := db.Query(`SELECT user_id, username, display_name, status FROM contacts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []store.Contact
	for rows.Next() {
		var c store.Contact
		if err := rows.Scan(&c.UserID, &c.Username, &c.DisplayName, &c.Status); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// PutContacts replaces the contacts table with the given list.
func (db *DB) PutContacts(contacts []store.Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (user_id, username, display_name, status)
			VALUES (?, ?, ?, ?)`,
			c.UserID, c.Username, c.DisplayName, c.Status); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.UserID, err)
		}
	}
	return tx.Commit()
}
