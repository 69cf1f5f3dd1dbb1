// Package daos holds the data-access objects shipped with the daemon. Each
// DAO owns its table schema and queries; the store manager only drives their
// lifecycle and versioning.
package daos

import (
	"database/sql"
	"fmt"
	"time"

	"entstore/internal/store"
)

// SettingsDescriptor resolves the settings DAO through the store manager.
var SettingsDescriptor = store.Descriptor{
	Name: "Settings",
	New:  func() (store.DAO, error) { return &Settings{}, nil },
}

// Settings is a key/value DAO for daemon configuration stored alongside the
// data it configures.
type Settings struct {
	m *store.Manager
}

// Version declares the schema version the code expects.
func (s *Settings) Version() int { return 2 }

// Bind stores the manager back-reference used to borrow connections.
func (s *Settings) Bind(m *store.Manager) { s.m = m }

// UpgradeFrom brings the settings table from the given version to the
// current one. Version 2 added the updated_at column.
func (s *Settings) UpgradeFrom(from int, c *store.Conn) error {
	if from < 1 {
		if _, err := c.Exec(`
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)
		`); err != nil {
			return fmt.Errorf("failed to create settings table: %w", err)
		}
	}
	if from < 2 {
		if _, err := c.Exec(`ALTER TABLE settings ADD COLUMN updated_at TIMESTAMP`); err != nil {
			return fmt.Errorf("failed to add updated_at to settings: %w", err)
		}
	}
	return nil
}

// Get retrieves a setting value by key, empty when unset.
func (s *Settings) Get(key string) (string, error) {
	c, err := s.m.Connect()
	if err != nil {
		return "", err
	}
	defer s.m.Disconnect(c)

	var value string
	err = c.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// Set stores a setting value.
func (s *Settings) Set(key, value string) error {
	c, err := s.m.Connect()
	if err != nil {
		return err
	}
	defer s.m.Disconnect(c)

	_, err = c.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// All retrieves every setting.
func (s *Settings) All() (map[string]string, error) {
	c, err := s.m.Connect()
	if err != nil {
		return nil, err
	}
	defer s.m.Disconnect(c)

	rows, err := c.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
