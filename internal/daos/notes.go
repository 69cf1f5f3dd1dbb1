package daos

import (
	"database/sql"
	"fmt"
	"time"

	"entstore/internal/store"
)

// NotesDescriptor resolves the notes DAO through the store manager.
var NotesDescriptor = store.Descriptor{
	Name: "Notes",
	New:  func() (store.DAO, error) { return &Notes{}, nil },
}

// Note is a free-form annotation record.
type Note struct {
	ID        int64
	Title     string
	Body      string
	CreatedAt time.Time
}

// Notes stores free-form annotations. It doubles as the reference DAO for
// the manager's full-creation path.
type Notes struct {
	m *store.Manager
}

func (n *Notes) Version() int { return 1 }

func (n *Notes) Bind(m *store.Manager) { n.m = m }

func (n *Notes) UpgradeFrom(from int, c *store.Conn) error {
	if from < 1 {
		if _, err := c.Exec(`
			CREATE TABLE notes (
				id INTEGER PRIMARY KEY,
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`); err != nil {
			return fmt.Errorf("failed to create notes table: %w", err)
		}
	}
	return nil
}

// Create inserts a note and returns it with its assigned ID.
func (n *Notes) Create(title, body string) (*Note, error) {
	c, err := n.m.Connect()
	if err != nil {
		return nil, err
	}
	defer n.m.Disconnect(c)

	now := time.Now()
	result, err := c.Exec(`
		INSERT INTO notes (title, body, created_at) VALUES (?, ?, ?)
	`, title, body, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get note id: %w", err)
	}

	return &Note{ID: id, Title: title, Body: body, CreatedAt: now}, nil
}

// Get retrieves a note by ID, nil when absent.
func (n *Notes) Get(id int64) (*Note, error) {
	c, err := n.m.Connect()
	if err != nil {
		return nil, err
	}
	defer n.m.Disconnect(c)

	note := &Note{}
	err = c.QueryRow(`
		SELECT id, title, body, created_at FROM notes WHERE id = ?
	`, id).Scan(&note.ID, &note.Title, &note.Body, &note.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

// List retrieves all notes, newest first.
func (n *Notes) List() ([]*Note, error) {
	c, err := n.m.Connect()
	if err != nil {
		return nil, err
	}
	defer n.m.Disconnect(c)

	rows, err := c.Query(`
		SELECT id, title, body, created_at FROM notes ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		note := &Note{}
		if err := rows.Scan(&note.ID, &note.Title, &note.Body, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// Delete removes a note by ID.
func (n *Notes) Delete(id int64) error {
	c, err := n.m.Connect()
	if err != nil {
		return err
	}
	defer n.m.Disconnect(c)

	if _, err := c.Exec("DELETE FROM notes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}
