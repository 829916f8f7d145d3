package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Contact is a known call partner. The manager listens for calls from
// every stored contact.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertContact stores or replaces a contact. An empty avatar URL keeps
// the stored one.
func (d *DB) UpsertContact(c Contact) error {
	if c.ID == "" {
		return fmt.Errorf("contact id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO _contacts (id, name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name       = excluded.name,
			avatar_url = CASE WHEN excluded.avatar_url = '' THEN _contacts.avatar_url ELSE excluded.avatar_url END,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.AvatarURL, time.Now().UnixMilli(),
	)
	return err
}

// SetContactAvatar points a contact at a new avatar URL.
func (d *DB) SetContactAvatar(id, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(`UPDATE _contacts SET avatar_url = ?, updated_at = ? WHERE id = ?`,
		url, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetContact returns the contact with id, or ErrNotFound.
func (d *DB) GetContact(id string) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var c Contact
	var updated int64
	err := d.db.QueryRow(`SELECT id, name, avatar_url, updated_at FROM _contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.AvatarURL, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

// ListContacts returns all contacts ordered by name.
func (d *DB) ListContacts() ([]Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`SELECT id, name, avatar_url, updated_at FROM _contacts ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Contact
	for rows.Next() {
		var c Contact
		var updated int64
		if err := rows.Scan(&c.ID, &c.Name, &c.AvatarURL, &updated); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.UnixMilli(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContact forgets a contact. Its call history is kept.
func (d *DB) DeleteContact(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM _contacts WHERE id = ?`, id)
	return err
}
