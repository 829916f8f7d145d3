package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// DB wraps the SQLite database holding contacts and the call log.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database at dbPath, creating its directory.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _contacts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create contacts table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _call_log (
			id           TEXT PRIMARY KEY,
			partner_id   TEXT NOT NULL,
			partner_name TEXT NOT NULL DEFAULT '',
			direction    TEXT NOT NULL,
			call_type    TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			started_at   INTEGER NOT NULL,
			connected_at INTEGER NOT NULL DEFAULT 0,
			ended_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS _call_log_started ON _call_log (started_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call log table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// GetMeta returns a value from the metadata table, or "" if unset.
func (d *DB) GetMeta(key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var v string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetMeta stores a value in the metadata table.
func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`INSERT OR REPLACE INTO _meta (key, value) VALUES (?, ?)`, key, value)
	return err
}
