// Package bookkeeping is the metadata store: the authoritative list of
// collections and secrets, though the secret bytes themselves live in
// plugins. It opens sqlite with the same pragma and upsert idioms used
// elsewhere in this codebase, over a collections/secrets schema instead
// of a vault-fields schema.
package bookkeeping

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const createSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	owner_application_id TEXT NOT NULL,
	uses_device_lock_key INTEGER NOT NULL,
	storage_plugin TEXT NOT NULL,
	encryption_plugin TEXT NOT NULL,
	authentication_plugin TEXT NOT NULL,
	unlock_semantic INTEGER NOT NULL,
	custom_lock_timeout_ms INTEGER NOT NULL DEFAULT 0,
	access_control_mode INTEGER NOT NULL,
	dirty INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS secrets (
	collection_name TEXT NOT NULL,
	hashed_secret_name TEXT NOT NULL,
	secret_name TEXT NOT NULL,
	owner_application_id TEXT NOT NULL,
	uses_device_lock_key INTEGER NOT NULL,
	storage_plugin TEXT NOT NULL,
	encryption_plugin TEXT NOT NULL,
	authentication_plugin TEXT NOT NULL,
	unlock_semantic INTEGER NOT NULL,
	custom_lock_timeout_ms INTEGER NOT NULL DEFAULT 0,
	access_control_mode INTEGER NOT NULL,
	dirty INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (collection_name, hashed_secret_name)
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_secrets_collection ON secrets(collection_name);
`

// DB wraps a *sql.DB with bookkeeping-specific operations. Its own
// transactions serialize concurrent writers.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the bookkeeping database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening bookkeeping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(createSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// IsInitialised reports whether the database has been given a lock key
// at least once.
func (d *DB) IsInitialised() (bool, error) {
	v, err := d.GetMeta("initialised")
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// MarkInitialised records that the database has been keyed.
func (d *DB) MarkInitialised() error {
	return d.SetMeta("initialised", "1")
}

// SetMeta upserts a key-value pair in the meta table.
func (d *DB) SetMeta(key, value string) error {
	_, err := d.conn.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMeta retrieves a value by key, returning "" if absent.
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.conn.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
