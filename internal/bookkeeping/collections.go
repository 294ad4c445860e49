package bookkeeping

import (
	"database/sql"
	"errors"
)

// ErrAlreadyExists is returned by Insert* when the row's primary key is
// already present (three-phase create, step 2).
var ErrAlreadyExists = errors.New("bookkeeping: row already exists")

// UnlockSemantic mirrors the collection-level lock policy enum.
type UnlockSemantic int

const (
	DeviceLockKeepUnlocked UnlockSemantic = iota
	DeviceLockRelock
	CustomLockKeepUnlocked
	CustomLockTimeoutRelock
)

// AccessControlMode mirrors the collection-level access control policy.
type AccessControlMode int

const (
	OwnerOnly AccessControlMode = iota
	System
	NoAccessControl
)

// CollectionMetadata is a row of the collections table.
type CollectionMetadata struct {
	Name string
	OwnerApplicationID string
	UsesDeviceLockKey bool
	StoragePlugin string
	EncryptionPlugin string
	AuthenticationPlugin string
	UnlockSemantic UnlockSemantic
	CustomLockTimeoutMs int64
	AccessControlMode AccessControlMode
	Dirty bool
}

// CollectionNames lists all collection names, including dirty rows
// pending cleanup: a dirty row is still "named" until its cleanup
// succeeds.
func (d *DB) CollectionNames() ([]string, error) {
	rows, err := d.conn.Query("SELECT name FROM collections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CollectionAlreadyExists reports existence by primary key lookup.
func (d *DB) CollectionAlreadyExists(name string) (bool, error) {
	var exists int
	err := d.conn.QueryRow("SELECT 1 FROM collections WHERE name = ?", name).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CollectionMetadataFor reads a collection's row, returning (nil, nil)
// if absent.
func (d *DB) CollectionMetadataFor(name string) (*CollectionMetadata, error) {
	var m CollectionMetadata
	var usesDeviceLock, dirty int
	err := d.conn.QueryRow(
		`SELECT name, owner_application_id, uses_device_lock_key, storage_plugin,
		 encryption_plugin, authentication_plugin, unlock_semantic,
		 custom_lock_timeout_ms, access_control_mode, dirty
		 FROM collections WHERE name = ?`, name,
	).Scan(&m.Name, &m.OwnerApplicationID, &usesDeviceLock, &m.StoragePlugin,
		&m.EncryptionPlugin, &m.AuthenticationPlugin, &m.UnlockSemantic,
		&m.CustomLockTimeoutMs, &m.AccessControlMode, &dirty)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.UsesDeviceLockKey = usesDeviceLock != 0
	m.Dirty = dirty != 0
	return &m, nil
}

// InsertCollection inserts a new collection row within its own
// transaction (three-phase create, steps 1-4).
func (d *DB) InsertCollection(m CollectionMetadata) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT 1 FROM collections WHERE name = ?", m.Name).Scan(&exists)
	if err == nil {
		return ErrAlreadyExists
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO collections (name, owner_application_id, uses_device_lock_key,
		 storage_plugin, encryption_plugin, authentication_plugin,
		 unlock_semantic, custom_lock_timeout_ms, access_control_mode, dirty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		m.Name, m.OwnerApplicationID, boolToInt(m.UsesDeviceLockKey), m.StoragePlugin,
		m.EncryptionPlugin, m.AuthenticationPlugin, m.UnlockSemantic,
		m.CustomLockTimeoutMs, m.AccessControlMode,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteCollection removes a collection row in its own transaction
// (three-phase delete, step 3).
func (d *DB) DeleteCollection(name string) error {
	_, err := d.conn.Exec("DELETE FROM collections WHERE name = ?", name)
	return err
}

// MarkCollectionDirty flags a row whose row-delete failed after a
// successful plugin delete (three-phase delete, step 4).
func (d *DB) MarkCollectionDirty(name string) error {
	_, err := d.conn.Exec("UPDATE collections SET dirty = 1 WHERE name = ?", name)
	return err
}

// CleanupDeleteCollection best-effort removes a row after a failed
// plugin create (three-phase create, step 6). It never
// returns an error that should override the plugin's original error;
// callers decide propagation
func (d *DB) CleanupDeleteCollection(name string) error {
	_, err := d.conn.Exec("DELETE FROM collections WHERE name = ?", name)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
