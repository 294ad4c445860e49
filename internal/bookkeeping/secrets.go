package bookkeeping

import "database/sql"

// SecretMetadata is a row of the secrets table. Non-standalone secrets
// inherit plugin/lock fields from their collection at insert time;
// standalone secrets (collection_name == "standalone") carry their own.
type SecretMetadata struct {
	CollectionName string
	HashedSecretName string
	SecretName string
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

// SecretAlreadyExists reports existence by primary key lookup.
func (d *DB) SecretAlreadyExists(collectionName, hashedName string) (bool, error) {
	var exists int
	err := d.conn.QueryRow(
		"SELECT 1 FROM secrets WHERE collection_name = ? AND hashed_secret_name = ?",
		collectionName, hashedName,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SecretMetadataFor reads a secret's row, returning (nil, nil) if absent.
func (d *DB) SecretMetadataFor(collectionName, hashedName string) (*SecretMetadata, error) {
	var m SecretMetadata
	var usesDeviceLock, dirty int
	err := d.conn.QueryRow(
		`SELECT collection_name, hashed_secret_name, secret_name, owner_application_id,
		 uses_device_lock_key, storage_plugin, encryption_plugin,
		 authentication_plugin, unlock_semantic, custom_lock_timeout_ms,
		 access_control_mode, dirty
		 FROM secrets WHERE collection_name = ? AND hashed_secret_name = ?`,
		collectionName, hashedName,
	).Scan(&m.CollectionName, &m.HashedSecretName, &m.SecretName, &m.OwnerApplicationID,
		&usesDeviceLock, &m.StoragePlugin, &m.EncryptionPlugin, &m.AuthenticationPlugin,
		&m.UnlockSemantic, &m.CustomLockTimeoutMs, &m.AccessControlMode, &dirty)
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

// HashedSecretNames lists all hashed secret names within a collection.
func (d *DB) HashedSecretNames(collectionName string) ([]string, error) {
	rows, err := d.conn.Query(
		"SELECT hashed_secret_name FROM secrets WHERE collection_name = ? ORDER BY hashed_secret_name",
		collectionName,
	)
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

// InsertSecret inserts a new secret row (three-phase "Set
// secret": insert the row first if not already present).
func (d *DB) InsertSecret(m SecretMetadata) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(
		"SELECT 1 FROM secrets WHERE collection_name = ? AND hashed_secret_name = ?",
		m.CollectionName, m.HashedSecretName,
	).Scan(&exists)
	if err == nil {
		return ErrAlreadyExists
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO secrets (collection_name, hashed_secret_name, secret_name,
		 owner_application_id, uses_device_lock_key, storage_plugin,
		 encryption_plugin, authentication_plugin, unlock_semantic,
		 custom_lock_timeout_ms, access_control_mode, dirty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		m.CollectionName, m.HashedSecretName, m.SecretName, m.OwnerApplicationID,
		boolToInt(m.UsesDeviceLockKey), m.StoragePlugin, m.EncryptionPlugin,
		m.AuthenticationPlugin, m.UnlockSemantic, m.CustomLockTimeoutMs, m.AccessControlMode,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateSecret updates an existing secret row's mutable fields.
func (d *DB) UpdateSecret(m SecretMetadata) error {
	_, err := d.conn.Exec(
		`UPDATE secrets SET owner_application_id = ?, uses_device_lock_key = ?,
		 storage_plugin = ?, encryption_plugin = ?, authentication_plugin = ?,
		 unlock_semantic = ?, custom_lock_timeout_ms = ?, access_control_mode = ?
		 WHERE collection_name = ? AND hashed_secret_name = ?`,
		m.OwnerApplicationID, boolToInt(m.UsesDeviceLockKey), m.StoragePlugin,
		m.EncryptionPlugin, m.AuthenticationPlugin, m.UnlockSemantic,
		m.CustomLockTimeoutMs, m.AccessControlMode, m.CollectionName, m.HashedSecretName,
	)
	return err
}

// DeleteSecret removes a secret row.
func (d *DB) DeleteSecret(collectionName, hashedName string) error {
	_, err := d.conn.Exec(
		"DELETE FROM secrets WHERE collection_name = ? AND hashed_secret_name = ?",
		collectionName, hashedName,
	)
	return err
}

// MarkSecretDirty flags a row whose row-delete failed after a
// successful plugin delete.
func (d *DB) MarkSecretDirty(collectionName, hashedName string) error {
	_, err := d.conn.Exec(
		"UPDATE secrets SET dirty = 1 WHERE collection_name = ? AND hashed_secret_name = ?",
		collectionName, hashedName,
	)
	return err
}

// CleanupDeleteSecret best-effort removes a row after a failed plugin
// write (three-phase "Set secret").
func (d *DB) CleanupDeleteSecret(collectionName, hashedName string) error {
	return d.DeleteSecret(collectionName, hashedName)
}

// SecretsInCollection returns the metadata row (hashed name included)
// of every secret belonging to a collection — used by the master rekey sweep to enumerate what a split-plugin collection must reencrypt.
func (d *DB) SecretsInCollection(collectionName string) ([]SecretMetadata, error) {
	rows, err := d.conn.Query(
		`SELECT collection_name, hashed_secret_name, secret_name, owner_application_id,
		 uses_device_lock_key, storage_plugin, encryption_plugin,
		 authentication_plugin, unlock_semantic, custom_lock_timeout_ms,
		 access_control_mode, dirty
		 FROM secrets WHERE collection_name = ?`, collectionName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SecretMetadata
	for rows.Next() {
		var m SecretMetadata
		var usesDeviceLock, dirty int
		if err := rows.Scan(&m.CollectionName, &m.HashedSecretName, &m.SecretName,
			&m.OwnerApplicationID, &usesDeviceLock, &m.StoragePlugin, &m.EncryptionPlugin,
			&m.AuthenticationPlugin, &m.UnlockSemantic, &m.CustomLockTimeoutMs,
			&m.AccessControlMode, &dirty); err != nil {
			return nil, err
		}
		m.UsesDeviceLockKey = usesDeviceLock != 0
		m.Dirty = dirty != 0
		result = append(result, m)
	}
	return result, rows.Err()
}

// DeviceLockedStandaloneSecrets lists every standalone secret keyed by
// the device lock, for the master rekey sweep (step 6).
func (d *DB) DeviceLockedStandaloneSecrets() ([]SecretMetadata, error) {
	rows, err := d.conn.Query(
		`SELECT collection_name, hashed_secret_name, secret_name, owner_application_id,
		 uses_device_lock_key, storage_plugin, encryption_plugin,
		 authentication_plugin, unlock_semantic, custom_lock_timeout_ms,
		 access_control_mode, dirty
		 FROM secrets WHERE collection_name = 'standalone' AND uses_device_lock_key = 1`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SecretMetadata
	for rows.Next() {
		var m SecretMetadata
		var usesDeviceLock, dirty int
		if err := rows.Scan(&m.CollectionName, &m.HashedSecretName, &m.SecretName,
			&m.OwnerApplicationID, &usesDeviceLock, &m.StoragePlugin, &m.EncryptionPlugin,
			&m.AuthenticationPlugin, &m.UnlockSemantic, &m.CustomLockTimeoutMs,
			&m.AccessControlMode, &dirty); err != nil {
			return nil, err
		}
		m.UsesDeviceLockKey = usesDeviceLock != 0
		m.Dirty = dirty != 0
		result = append(result, m)
	}
	return result, rows.Err()
}

// DeviceLockedCollections lists collections keyed by the device lock,
// for the master rekey sweep (step 5).
func (d *DB) DeviceLockedCollections() ([]CollectionMetadata, error) {
	rows, err := d.conn.Query(
		`SELECT name, owner_application_id, uses_device_lock_key, storage_plugin,
		 encryption_plugin, authentication_plugin, unlock_semantic,
		 custom_lock_timeout_ms, access_control_mode, dirty
		 FROM collections WHERE uses_device_lock_key = 1`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CollectionMetadata
	for rows.Next() {
		var m CollectionMetadata
		var usesDeviceLock, dirty int
		if err := rows.Scan(&m.Name, &m.OwnerApplicationID, &usesDeviceLock, &m.StoragePlugin,
			&m.EncryptionPlugin, &m.AuthenticationPlugin, &m.UnlockSemantic,
			&m.CustomLockTimeoutMs, &m.AccessControlMode, &dirty); err != nil {
			return nil, err
		}
		m.UsesDeviceLockKey = usesDeviceLock != 0
		m.Dirty = dirty != 0
		result = append(result, m)
	}
	return result, rows.Err()
}
