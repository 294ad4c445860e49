// Package fusedstore implements the EncryptedStorage plugin capability:
// a single plugin that is both the byte store and the encryption
// layer, managing its own per-collection lock state via a
// verification-ciphertext check applied independently to each
// collection.
package fusedstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

const (
	Name = "org.sailfishos.secrets.encryptedstorage.sqlcipherlike"
	Version = "1.0"

	verificationPlaintext = "secretsbrokerd-fusedstore-verification"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	verification TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS secrets (
	collection_name TEXT NOT NULL,
	hashed_name TEXT NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (collection_name, hashed_name)
);
CREATE TABLE IF NOT EXISTS secret_filters (
	collection_name TEXT NOT NULL,
	hashed_name TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS plugin_lock (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	verification TEXT NOT NULL
);
`

// Plugin implements plugin.EncryptedStorage. Once a collection is
// unlocked its key is cached in keys so that a caller who has already
// checked IsCollectionLocked may pass an empty key on the next call —
// the fused plugin holds its own key internally, the way the spec's
// PREPARE_KEY step expects.
type Plugin struct {
	conn *sql.DB

	mu sync.Mutex
	locked map[string]bool
	keys map[string][]byte
}

// Open opens or creates the fused store database at path.
func Open(path string) (*Plugin, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening fused store database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, err
	}
	return &Plugin{conn: conn, locked: make(map[string]bool), keys: make(map[string][]byte)}, nil
}

func (p *Plugin) Close() error { return p.conn.Close() }

var _ plugin.EncryptedStorage = (*Plugin)(nil)

func (p *Plugin) Name() string { return Name }
func (p *Plugin) Version() string { return Version }

func (p *Plugin) DeriveKeyFromCode(code, salt []byte) ([]byte, error) {
	return crypto.DeriveKeyFromCode(code, salt), nil
}

func (p *Plugin) CreateCollection(ctx context.Context, collectionName string, key []byte) error {
	verification, err := crypto.EncryptToBase64(key, []byte(verificationPlaintext))
	if err != nil {
		return err
	}
	_, err = p.conn.ExecContext(ctx, "INSERT INTO collections (name, verification) VALUES (?, ?)", collectionName, verification)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.locked[collectionName] = false
	p.keys[collectionName] = append([]byte(nil), key...)
	p.mu.Unlock()
	return nil
}

func (p *Plugin) RemoveCollection(ctx context.Context, collectionName string) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM secret_filters WHERE collection_name = ?", collectionName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM secrets WHERE collection_name = ?", collectionName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", collectionName); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.locked, collectionName)
	delete(p.keys, collectionName)
	p.mu.Unlock()
	return nil
}

func (p *Plugin) IsCollectionLocked(ctx context.Context, collectionName string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, cached := p.keys[collectionName]
	return !cached, nil
}

func (p *Plugin) verifyKey(ctx context.Context, collectionName string, key []byte) error {
	var verification string
	err := p.conn.QueryRowContext(ctx, "SELECT verification FROM collections WHERE name = ?", collectionName).Scan(&verification)
	if err != nil {
		return fmt.Errorf("no such collection: %s", collectionName)
	}
	plaintext, err := crypto.DecryptFromBase64(key, verification)
	if err != nil || string(plaintext) != verificationPlaintext {
		return fmt.Errorf("incorrect key for collection %s", collectionName)
	}
	return nil
}

// effectiveKey resolves the key to actually use for an operation: an
// explicit key is verified by the caller as usual, but an empty key
// (the caller already confirmed the collection is unlocked) falls back
// to the key cached since the last successful unlock.
func (p *Plugin) effectiveKey(collectionName string, key []byte) ([]byte, bool) {
	if len(key) > 0 {
		return key, true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cached, ok := p.keys[collectionName]
	return cached, ok
}

func (p *Plugin) SetSecret(ctx context.Context, collectionName, hashedName string, secret plugin.Secret, key []byte) error {
	effKey, ok := p.effectiveKey(collectionName, key)
	if !ok {
		return fmt.Errorf("collection %s is locked", collectionName)
	}
	if len(key) > 0 {
		if err := p.verifyKey(ctx, collectionName, effKey); err != nil {
			return err
		}
	}
	return p.writeSecret(ctx, collectionName, hashedName, secret, effKey)
}

func (p *Plugin) writeSecret(ctx context.Context, collectionName, hashedName string, secret plugin.Secret, key []byte) error {
	ciphertext, err := crypto.Encrypt(key, secret.Data)
	if err != nil {
		return err
	}
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO secrets (collection_name, hashed_name, data) VALUES (?, ?, ?)
		 ON CONFLICT(collection_name, hashed_name) DO UPDATE SET data = excluded.data`,
		collectionName, hashedName, ciphertext,
	)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM secret_filters WHERE collection_name = ? AND hashed_name = ?", collectionName, hashedName); err != nil {
		return err
	}
	for k, v := range secret.Filter {
		if _, err := tx.ExecContext(ctx, "INSERT INTO secret_filters (collection_name, hashed_name, key, value) VALUES (?, ?, ?, ?)", collectionName, hashedName, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Plugin) UnlockCollectionAndStoreSecret(ctx context.Context, collectionName, hashedName string, secret plugin.Secret, key []byte) error {
	effKey, ok := p.effectiveKey(collectionName, key)
	if !ok {
		return fmt.Errorf("collection %s is locked", collectionName)
	}
	if len(key) > 0 {
		if err := p.verifyKey(ctx, collectionName, effKey); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.locked[collectionName] = false
	p.keys[collectionName] = append([]byte(nil), effKey...)
	p.mu.Unlock()
	return p.writeSecret(ctx, collectionName, hashedName, secret, effKey)
}

func (p *Plugin) readSecret(ctx context.Context, collectionName, hashedName string, key []byte) (plugin.Secret, error) {
	var ciphertext []byte
	err := p.conn.QueryRowContext(ctx, "SELECT data FROM secrets WHERE collection_name = ? AND hashed_name = ?", collectionName, hashedName).Scan(&ciphertext)
	if err != nil {
		return plugin.Secret{}, fmt.Errorf("no such secret")
	}
	plaintext, err := crypto.Decrypt(key, ciphertext)
	if err != nil {
		return plugin.Secret{}, fmt.Errorf("decrypting secret: %w", err)
	}
	filter, err := p.readFilter(ctx, collectionName, hashedName)
	if err != nil {
		return plugin.Secret{}, err
	}
	return plugin.Secret{CollectionName: collectionName, HashedName: hashedName, Data: plaintext, Filter: filter}, nil
}

func (p *Plugin) readFilter(ctx context.Context, collectionName, hashedName string) (map[string]string, error) {
	rows, err := p.conn.QueryContext(ctx, "SELECT key, value FROM secret_filters WHERE collection_name = ? AND hashed_name = ?", collectionName, hashedName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	filter := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		filter[k] = v
	}
	return filter, rows.Err()
}

func (p *Plugin) UnlockCollectionAndReadSecret(ctx context.Context, collectionName, hashedName string, key []byte) (plugin.Secret, error) {
	effKey, ok := p.effectiveKey(collectionName, key)
	if !ok {
		return plugin.Secret{}, fmt.Errorf("collection %s is locked", collectionName)
	}
	if len(key) > 0 {
		if err := p.verifyKey(ctx, collectionName, effKey); err != nil {
			return plugin.Secret{}, err
		}
	}
	p.mu.Lock()
	p.locked[collectionName] = false
	p.keys[collectionName] = append([]byte(nil), effKey...)
	p.mu.Unlock()
	return p.readSecret(ctx, collectionName, hashedName, effKey)
}

func (p *Plugin) AccessSecret(ctx context.Context, collectionName, hashedName string, key []byte) (plugin.Secret, error) {
	effKey, ok := p.effectiveKey(collectionName, key)
	if !ok {
		return plugin.Secret{}, fmt.Errorf("collection %s is locked", collectionName)
	}
	if len(key) > 0 {
		if err := p.verifyKey(ctx, collectionName, effKey); err != nil {
			return plugin.Secret{}, err
		}
	}
	return p.readSecret(ctx, collectionName, hashedName, effKey)
}

func (p *Plugin) removeSecret(ctx context.Context, collectionName, hashedName string) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM secret_filters WHERE collection_name = ? AND hashed_name = ?", collectionName, hashedName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM secrets WHERE collection_name = ? AND hashed_name = ?", collectionName, hashedName); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Plugin) UnlockCollectionAndRemoveSecret(ctx context.Context, collectionName, hashedName string, key []byte) error {
	effKey, ok := p.effectiveKey(collectionName, key)
	if !ok {
		return fmt.Errorf("collection %s is locked", collectionName)
	}
	if len(key) > 0 {
		if err := p.verifyKey(ctx, collectionName, effKey); err != nil {
			return err
		}
	}
	return p.removeSecret(ctx, collectionName, hashedName)
}

func (p *Plugin) UnlockAndRemoveSecret(ctx context.Context, collectionName, hashedName string, usesDeviceLock bool, key []byte) error {
	effKey, ok := p.effectiveKey(collectionName, key)
	if !ok {
		return fmt.Errorf("collection %s is locked", collectionName)
	}
	if len(key) > 0 {
		if err := p.verifyKey(ctx, collectionName, effKey); err != nil {
			return err
		}
	}
	return p.removeSecret(ctx, collectionName, hashedName)
}

func (p *Plugin) UnlockAndFindSecrets(ctx context.Context, collectionName string, filter map[string]string, op plugin.FilterOperator, key []byte) ([]string, error) {
	effKey, ok := p.effectiveKey(collectionName, key)
	if !ok {
		return nil, fmt.Errorf("collection %s is locked", collectionName)
	}
	if len(key) > 0 {
		if err := p.verifyKey(ctx, collectionName, effKey); err != nil {
			return nil, err
		}
	}
	rows, err := p.conn.QueryContext(ctx, "SELECT DISTINCT hashed_name FROM secrets WHERE collection_name = ?", collectionName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var candidates []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		candidates = append(candidates, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return candidates, nil
	}
	var matched []string
	for _, h := range candidates {
		secretFilter, err := p.readFilter(ctx, collectionName, h)
		if err != nil {
			return nil, err
		}
		matches := 0
		for k, v := range filter {
			if secretFilter[k] == v {
				matches++
			}
		}
		if (op == plugin.FilterAnd && matches == len(filter)) || (op == plugin.FilterOr && matches > 0) {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

func (p *Plugin) UnlockCollectionAndReencrypt(ctx context.Context, collectionName string, oldKey, newKey []byte, usesDeviceLock bool) error {
	if err := p.verifyKey(ctx, collectionName, oldKey); err != nil {
		return err
	}
	rows, err := p.conn.QueryContext(ctx, "SELECT hashed_name, data FROM secrets WHERE collection_name = ?", collectionName)
	if err != nil {
		return err
	}
	type row struct {
		hashedName string
		data []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.hashedName, &r.data); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	newVerification, err := crypto.EncryptToBase64(newKey, []byte(verificationPlaintext))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE collections SET verification = ? WHERE name = ?", newVerification, collectionName); err != nil {
		return err
	}
	for _, r := range all {
		plaintext, derr := crypto.Decrypt(oldKey, r.data)
		if derr != nil {
			return fmt.Errorf("decrypting %s during reencrypt: %w", r.hashedName, derr)
		}
		ciphertext, eerr := crypto.Encrypt(newKey, plaintext)
		if eerr != nil {
			return eerr
		}
		if _, err := tx.ExecContext(ctx, "UPDATE secrets SET data = ? WHERE collection_name = ? AND hashed_name = ?", ciphertext, collectionName, r.hashedName); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.mu.Lock()
	if _, cached := p.keys[collectionName]; cached {
		p.keys[collectionName] = append([]byte(nil), newKey...)
	}
	p.mu.Unlock()
	return nil
}

// SetLockCode, Unlock, Lock and SupportsLocking address the plugin's own
// global lock code, independent of any per-collection key. Unlock only
// checks a code against the stored verification value and Lock changes
// nothing: no collection operation of this plugin depends on the global
// lock.
func (p *Plugin) SupportsLocking() bool { return true }

func (p *Plugin) SetLockCode(ctx context.Context, old, new []byte) error {
	var verification string
	err := p.conn.QueryRowContext(ctx, "SELECT verification FROM plugin_lock WHERE id = 0").Scan(&verification)
	if err == sql.ErrNoRows {
		newVerification, eerr := crypto.EncryptToBase64(new, []byte(verificationPlaintext))
		if eerr != nil {
			return eerr
		}
		_, err = p.conn.ExecContext(ctx, "INSERT INTO plugin_lock (id, verification) VALUES (0, ?)", newVerification)
		return err
	}
	if err != nil {
		return err
	}
	plaintext, err := crypto.DecryptFromBase64(old, verification)
	if err != nil || string(plaintext) != verificationPlaintext {
		return fmt.Errorf("incorrect old lock code")
	}
	newVerification, err := crypto.EncryptToBase64(new, []byte(verificationPlaintext))
	if err != nil {
		return err
	}
	_, err = p.conn.ExecContext(ctx, "UPDATE plugin_lock SET verification = ? WHERE id = 0", newVerification)
	return err
}

func (p *Plugin) Unlock(ctx context.Context, code []byte) error {
	var verification string
	err := p.conn.QueryRowContext(ctx, "SELECT verification FROM plugin_lock WHERE id = 0").Scan(&verification)
	if err == sql.ErrNoRows {
		return p.SetLockCode(ctx, nil, code)
	}
	if err != nil {
		return err
	}
	plaintext, err := crypto.DecryptFromBase64(code, verification)
	if err != nil || string(plaintext) != verificationPlaintext {
		return fmt.Errorf("incorrect lock code")
	}
	return nil
}

func (p *Plugin) Lock(ctx context.Context) error {
	return nil
}
