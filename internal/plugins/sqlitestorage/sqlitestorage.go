// Package sqlitestorage implements the Storage plugin capability: plain
// encrypted-blob storage with no lock state of its own, backed by
// modernc.org/sqlite, storing opaque ciphertext blobs plus their filter
// maps.
package sqlitestorage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

const (
	Name = "org.sailfishos.secrets.storage.sqlite"
	Version = "1.0"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY
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
CREATE INDEX IF NOT EXISTS idx_secret_filters ON secret_filters(collection_name, hashed_name);
`

// Plugin implements plugin.Storage over a sqlite file.
type Plugin struct {
	conn *sql.DB
}

// Open opens or creates the storage database at path.
func Open(path string) (*Plugin, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening storage database: %w", err)
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
	return &Plugin{conn: conn}, nil
}

func (p *Plugin) Close() error { return p.conn.Close() }

var _ plugin.Storage = (*Plugin)(nil)

func (p *Plugin) Name() string { return Name }
func (p *Plugin) Version() string { return Version }

func (p *Plugin) CreateCollection(ctx context.Context, collectionName string) error {
	_, err := p.conn.ExecContext(ctx, "INSERT OR IGNORE INTO collections (name) VALUES (?)", collectionName)
	return err
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
	return tx.Commit()
}

func (p *Plugin) SetSecret(ctx context.Context, collectionName, hashedName string, secret plugin.Secret) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO secrets (collection_name, hashed_name, data) VALUES (?, ?, ?)
		 ON CONFLICT(collection_name, hashed_name) DO UPDATE SET data = excluded.data`,
		collectionName, hashedName, secret.Data,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM secret_filters WHERE collection_name = ? AND hashed_name = ?", collectionName, hashedName); err != nil {
		return err
	}
	for k, v := range secret.Filter {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO secret_filters (collection_name, hashed_name, key, value) VALUES (?, ?, ?, ?)",
			collectionName, hashedName, k, v,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Plugin) GetSecret(ctx context.Context, collectionName, hashedName string) (plugin.Secret, error) {
	var data []byte
	err := p.conn.QueryRowContext(ctx, "SELECT data FROM secrets WHERE collection_name = ? AND hashed_name = ?", collectionName, hashedName).Scan(&data)
	if err == sql.ErrNoRows {
		return plugin.Secret{}, fmt.Errorf("no such secret")
	}
	if err != nil {
		return plugin.Secret{}, err
	}
	filter, ferr := p.readFilter(ctx, collectionName, hashedName)
	if ferr != nil {
		return plugin.Secret{}, ferr
	}
	return plugin.Secret{CollectionName: collectionName, HashedName: hashedName, Data: data, Filter: filter}, nil
}

func (p *Plugin) RemoveSecret(ctx context.Context, collectionName, hashedName string) error {
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

func (p *Plugin) FindSecrets(ctx context.Context, collectionName string, filter map[string]string, op plugin.FilterOperator) ([]string, error) {
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
		if matchesFilter(secretFilter, filter, op) {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

func matchesFilter(secretFilter, query map[string]string, op plugin.FilterOperator) bool {
	if len(query) == 0 {
		return true
	}
	matches := 0
	for k, v := range query {
		if secretFilter[k] == v {
			matches++
		}
	}
	if op == plugin.FilterAnd {
		return matches == len(query)
	}
	return matches > 0
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

// ReencryptSecrets re-encrypts every named secret's stored ciphertext
// from oldKey to newKey (rekey sweep). It uses internal/crypto
// directly rather than dispatching through the named encryption plugin,
// since this plugin only ever stores ciphertext produced by that same
// AES-256-GCM scheme.
func (p *Plugin) ReencryptSecrets(ctx context.Context, collectionName string, hashedNames []string, oldKey, newKey []byte, encryptionPluginName string) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, h := range hashedNames {
		var data []byte
		if err := tx.QueryRowContext(ctx, "SELECT data FROM secrets WHERE collection_name = ? AND hashed_name = ?", collectionName, h).Scan(&data); err != nil {
			return fmt.Errorf("reading %s for reencrypt: %w", h, err)
		}
		plaintext, err := crypto.Decrypt(oldKey, data)
		if err != nil {
			return fmt.Errorf("decrypting %s with old key: %w", h, err)
		}
		ciphertext, err := crypto.Encrypt(newKey, plaintext)
		if err != nil {
			return fmt.Errorf("encrypting %s with new key: %w", h, err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE secrets SET data = ? WHERE collection_name = ? AND hashed_name = ?", ciphertext, collectionName, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}
