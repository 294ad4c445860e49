package sqlitestorage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

func openTestPlugin(t *testing.T) *Plugin {
	t.Helper()
	p, err := Open(filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSetGetSecret_Roundtrip(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))

	secret := plugin.Secret{
		Data: []byte("ciphertext-bytes"),
		Filter: map[string]string{"tag": "work"},
	}
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", secret))

	got, err := p.GetSecret(ctx, "wallet", "hash1")
	require.NoError(t, err)
	assert.Equal(t, secret.Data, got.Data)
	assert.Equal(t, "work", got.Filter["tag"])
}

func TestSetSecret_OverwriteUpdatesFilter(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))

	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{
		Data: []byte("v1"), Filter: map[string]string{"tag": "work"},
	}))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{
		Data: []byte("v2"), Filter: map[string]string{"tag": "home"},
	}))

	got, err := p.GetSecret(ctx, "wallet", "hash1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Data)
	assert.Equal(t, "home", got.Filter["tag"])
	assert.Len(t, got.Filter, 1, "stale filter keys from the previous write must not survive")
}

func TestRemoveSecret(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{Data: []byte("v1")}))

	require.NoError(t, p.RemoveSecret(ctx, "wallet", "hash1"))

	_, err := p.GetSecret(ctx, "wallet", "hash1")
	assert.Error(t, err)
}

func TestRemoveCollection_CascadesSecrets(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{Data: []byte("v1")}))

	require.NoError(t, p.RemoveCollection(ctx, "wallet"))

	_, err := p.GetSecret(ctx, "wallet", "hash1")
	assert.Error(t, err)
}

func TestFindSecrets_EmptyFilterMatchesEverything(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{Data: []byte("v1"), Filter: map[string]string{"tag": "work"}}))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash2", plugin.Secret{Data: []byte("v2")}))

	matched, err := p.FindSecrets(ctx, "wallet", nil, plugin.FilterOr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hash1", "hash2"}, matched)
}

func TestFindSecrets_AndRequiresAllKeys(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{
		Data: []byte("v1"), Filter: map[string]string{"tag": "work", "env": "prod"},
	}))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash2", plugin.Secret{
		Data: []byte("v2"), Filter: map[string]string{"tag": "work"},
	}))

	matched, err := p.FindSecrets(ctx, "wallet", map[string]string{"tag": "work", "env": "prod"}, plugin.FilterAnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"hash1"}, matched)
}

func TestFindSecrets_OrRequiresAnyKey(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{
		Data: []byte("v1"), Filter: map[string]string{"tag": "work"},
	}))
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash2", plugin.Secret{
		Data: []byte("v2"), Filter: map[string]string{"env": "prod"},
	}))

	matched, err := p.FindSecrets(ctx, "wallet", map[string]string{"tag": "work", "env": "prod"}, plugin.FilterOr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hash1", "hash2"}, matched)
}

func TestReencryptSecrets_RewritesUnderNewKey(t *testing.T) {
	ctx := context.Background()
	p := openTestPlugin(t)
	require.NoError(t, p.CreateCollection(ctx, "wallet"))

	oldKey := make([]byte, 32)
	copy(oldKey, "reencrypt-test-old-key-32-bytes!")
	newKey := make([]byte, 32)
	copy(newKey, "reencrypt-test-new-key-32-bytes!")

	ciphertext, err := crypto.Encrypt(oldKey, []byte("plaintext-secret"))
	require.NoError(t, err)
	require.NoError(t, p.SetSecret(ctx, "wallet", "hash1", plugin.Secret{Data: ciphertext}))

	require.NoError(t, p.ReencryptSecrets(ctx, "wallet", []string{"hash1"}, oldKey, newKey, Name))

	got, err := p.GetSecret(ctx, "wallet", "hash1")
	require.NoError(t, err)

	plaintext, err := crypto.Decrypt(newKey, got.Data)
	require.NoError(t, err)
	assert.Equal(t, "plaintext-secret", string(plaintext))

	_, err = crypto.Decrypt(oldKey, got.Data)
	assert.Error(t, err, "the old key should no longer decrypt the reencrypted data")
}
