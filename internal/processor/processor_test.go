package processor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/logging"
	"github.com/jolla/secretsbrokerd/internal/plugin"
	"github.com/jolla/secretsbrokerd/internal/plugins/aesgcm"
	"github.com/jolla/secretsbrokerd/internal/plugins/sqlitestorage"
)

type fakePermissions struct{ appID string }

func (f *fakePermissions) IsPlatformApplication(callerPID int) bool { return false }
func (f *fakePermissions) PlatformApplicationID() string            { return "org.sailfishos.secrets.platform" }
func (f *fakePermissions) ApplicationID(callerPID int) string       { return f.appID }

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()

	bk, err := bookkeeping.Open(filepath.Join(t.TempDir(), "bookkeeping.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bk.Close() })

	storage, err := sqlitestorage.Open(filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	registry := plugin.NewRegistry()
	registry.RegisterStorage(storage)
	registry.RegisterEncryption(aesgcm.New())

	p := New(Config{
		Registry: registry,
		Bookkeeping: bk,
		Perms: &fakePermissions{appID: "org.sailfishos.secrets.caller.1"},
		Log: logging.Nop(),
		Salt: []byte("test-salt-16byte"),
		MaxConcurrentOps: 4,
	})

	// CreateDeviceLockCollection needs a device lock key installed, the
	// same way provide_lock_code(database) installs one in production.
	key := make([]byte, 32)
	copy(key, "processor-test-device-lock-key!!")
	require.NoError(t, bk.Unlock(key))
	p.setDeviceLockKey(key)

	return p
}

func TestCreateDeviceLockCollection_SetGetDeleteSecret(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t)

	err := p.CreateDeviceLockCollection(ctx, 1, "req-1", CreateCollectionParams{
		CollectionName: "wallet",
		StoragePlugin: sqlitestorage.Name,
		EncryptionPlugin: aesgcm.Name,
		UnlockSemantic: bookkeeping.DeviceLockKeepUnlocked,
		AccessControlMode: bookkeeping.OwnerOnly,
	})
	require.Nil(t, err)

	names, err := p.CollectionNames()
	require.Nil(t, err)
	assert.Contains(t, names, "wallet")

	setErr := p.SetCollectionSecret(ctx, 1, "req-2", SetSecretParams{
		CollectionName: "wallet",
		SecretName: "api-key",
		Data: []byte("sk-12345"),
	})
	require.Nil(t, setErr)

	data, getErr := p.GetCollectionSecret(ctx, 1, "req-3", "wallet", "api-key")
	require.Nil(t, getErr)
	assert.Equal(t, []byte("sk-12345"), data)

	delErr := p.DeleteCollectionSecret(ctx, 1, "req-4", "wallet", "api-key")
	require.Nil(t, delErr)

	_, getErr = p.GetCollectionSecret(ctx, 1, "req-5", "wallet", "api-key")
	require.NotNil(t, getErr)
	assert.Equal(t, brokererr.InvalidSecretError, getErr.Code)
}

func TestCreateDeviceLockCollection_DuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t)

	params := CreateCollectionParams{
		CollectionName: "wallet",
		StoragePlugin: sqlitestorage.Name,
		EncryptionPlugin: aesgcm.Name,
	}
	require.Nil(t, p.CreateDeviceLockCollection(ctx, 1, "req-1", params))

	err := p.CreateDeviceLockCollection(ctx, 1, "req-2", params)
	require.NotNil(t, err)
	assert.Equal(t, brokererr.CollectionAlreadyExistsError, err.Code)
}

func TestCreateDeviceLockCollection_ReservedNameRejected(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t)

	err := p.CreateDeviceLockCollection(ctx, 1, "req-1", CreateCollectionParams{
		CollectionName: bookkeeping.ReservedStandaloneCollection,
		StoragePlugin: sqlitestorage.Name,
		EncryptionPlugin: aesgcm.Name,
	})
	require.NotNil(t, err)
	assert.Equal(t, brokererr.InvalidCollectionError, err.Code)
}

func TestSetCollectionSecret_RejectsUnknownCollection(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t)

	err := p.SetCollectionSecret(ctx, 1, "req-1", SetSecretParams{
		CollectionName: "nonexistent",
		SecretName: "x",
		Data: []byte("y"),
	})
	require.NotNil(t, err)
	assert.Equal(t, brokererr.InvalidCollectionError, err.Code)
}

func TestSetCollectionSecret_AccessControlRejectsOtherOwner(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t)

	require.Nil(t, p.CreateDeviceLockCollection(ctx, 1, "req-1", CreateCollectionParams{
		CollectionName: "wallet",
		StoragePlugin: sqlitestorage.Name,
		EncryptionPlugin: aesgcm.Name,
		AccessControlMode: bookkeeping.OwnerOnly,
	}))

	p.perms = &fakePermissions{appID: "org.sailfishos.secrets.caller.2"}

	err := p.SetCollectionSecret(ctx, 2, "req-2", SetSecretParams{
		CollectionName: "wallet",
		SecretName: "api-key",
		Data: []byte("sk-12345"),
	})
	require.NotNil(t, err)
	assert.Equal(t, brokererr.PermissionsError, err.Code)
}

func TestDeleteCollection_RemovesSecretsToo(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t)

	require.Nil(t, p.CreateDeviceLockCollection(ctx, 1, "req-1", CreateCollectionParams{
		CollectionName: "wallet",
		StoragePlugin: sqlitestorage.Name,
		EncryptionPlugin: aesgcm.Name,
	}))
	require.Nil(t, p.SetCollectionSecret(ctx, 1, "req-2", SetSecretParams{
		CollectionName: "wallet",
		SecretName: "api-key",
		Data: []byte("sk-12345"),
	}))

	require.Nil(t, p.DeleteCollection(ctx, 1, "req-3", "wallet"))

	names, err := p.CollectionNames()
	require.Nil(t, err)
	assert.NotContains(t, names, "wallet")
}

func TestFindCollectionSecrets_EmptyFilterMatchesAll(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t)

	require.Nil(t, p.CreateDeviceLockCollection(ctx, 1, "req-1", CreateCollectionParams{
		CollectionName: "wallet",
		StoragePlugin: sqlitestorage.Name,
		EncryptionPlugin: aesgcm.Name,
	}))
	require.Nil(t, p.SetCollectionSecret(ctx, 1, "req-2", SetSecretParams{
		CollectionName: "wallet", SecretName: "a", Data: []byte("1"),
	}))
	require.Nil(t, p.SetCollectionSecret(ctx, 1, "req-3", SetSecretParams{
		CollectionName: "wallet", SecretName: "b", Data: []byte("2"),
	}))

	names, err := p.FindCollectionSecrets(ctx, 1, "req-4", FindSecretsParams{CollectionName: "wallet"})
	require.Nil(t, err)
	assert.Len(t, names, 2)
}
