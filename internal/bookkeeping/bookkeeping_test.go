package bookkeeping

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookkeeping.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testCollection(name string) CollectionMetadata {
	return CollectionMetadata{
		Name: name,
		OwnerApplicationID: "org.sailfishos.secrets.caller.1",
		UsesDeviceLockKey: true,
		StoragePlugin: "org.sailfishos.secrets.storage.sqlite",
		EncryptionPlugin: "org.sailfishos.secrets.encryption.aesgcm",
		AuthenticationPlugin: "org.sailfishos.secrets.auth.interactive",
		UnlockSemantic: DeviceLockKeepUnlocked,
		AccessControlMode: OwnerOnly,
	}
}

func TestMeta_SetGetRoundtrip(t *testing.T) {
	db := openTestDB(t)

	v, err := db.GetMeta("salt")
	require.NoError(t, err)
	assert.Equal(t, "", v, "absent key should return empty string, not an error")

	require.NoError(t, db.SetMeta("salt", "abc123"))
	v, err = db.GetMeta("salt")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	require.NoError(t, db.SetMeta("salt", "def456"))
	v, err = db.GetMeta("salt")
	require.NoError(t, err)
	assert.Equal(t, "def456", v, "SetMeta should upsert")
}

func TestIsInitialised_DefaultsFalse(t *testing.T) {
	db := openTestDB(t)

	init, err := db.IsInitialised()
	require.NoError(t, err)
	assert.False(t, init)

	require.NoError(t, db.MarkInitialised())
	init, err = db.IsInitialised()
	require.NoError(t, err)
	assert.True(t, init)
}

func TestInsertCollection_RejectsDuplicate(t *testing.T) {
	db := openTestDB(t)
	m := testCollection("wallet")

	require.NoError(t, db.InsertCollection(m))

	err := db.InsertCollection(m)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCollectionAlreadyExists(t *testing.T) {
	db := openTestDB(t)

	exists, err := db.CollectionAlreadyExists("wallet")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, db.InsertCollection(testCollection("wallet")))

	exists, err = db.CollectionAlreadyExists("wallet")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCollectionMetadataFor_RoundtripsFields(t *testing.T) {
	db := openTestDB(t)
	m := testCollection("wallet")
	m.CustomLockTimeoutMs = 30000

	require.NoError(t, db.InsertCollection(m))

	got, err := db.CollectionMetadataFor("wallet")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, m.OwnerApplicationID, got.OwnerApplicationID)
	assert.Equal(t, m.UsesDeviceLockKey, got.UsesDeviceLockKey)
	assert.Equal(t, m.CustomLockTimeoutMs, got.CustomLockTimeoutMs)
	assert.False(t, got.Dirty)
}

func TestCollectionMetadataFor_AbsentReturnsNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.CollectionMetadataFor("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCollectionNames_IncludesDirtyRows(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertCollection(testCollection("wallet")))
	require.NoError(t, db.InsertCollection(testCollection("notes")))
	require.NoError(t, db.MarkCollectionDirty("notes"))

	names, err := db.CollectionNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"notes", "wallet"}, names)
}

func TestDeleteCollection(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertCollection(testCollection("wallet")))

	require.NoError(t, db.DeleteCollection("wallet"))

	exists, err := db.CollectionAlreadyExists("wallet")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSecretLifecycle(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertCollection(testCollection("wallet")))

	hashed := HashSecretName("wallet", "api-key")
	sm := SecretMetadata{
		CollectionName: "wallet",
		HashedSecretName: hashed,
		SecretName: "api-key",
		OwnerApplicationID: "org.sailfishos.secrets.caller.1",
		UsesDeviceLockKey: true,
		StoragePlugin: "org.sailfishos.secrets.storage.sqlite",
		EncryptionPlugin: "org.sailfishos.secrets.encryption.aesgcm",
		AuthenticationPlugin: "org.sailfishos.secrets.auth.interactive",
		UnlockSemantic: DeviceLockKeepUnlocked,
		AccessControlMode: OwnerOnly,
	}

	require.NoError(t, db.InsertSecret(sm))

	err := db.InsertSecret(sm)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	exists, err := db.SecretAlreadyExists("wallet", hashed)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := db.SecretMetadataFor("wallet", hashed)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "api-key", got.SecretName)

	names, err := db.HashedSecretNames("wallet")
	require.NoError(t, err)
	assert.Equal(t, []string{hashed}, names)

	require.NoError(t, db.DeleteSecret("wallet", hashed))
	got, err = db.SecretMetadataFor("wallet", hashed)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeviceLockedCollections_FiltersOnLockKey(t *testing.T) {
	db := openTestDB(t)
	deviceLocked := testCollection("wallet")
	customLocked := testCollection("notes")
	customLocked.UsesDeviceLockKey = false
	customLocked.UnlockSemantic = CustomLockTimeoutRelock

	require.NoError(t, db.InsertCollection(deviceLocked))
	require.NoError(t, db.InsertCollection(customLocked))

	got, err := db.DeviceLockedCollections()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wallet", got[0].Name)
}

func TestHashSecretName_SeparatesCollectionAndName(t *testing.T) {
	h1 := HashSecretName("ab", "c")
	h2 := HashSecretName("a", "bc")
	assert.NotEqual(t, h1, h2, "the separator byte must prevent cross-field collisions")

	h3 := HashSecretName("ab", "c")
	assert.Equal(t, h1, h3, "hashing is deterministic")
}

func TestLock_UnlockRoundtrip(t *testing.T) {
	db := openTestDB(t)
	key := []byte("0123456789abcdef0123456789abcdef")

	locked, err := db.IsLocked()
	require.NoError(t, err)
	assert.True(t, locked, "a fresh database starts locked")

	require.NoError(t, db.Unlock(key))
	locked, err = db.IsLocked()
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, db.Lock())
	locked, err = db.IsLocked()
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestUnlock_WrongKeyFails(t *testing.T) {
	db := openTestDB(t)
	key := []byte("0123456789abcdef0123456789abcdef")
	wrong := []byte("ffffffffffffffffffffffffffffffff")

	require.NoError(t, db.Unlock(key))
	require.NoError(t, db.Lock())

	err := db.Unlock(wrong)
	assert.Error(t, err)
}

func TestReencrypt_ThenUnlockWithNewKey(t *testing.T) {
	db := openTestDB(t)
	oldKey := []byte("0123456789abcdef0123456789abcdef")
	newKey := []byte("fedcba9876543210fedcba9876543210")

	require.NoError(t, db.Unlock(oldKey))
	require.NoError(t, db.Reencrypt(oldKey, newKey))
	require.NoError(t, db.Lock())

	require.NoError(t, db.Unlock(newKey))
	require.NoError(t, db.Lock())

	err := db.Unlock(oldKey)
	assert.Error(t, err, "the old key must no longer unlock after a reencrypt")
}

func TestForgetLockCode_SealsDatabase(t *testing.T) {
	db := openTestDB(t)
	key := []byte("0123456789abcdef0123456789abcdef")
	require.NoError(t, db.Unlock(key))

	require.NoError(t, db.ForgetLockCode())

	locked, err := db.IsLocked()
	require.NoError(t, err)
	assert.True(t, locked)

	err = db.Unlock(key)
	assert.Error(t, err, "the old key must no longer unlock after forget_lock_code")
}
