package plugin

import (
	"context"
	"testing"
)

type fakeStorage struct{ name, version string }

func (f *fakeStorage) Name() string    { return f.name }
func (f *fakeStorage) Version() string { return f.version }

func (f *fakeStorage) CreateCollection(ctx context.Context, collectionName string) error { return nil }
func (f *fakeStorage) RemoveCollection(ctx context.Context, collectionName string) error { return nil }
func (f *fakeStorage) SetSecret(ctx context.Context, collectionName, hashedName string, secret Secret) error {
	return nil
}
func (f *fakeStorage) GetSecret(ctx context.Context, collectionName, hashedName string) (Secret, error) {
	return Secret{}, nil
}
func (f *fakeStorage) RemoveSecret(ctx context.Context, collectionName, hashedName string) error {
	return nil
}
func (f *fakeStorage) FindSecrets(ctx context.Context, collectionName string, filter map[string]string, op FilterOperator) ([]string, error) {
	return nil, nil
}
func (f *fakeStorage) ReencryptSecrets(ctx context.Context, collectionName string, hashedNames []string, oldKey, newKey []byte, encryptionPluginName string) error {
	return nil
}

type fakeEncryption struct{ name, version string }

func (f *fakeEncryption) Name() string    { return f.name }
func (f *fakeEncryption) Version() string { return f.version }
func (f *fakeEncryption) DeriveKeyFromCode(code, salt []byte) ([]byte, error) {
	return code, nil
}
func (f *fakeEncryption) Encrypt(plaintext, key []byte) ([]byte, error)  { return plaintext, nil }
func (f *fakeEncryption) Decrypt(ciphertext, key []byte) ([]byte, error) { return ciphertext, nil }

type fakeEncryptedStorage struct{ name, version string }

func (f *fakeEncryptedStorage) Name() string    { return f.name }
func (f *fakeEncryptedStorage) Version() string { return f.version }

func (f *fakeEncryptedStorage) CreateCollection(ctx context.Context, collectionName string, key []byte) error {
	return nil
}
func (f *fakeEncryptedStorage) RemoveCollection(ctx context.Context, collectionName string) error {
	return nil
}
func (f *fakeEncryptedStorage) IsCollectionLocked(ctx context.Context, collectionName string) (bool, error) {
	return false, nil
}
func (f *fakeEncryptedStorage) SetSecret(ctx context.Context, collectionName, hashedName string, secret Secret, key []byte) error {
	return nil
}
func (f *fakeEncryptedStorage) UnlockCollectionAndStoreSecret(ctx context.Context, collectionName, hashedName string, secret Secret, key []byte) error {
	return nil
}
func (f *fakeEncryptedStorage) UnlockCollectionAndReadSecret(ctx context.Context, collectionName, hashedName string, key []byte) (Secret, error) {
	return Secret{}, nil
}
func (f *fakeEncryptedStorage) UnlockCollectionAndRemoveSecret(ctx context.Context, collectionName, hashedName string, key []byte) error {
	return nil
}
func (f *fakeEncryptedStorage) UnlockAndRemoveSecret(ctx context.Context, collectionName, hashedName string, usesDeviceLock bool, key []byte) error {
	return nil
}
func (f *fakeEncryptedStorage) UnlockAndFindSecrets(ctx context.Context, collectionName string, filter map[string]string, op FilterOperator, key []byte) ([]string, error) {
	return nil, nil
}
func (f *fakeEncryptedStorage) AccessSecret(ctx context.Context, collectionName, hashedName string, key []byte) (Secret, error) {
	return Secret{}, nil
}
func (f *fakeEncryptedStorage) UnlockCollectionAndReencrypt(ctx context.Context, collectionName string, oldKey, newKey []byte, usesDeviceLock bool) error {
	return nil
}
func (f *fakeEncryptedStorage) DeriveKeyFromCode(code, salt []byte) ([]byte, error) {
	return code, nil
}
func (f *fakeEncryptedStorage) SetLockCode(ctx context.Context, old, new []byte) error { return nil }
func (f *fakeEncryptedStorage) Unlock(ctx context.Context, code []byte) error          { return nil }
func (f *fakeEncryptedStorage) Lock(ctx context.Context) error                        { return nil }
func (f *fakeEncryptedStorage) SupportsLocking() bool                                 { return true }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterStorage(&fakeStorage{name: "sqlite", version: "1.0"})

	p, ok := r.Storage("sqlite")
	if !ok {
		t.Fatal("expected sqlite storage plugin to be found")
	}
	if p.Version() != "1.0" {
		t.Fatalf("unexpected version: %s", p.Version())
	}

	if _, ok := r.Storage("missing"); ok {
		t.Fatal("expected missing plugin to not be found")
	}
}

func TestValidatePluginNames_SplitPair(t *testing.T) {
	r := NewRegistry()
	r.RegisterStorage(&fakeStorage{name: "sqlite"})
	r.RegisterEncryption(&fakeEncryption{name: "aesgcm"})

	if err := r.ValidatePluginNames("sqlite", "aesgcm"); err != nil {
		t.Fatalf("expected valid split pair, got %v", err)
	}
}

func TestValidatePluginNames_UnknownStorage(t *testing.T) {
	r := NewRegistry()
	r.RegisterEncryption(&fakeEncryption{name: "aesgcm"})

	if err := r.ValidatePluginNames("nonexistent", "aesgcm"); err == nil {
		t.Fatal("expected error for unknown storage plugin")
	}
}

func TestValidatePluginNames_FusedPlugin(t *testing.T) {
	r := NewRegistry()
	r.RegisterEncryptedStorage(&fakeEncryptedStorage{name: "fused"})

	if err := r.ValidatePluginNames("fused", "fused"); err != nil {
		t.Fatalf("expected valid fused pair, got %v", err)
	}
}

func TestValidatePluginNames_SameNameNotFused(t *testing.T) {
	r := NewRegistry()
	// "dup" is registered as a plain storage plugin, not an EncryptedStorage one.
	r.RegisterStorage(&fakeStorage{name: "dup"})

	if err := r.ValidatePluginNames("dup", "dup"); err == nil {
		t.Fatal("expected error: same-name pair must resolve to a registered EncryptedStorage plugin")
	}
}

func TestIsFused(t *testing.T) {
	r := NewRegistry()
	r.RegisterEncryptedStorage(&fakeEncryptedStorage{name: "fused"})

	if !r.IsFused("fused", "fused") {
		t.Fatal("expected IsFused to be true for matching registered fused plugin")
	}
	if r.IsFused("fused", "other") {
		t.Fatal("expected IsFused to be false for distinct names")
	}
}

func TestGetPluginInfo_SortedByName(t *testing.T) {
	r := NewRegistry()
	r.RegisterStorage(&fakeStorage{name: "zeta", version: "1.0"})
	r.RegisterStorage(&fakeStorage{name: "alpha", version: "2.0"})

	storage, _, _, _ := r.GetPluginInfo()
	if len(storage) != 2 {
		t.Fatalf("expected 2 storage plugins, got %d", len(storage))
	}
	if storage[0].Name != "alpha" || storage[1].Name != "zeta" {
		t.Fatalf("expected sorted order, got %+v", storage)
	}
	if storage[0].Capability != CapStorage {
		t.Fatalf("expected CapStorage, got %v", storage[0].Capability)
	}
}
