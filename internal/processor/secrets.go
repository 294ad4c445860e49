package processor

import (
	"context"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

// SetCollectionSecret writes a secret into an existing collection,
// following the three-phase "set secret" protocol: the bookkeeping row
// is inserted (or updated, if already present) before the plugin ever
// sees the write, so a plugin failure leaves at worst a bookkeeping row
// with no matching plugin-side secret — cleaned up by deleting the row
// again.
func (p *Processor) SetCollectionSecret(ctx context.Context, callerPID int, requestID string, params SetSecretParams) *brokererr.Error {
	if err := validateCollectionName(params.CollectionName); err != nil {
		return err.(*brokererr.Error)
	}
	if err := validateSecretName(params.SecretName); err != nil {
		return err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)

	if err := p.guard.Acquire(params.CollectionName); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(params.CollectionName)

	meta, err := p.bk.CollectionMetadataFor(params.CollectionName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "looking up collection: %v", err)
	}
	if meta == nil {
		return brokererr.New(brokererr.InvalidCollectionError, "no such collection: %s", params.CollectionName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return err.(*brokererr.Error)
	}

	hashedName := bookkeeping.HashSecretName(params.CollectionName, params.SecretName)

	rowExists, err := p.bk.SecretAlreadyExists(params.CollectionName, hashedName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "checking secret existence: %v", err)
	}

	secretMeta := bookkeeping.SecretMetadata{
		CollectionName: params.CollectionName,
		HashedSecretName: hashedName,
		SecretName: params.SecretName,
		OwnerApplicationID: meta.OwnerApplicationID,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		StoragePlugin: meta.StoragePlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		AccessControlMode: meta.AccessControlMode,
	}
	if rowExists {
		if err := p.bk.UpdateSecret(secretMeta); err != nil {
			return brokererr.New(brokererr.UnknownError, "updating secret row: %v", err)
		}
	} else {
		if err := p.bk.InsertSecret(secretMeta); err != nil {
			if err == bookkeeping.ErrAlreadyExists {
				return brokererr.New(brokererr.SecretAlreadyExistsError, "secret %q already exists", params.SecretName)
			}
			return brokererr.New(brokererr.UnknownError, "inserting secret row: %v", err)
		}
	}

	key, kerr := p.resolveKey(ctx, callerPID, requestID, keyRequest{
		CacheKey: collectionCacheKey(params.CollectionName),
		SubkeyName: params.CollectionName,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		StoragePlugin: meta.StoragePlugin,
		LockCollectionName: params.CollectionName,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
			CollectionName: params.CollectionName,
			SecretName: params.SecretName,
			Operation: plugin.OpStoreSecret,
			InputType: plugin.InputAlphaNumeric,
			EchoMode: plugin.EchoPassword,
			AuthenticationPluginName: meta.AuthenticationPlugin,
		},
	})
	if kerr != nil {
		if !rowExists {
			p.cleanupFailedSecret(params.CollectionName, hashedName)
		}
		return kerr
	}

	secret := plugin.Secret{CollectionName: params.CollectionName, HashedName: hashedName, Data: params.Data, Filter: params.Filter}

	if err := p.writeSecretToPlugin(ctx, meta.StoragePlugin, meta.EncryptionPlugin, hashedName, secret, key); err != nil {
		if !rowExists {
			p.cleanupFailedSecret(params.CollectionName, hashedName)
		}
		return err
	}
	return nil
}

func (p *Processor) cleanupFailedSecret(collectionName, hashedName string) {
	if err := p.bk.CleanupDeleteSecret(collectionName, hashedName); err != nil {
		p.log.WithError(err).WithField("collection", collectionName).Error("cleaning up bookkeeping secret row after failed write")
	}
}

func (p *Processor) writeSecretToPlugin(ctx context.Context, storageName, encryptionName, hashedName string, secret plugin.Secret, key []byte) *brokererr.Error {
	if p.registry.IsFused(storageName, encryptionName) {
		es, _ := p.registry.EncryptedStorage(storageName)
		_, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, es.UnlockCollectionAndStoreSecret(ctx, secret.CollectionName, hashedName, secret, key)
		})
		return err
	}
	storage, ok := p.registry.Storage(storageName)
	if !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", storageName)
	}
	enc, ok := p.registry.Encryption(encryptionName)
	if !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such encryption plugin: %s", encryptionName)
	}
	_, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
		ciphertext, eerr := enc.Encrypt(secret.Data, key)
		if eerr != nil {
			return nil, brokererr.New(brokererr.UnknownError, "encrypting secret: %v", eerr)
		}
		encoded := secret
		encoded.Data = ciphertext
		return nil, storage.SetSecret(ctx, secret.CollectionName, hashedName, encoded)
	})
	return err
}

// GetCollectionSecret reads and decrypts a secret.
func (p *Processor) GetCollectionSecret(ctx context.Context, callerPID int, requestID, collectionName, secretName string) ([]byte, *brokererr.Error) {
	if err := validateCollectionName(collectionName); err != nil {
		return nil, err.(*brokererr.Error)
	}
	if err := validateSecretName(secretName); err != nil {
		return nil, err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)

	meta, err := p.bk.CollectionMetadataFor(collectionName)
	if err != nil {
		return nil, brokererr.New(brokererr.UnknownError, "looking up collection: %v", err)
	}
	if meta == nil {
		return nil, brokererr.New(brokererr.InvalidCollectionError, "no such collection: %s", collectionName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return nil, err.(*brokererr.Error)
	}

	hashedName := bookkeeping.HashSecretName(collectionName, secretName)
	secretMeta, err := p.bk.SecretMetadataFor(collectionName, hashedName)
	if err != nil {
		return nil, brokererr.New(brokererr.UnknownError, "looking up secret: %v", err)
	}
	if secretMeta == nil {
		return nil, brokererr.New(brokererr.InvalidSecretError, "no such secret: %s", secretName)
	}

	key, kerr := p.resolveKey(ctx, callerPID, requestID, keyRequest{
		CacheKey: collectionCacheKey(collectionName),
		SubkeyName: collectionName,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		StoragePlugin: meta.StoragePlugin,
		LockCollectionName: collectionName,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
			CollectionName: collectionName,
			SecretName: secretName,
			Operation: plugin.OpReadSecret,
			InputType: plugin.InputAlphaNumeric,
			EchoMode: plugin.EchoPassword,
			AuthenticationPluginName: meta.AuthenticationPlugin,
		},
	})
	if kerr != nil {
		return nil, kerr
	}

	if p.registry.IsFused(meta.StoragePlugin, meta.EncryptionPlugin) {
		es, _ := p.registry.EncryptedStorage(meta.StoragePlugin)
		v, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return es.UnlockCollectionAndReadSecret(ctx, collectionName, hashedName, key)
		})
		if err != nil {
			return nil, err
		}
		return v.(plugin.Secret).Data, nil
	}

	storage, ok := p.registry.Storage(meta.StoragePlugin)
	if !ok {
		return nil, brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", meta.StoragePlugin)
	}
	enc, ok := p.registry.Encryption(meta.EncryptionPlugin)
	if !ok {
		return nil, brokererr.New(brokererr.InvalidExtensionPluginError, "no such encryption plugin: %s", meta.EncryptionPlugin)
	}
	v, perr := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
		secret, serr := storage.GetSecret(ctx, collectionName, hashedName)
		if serr != nil {
			return nil, serr
		}
		plaintext, derr := enc.Decrypt(secret.Data, key)
		if derr != nil {
			return nil, brokererr.New(brokererr.UnknownError, "decrypting secret: %v", derr)
		}
		return plaintext, nil
	})
	if perr != nil {
		return nil, perr
	}
	return v.([]byte), nil
}

// DeleteCollectionSecret removes a secret, plugin-first per the
// three-phase delete protocol (delete_collection_secret).
func (p *Processor) DeleteCollectionSecret(ctx context.Context, callerPID int, requestID, collectionName, secretName string) *brokererr.Error {
	if err := validateCollectionName(collectionName); err != nil {
		return err.(*brokererr.Error)
	}
	if err := validateSecretName(secretName); err != nil {
		return err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)

	if err := p.guard.Acquire(collectionName); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(collectionName)

	meta, err := p.bk.CollectionMetadataFor(collectionName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "looking up collection: %v", err)
	}
	if meta == nil {
		return brokererr.New(brokererr.InvalidCollectionError, "no such collection: %s", collectionName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return err.(*brokererr.Error)
	}

	hashedName := bookkeeping.HashSecretName(collectionName, secretName)
	secretMeta, err := p.bk.SecretMetadataFor(collectionName, hashedName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "looking up secret: %v", err)
	}
	if secretMeta == nil {
		return brokererr.New(brokererr.InvalidSecretError, "no such secret: %s", secretName)
	}

	key, kerr := p.resolveKey(ctx, callerPID, requestID, keyRequest{
		CacheKey: collectionCacheKey(collectionName),
		SubkeyName: collectionName,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		StoragePlugin: meta.StoragePlugin,
		LockCollectionName: collectionName,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
			CollectionName: collectionName,
			SecretName: secretName,
			Operation: plugin.OpDeleteSecret,
			InputType: plugin.InputAlphaNumeric,
			EchoMode: plugin.EchoPassword,
			AuthenticationPluginName: meta.AuthenticationPlugin,
		},
	})
	if kerr != nil {
		return kerr
	}

	if p.registry.IsFused(meta.StoragePlugin, meta.EncryptionPlugin) {
		es, _ := p.registry.EncryptedStorage(meta.StoragePlugin)
		if _, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, es.UnlockCollectionAndRemoveSecret(ctx, collectionName, hashedName, key)
		}); err != nil {
			return err
		}
	} else {
		storage, ok := p.registry.Storage(meta.StoragePlugin)
		if !ok {
			return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", meta.StoragePlugin)
		}
		if _, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, storage.RemoveSecret(ctx, collectionName, hashedName)
		}); err != nil {
			return err
		}
	}

	if err := p.bk.DeleteSecret(collectionName, hashedName); err != nil {
		if merr := p.bk.MarkSecretDirty(collectionName, hashedName); merr != nil {
			p.log.WithError(merr).WithField("collection", collectionName).Error("marking secret dirty after failed row delete")
		}
		p.log.WithError(err).WithField("collection", collectionName).Warn("plugin deleted secret but bookkeeping row delete failed; marked dirty")
	}
	return nil
}

// FindCollectionSecrets returns the secret names within collectionName
// whose filter matches params' query filter, per the configured
// operator. An empty filter matches everything.
func (p *Processor) FindCollectionSecrets(ctx context.Context, callerPID int, requestID string, params FindSecretsParams) ([]string, *brokererr.Error) {
	if err := validateCollectionName(params.CollectionName); err != nil {
		return nil, err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)

	meta, err := p.bk.CollectionMetadataFor(params.CollectionName)
	if err != nil {
		return nil, brokererr.New(brokererr.UnknownError, "looking up collection: %v", err)
	}
	if meta == nil {
		return nil, brokererr.New(brokererr.InvalidCollectionError, "no such collection: %s", params.CollectionName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return nil, err.(*brokererr.Error)
	}

	op := plugin.FilterOr
	if params.Operator == int(plugin.FilterAnd) {
		op = plugin.FilterAnd
	}

	key, kerr := p.resolveKey(ctx, callerPID, requestID, keyRequest{
		CacheKey: collectionCacheKey(params.CollectionName),
		SubkeyName: params.CollectionName,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		StoragePlugin: meta.StoragePlugin,
		LockCollectionName: params.CollectionName,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
			CollectionName: params.CollectionName,
			Operation: plugin.OpUnlockCollection,
			InputType: plugin.InputAlphaNumeric,
			EchoMode: plugin.EchoPassword,
			AuthenticationPluginName: meta.AuthenticationPlugin,
		},
	})
	if kerr != nil {
		return nil, kerr
	}

	if p.registry.IsFused(meta.StoragePlugin, meta.EncryptionPlugin) {
		es, _ := p.registry.EncryptedStorage(meta.StoragePlugin)
		v, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return es.UnlockAndFindSecrets(ctx, params.CollectionName, params.Filter, op, key)
		})
		if err != nil {
			return nil, err
		}
		return v.([]string), nil
	}

	storage, ok := p.registry.Storage(meta.StoragePlugin)
	if !ok {
		return nil, brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", meta.StoragePlugin)
	}
	v, perr := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
		return storage.FindSecrets(ctx, params.CollectionName, params.Filter, op)
	})
	if perr != nil {
		return nil, perr
	}
	return v.([]string), nil
}

// SetCollectionSecretMetadata and DeleteCollectionSecretMetadata are
// helpers for a crypto plugin that has already written a secret's bytes
// directly to a fused plugin and needs the broker to record the
// bookkeeping row for it: the core only ever touches bookkeeping rows
// here, never the plugin. SetCollectionSecretMetadata therefore rejects
// a secret name that is already registered (SecretAlreadyExistsError),
// the opposite of the ordinary set path.
func (p *Processor) SetCollectionSecretMetadata(ctx context.Context, callerPID int, requestID, collectionName, secretName string, filter map[string]string) *brokererr.Error {
	if err := validateCollectionName(collectionName); err != nil {
		return err.(*brokererr.Error)
	}
	if err := validateSecretName(secretName); err != nil {
		return err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)

	if err := p.guard.Acquire(collectionName); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(collectionName)

	meta, err := p.bk.CollectionMetadataFor(collectionName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "looking up collection: %v", err)
	}
	if meta == nil {
		return brokererr.New(brokererr.InvalidCollectionError, "no such collection: %s", collectionName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return err.(*brokererr.Error)
	}

	es, ok := p.registry.EncryptedStorage(meta.StoragePlugin)
	if !ok || !p.registry.IsFused(meta.StoragePlugin, meta.EncryptionPlugin) {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "collection %q is not backed by a fused encrypted storage plugin", collectionName)
	}

	locked, lerr := es.IsCollectionLocked(ctx, collectionName)
	if lerr != nil {
		return wrapPluginError(lerr)
	}
	if locked {
		return brokererr.New(brokererr.CollectionIsLockedError, "collection %q is locked", collectionName)
	}

	hashedName := bookkeeping.HashSecretName(collectionName, secretName)

	exists, err := p.bk.SecretAlreadyExists(collectionName, hashedName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "checking secret existence: %v", err)
	}
	if exists {
		return brokererr.New(brokererr.SecretAlreadyExistsError, "secret %q already exists", secretName)
	}

	if err := p.bk.InsertSecret(bookkeeping.SecretMetadata{
		CollectionName: collectionName,
		HashedSecretName: hashedName,
		SecretName: secretName,
		OwnerApplicationID: meta.OwnerApplicationID,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		StoragePlugin: meta.StoragePlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		AccessControlMode: meta.AccessControlMode,
	}); err != nil {
		if err == bookkeeping.ErrAlreadyExists {
			return brokererr.New(brokererr.SecretAlreadyExistsError, "secret %q already exists", secretName)
		}
		return brokererr.New(brokererr.UnknownError, "inserting secret row: %v", err)
	}
	return nil
}

// DeleteCollectionSecretMetadata removes a secret's bookkeeping row
// without touching the plugin, the counterpart to
// SetCollectionSecretMetadata for a crypto plugin that manages its own
// deletes directly.
func (p *Processor) DeleteCollectionSecretMetadata(ctx context.Context, callerPID int, requestID, collectionName, secretName string) *brokererr.Error {
	if err := validateCollectionName(collectionName); err != nil {
		return err.(*brokererr.Error)
	}
	if err := validateSecretName(secretName); err != nil {
		return err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)

	if err := p.guard.Acquire(collectionName); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(collectionName)

	meta, err := p.bk.CollectionMetadataFor(collectionName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "looking up collection: %v", err)
	}
	if meta == nil {
		return brokererr.New(brokererr.InvalidCollectionError, "no such collection: %s", collectionName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return err.(*brokererr.Error)
	}

	hashedName := bookkeeping.HashSecretName(collectionName, secretName)
	secretMeta, err := p.bk.SecretMetadataFor(collectionName, hashedName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "looking up secret: %v", err)
	}
	if secretMeta == nil {
		return brokererr.New(brokererr.InvalidSecretError, "no such secret: %s", secretName)
	}

	if err := p.bk.DeleteSecret(collectionName, hashedName); err != nil {
		return brokererr.New(brokererr.UnknownError, "deleting secret row: %v", err)
	}
	return nil
}
