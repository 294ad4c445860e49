package processor

import (
	"context"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

// Standalone secrets are addressed under the reserved "standalone"
// pseudo-collection in bookkeeping, but each one carries its own plugin
// choice and lock state independent of any other standalone secret, so
// their interleave-guard and key-cache entries are keyed per secret
// rather than per pseudo-collection.

func standaloneBusyKey(hashedName string) string { return "standalone:" + hashedName }

// SetStandaloneDeviceLockSecret creates or overwrites a standalone
// secret keyed by the device lock.
func (p *Processor) SetStandaloneDeviceLockSecret(ctx context.Context, callerPID int, requestID string, params SetSecretParams) *brokererr.Error {
	return p.setStandaloneSecret(ctx, callerPID, requestID, params, true)
}

// SetStandaloneCustomLockSecret creates or overwrites a standalone
// secret keyed by a user-supplied lock code.
func (p *Processor) SetStandaloneCustomLockSecret(ctx context.Context, callerPID int, requestID string, params SetSecretParams) *brokererr.Error {
	return p.setStandaloneSecret(ctx, callerPID, requestID, params, false)
}

func (p *Processor) setStandaloneSecret(ctx context.Context, callerPID int, requestID string, params SetSecretParams, usesDeviceLock bool) *brokererr.Error {
	if err := validateSecretName(params.SecretName); err != nil {
		return err.(*brokererr.Error)
	}
	if err := p.registry.ValidatePluginNames(params.StoragePlugin, params.EncryptionPlugin); err != nil {
		return wrapPluginError(err)
	}
	if !usesDeviceLock {
		if _, ok := p.registry.Authentication(params.AuthenticationPlugin); !ok {
			return brokererr.New(brokererr.InvalidExtensionPluginError, "no such authentication plugin: %s", params.AuthenticationPlugin)
		}
	}

	caller := p.resolveCaller(callerPID)
	hashedName := bookkeeping.HashSecretName(bookkeeping.ReservedStandaloneCollection, params.SecretName)

	if err := p.guard.Acquire(standaloneBusyKey(hashedName)); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(standaloneBusyKey(hashedName))

	rowExists, err := p.bk.SecretAlreadyExists(bookkeeping.ReservedStandaloneCollection, hashedName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "checking secret existence: %v", err)
	}
	if rowExists {
		existing, err := p.bk.SecretMetadataFor(bookkeeping.ReservedStandaloneCollection, hashedName)
		if err != nil {
			return brokererr.New(brokererr.UnknownError, "looking up secret: %v", err)
		}
		if !params.Overwrite && existing.OwnerApplicationID != caller.ApplicationID && !caller.IsPlatform {
			return brokererr.New(brokererr.PermissionsError, "standalone secret is owned by a different application")
		}
	}

	secretMeta := bookkeeping.SecretMetadata{
		CollectionName: bookkeeping.ReservedStandaloneCollection,
		HashedSecretName: hashedName,
		SecretName: params.SecretName,
		OwnerApplicationID: caller.ApplicationID,
		UsesDeviceLockKey: usesDeviceLock,
		StoragePlugin: params.StoragePlugin,
		EncryptionPlugin: params.EncryptionPlugin,
		AuthenticationPlugin: params.AuthenticationPlugin,
		UnlockSemantic: params.UnlockSemantic,
		CustomLockTimeoutMs: params.CustomLockTimeoutMs,
		AccessControlMode: params.AccessControlMode,
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
		CacheKey: secretCacheKey(hashedName),
		SubkeyName: hashedName,
		UsesDeviceLockKey: usesDeviceLock,
		AuthenticationPlugin: params.AuthenticationPlugin,
		EncryptionPlugin: params.EncryptionPlugin,
		UnlockSemantic: params.UnlockSemantic,
		CustomLockTimeoutMs: params.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
			SecretName: params.SecretName,
			Operation: plugin.OpStoreSecret,
			InputType: plugin.InputAlphaNumeric,
			EchoMode: plugin.EchoPassword,
			AuthenticationPluginName: params.AuthenticationPlugin,
		},
	})
	if kerr != nil {
		if !rowExists {
			p.cleanupFailedSecret(bookkeeping.ReservedStandaloneCollection, hashedName)
		}
		return kerr
	}

	secret := plugin.Secret{CollectionName: bookkeeping.ReservedStandaloneCollection, HashedName: hashedName, Data: params.Data, Filter: params.Filter}
	if err := p.writeSecretToPlugin(ctx, params.StoragePlugin, params.EncryptionPlugin, hashedName, secret, key); err != nil {
		if !rowExists {
			p.cleanupFailedSecret(bookkeeping.ReservedStandaloneCollection, hashedName)
		}
		return err
	}
	return nil
}

// GetStandaloneSecret reads and decrypts a standalone secret.
func (p *Processor) GetStandaloneSecret(ctx context.Context, callerPID int, requestID, secretName string) ([]byte, *brokererr.Error) {
	if err := validateSecretName(secretName); err != nil {
		return nil, err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)
	hashedName := bookkeeping.HashSecretName(bookkeeping.ReservedStandaloneCollection, secretName)

	meta, err := p.bk.SecretMetadataFor(bookkeeping.ReservedStandaloneCollection, hashedName)
	if err != nil {
		return nil, brokererr.New(brokererr.UnknownError, "looking up secret: %v", err)
	}
	if meta == nil {
		return nil, brokererr.New(brokererr.InvalidSecretError, "no such secret: %s", secretName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return nil, err.(*brokererr.Error)
	}

	key, kerr := p.resolveKey(ctx, callerPID, requestID, keyRequest{
		CacheKey: secretCacheKey(hashedName),
		SubkeyName: hashedName,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
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
			return es.AccessSecret(ctx, bookkeeping.ReservedStandaloneCollection, hashedName, key)
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
		secret, serr := storage.GetSecret(ctx, bookkeeping.ReservedStandaloneCollection, hashedName)
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

// DeleteStandaloneSecret removes a standalone secret, plugin-first per
// the three-phase delete protocol (delete_standalone_secret).
func (p *Processor) DeleteStandaloneSecret(ctx context.Context, callerPID int, requestID, secretName string) *brokererr.Error {
	if err := validateSecretName(secretName); err != nil {
		return err.(*brokererr.Error)
	}

	caller := p.resolveCaller(callerPID)
	hashedName := bookkeeping.HashSecretName(bookkeeping.ReservedStandaloneCollection, secretName)

	if err := p.guard.Acquire(standaloneBusyKey(hashedName)); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(standaloneBusyKey(hashedName))

	meta, err := p.bk.SecretMetadataFor(bookkeeping.ReservedStandaloneCollection, hashedName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "looking up secret: %v", err)
	}
	if meta == nil {
		return brokererr.New(brokererr.InvalidSecretError, "no such secret: %s", secretName)
	}
	if err := checkAccessControl(meta.AccessControlMode, meta.OwnerApplicationID, caller); err != nil {
		return err.(*brokererr.Error)
	}

	key, kerr := p.resolveKey(ctx, callerPID, requestID, keyRequest{
		CacheKey: secretCacheKey(hashedName),
		SubkeyName: hashedName,
		UsesDeviceLockKey: meta.UsesDeviceLockKey,
		AuthenticationPlugin: meta.AuthenticationPlugin,
		EncryptionPlugin: meta.EncryptionPlugin,
		UnlockSemantic: meta.UnlockSemantic,
		CustomLockTimeoutMs: meta.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
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
			return nil, es.UnlockAndRemoveSecret(ctx, bookkeeping.ReservedStandaloneCollection, hashedName, meta.UsesDeviceLockKey, key)
		}); err != nil {
			return err
		}
	} else {
		storage, ok := p.registry.Storage(meta.StoragePlugin)
		if !ok {
			return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", meta.StoragePlugin)
		}
		if _, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, storage.RemoveSecret(ctx, bookkeeping.ReservedStandaloneCollection, hashedName)
		}); err != nil {
			return err
		}
	}

	p.keys.Evict(secretCacheKey(hashedName))

	if err := p.bk.DeleteSecret(bookkeeping.ReservedStandaloneCollection, hashedName); err != nil {
		if merr := p.bk.MarkSecretDirty(bookkeeping.ReservedStandaloneCollection, hashedName); merr != nil {
			p.log.WithError(merr).WithField("secret", secretName).Error("marking standalone secret dirty after failed row delete")
		}
		p.log.WithError(err).WithField("secret", secretName).Warn("plugin deleted standalone secret but bookkeeping row delete failed; marked dirty")
	}
	return nil
}
