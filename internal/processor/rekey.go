package processor

import (
	"context"

	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/memguard"
)

// modifyDeviceLockCode re-keys the bookkeeping database and then sweeps
// every device-lock collection and standalone secret, reencrypting its
// plugin-side data under the new key. Each collection/secret is
// reencrypted independently; a failure partway through is logged, not
// rolled back, since there is no transactional rekey across plugins.
func (p *Processor) modifyDeviceLockCode(ctx context.Context, oldCode, newCode []byte) *brokererr.Error {
	oldKey := crypto.DeriveKeyFromCode(oldCode, p.salt)
	newKey := crypto.DeriveKeyFromCode(newCode, p.salt)
	defer memguard.Zero(oldKey)
	defer memguard.Zero(newKey)

	if err := p.bk.Reencrypt(oldKey, newKey); err != nil {
		return wrapPluginError(err)
	}

	collections, err := p.bk.DeviceLockedCollections()
	if err != nil {
		p.log.WithError(err).Error("listing device-locked collections for rekey sweep")
	}
	for _, c := range collections {
		oldSub := p.collectionKey(c.Name, oldKey)
		newSub := p.collectionKey(c.Name, newKey)
		if rerr := p.reencryptCollection(ctx, c.Name, c.StoragePlugin, c.EncryptionPlugin, oldSub, newSub); rerr != nil {
			p.log.WithError(rerr).WithField("collection", c.Name).Error("rekey sweep: reencrypting collection failed, leaving it under the old key")
		}
	}

	secrets, err := p.bk.DeviceLockedStandaloneSecrets()
	if err != nil {
		p.log.WithError(err).Error("listing device-locked standalone secrets for rekey sweep")
	}
	for _, s := range secrets {
		oldSub := p.collectionKey(s.HashedSecretName, oldKey)
		newSub := p.collectionKey(s.HashedSecretName, newKey)
		if rerr := p.reencryptStandaloneSecret(ctx, s.HashedSecretName, s.StoragePlugin, s.EncryptionPlugin, oldSub, newSub); rerr != nil {
			p.log.WithError(rerr).WithField("secret", s.SecretName).Error("rekey sweep: reencrypting standalone secret failed, leaving it under the old key")
		}
	}

	p.keys.EvictAll()
	p.setDeviceLockKey(newKey)
	return nil
}

func (p *Processor) reencryptCollection(ctx context.Context, name, storageName, encryptionName string, oldKey, newKey []byte) *brokererr.Error {
	if p.registry.IsFused(storageName, encryptionName) {
		es, _ := p.registry.EncryptedStorage(storageName)
		_, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, es.UnlockCollectionAndReencrypt(ctx, name, oldKey, newKey, true)
		})
		return err
	}

	storage, ok := p.registry.Storage(storageName)
	if !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", storageName)
	}
	hashedNames, err := p.bk.HashedSecretNames(name)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "listing secrets for reencrypt: %v", err)
	}
	_, perr := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
		return nil, storage.ReencryptSecrets(ctx, name, hashedNames, oldKey, newKey, encryptionName)
	})
	return perr
}

// reencryptStandaloneSecret mirrors reencryptCollection but for a single
// standalone secret: each standalone secret carries its own subkey
// (derived from its hashed name, not a shared collection name — see
// modifyDeviceLockCode), so it cannot share a single ReencryptSecrets
// call with any other standalone secret the way a collection's own
// secrets do.
func (p *Processor) reencryptStandaloneSecret(ctx context.Context, hashedName, storageName, encryptionName string, oldKey, newKey []byte) *brokererr.Error {
	const standalone = "standalone"
	if p.registry.IsFused(storageName, encryptionName) {
		es, _ := p.registry.EncryptedStorage(storageName)
		_, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, es.UnlockCollectionAndReencrypt(ctx, standalone, oldKey, newKey, true)
		})
		return err
	}
	storage, ok := p.registry.Storage(storageName)
	if !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", storageName)
	}
	_, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
		return nil, storage.ReencryptSecrets(ctx, standalone, []string{hashedName}, oldKey, newKey, encryptionName)
	})
	return err
}
