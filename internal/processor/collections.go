package processor

import (
	"context"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

// GetPluginInfo lists every installed plugin by capability, each paired
// with its reported version. No caller validation applies: any client
// may enumerate plugins.
func (p *Processor) GetPluginInfo() (storage, encryption, encryptedStorage, authentication []plugin.Info) {
	return p.registry.GetPluginInfo()
}

// CollectionNames lists every collection name, including dirty rows
// still pending cleanup.
func (p *Processor) CollectionNames() ([]string, *brokererr.Error) {
	names, err := p.bk.CollectionNames()
	if err != nil {
		return nil, brokererr.New(brokererr.UnknownError, "listing collections: %v", err)
	}
	return names, nil
}

// CreateDeviceLockCollection creates a collection whose key is derived
// from the device lock, following the three-phase create protocol: the
// bookkeeping row is inserted before the plugin is asked to create
// anything, so the only way the two can disagree afterward is a
// bookkeeping row with no backing plugin collection — cleaned up by
// deleting the row again.
func (p *Processor) CreateDeviceLockCollection(ctx context.Context, callerPID int, requestID string, params CreateCollectionParams) *brokererr.Error {
	if err := validateCollectionName(params.CollectionName); err != nil {
		return err.(*brokererr.Error)
	}
	if err := p.registry.ValidatePluginNames(params.StoragePlugin, params.EncryptionPlugin); err != nil {
		return wrapPluginError(err)
	}

	caller := p.resolveCaller(callerPID)

	if err := p.guard.Acquire(params.CollectionName); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(params.CollectionName)

	exists, err := p.bk.CollectionAlreadyExists(params.CollectionName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "checking collection existence: %v", err)
	}
	if exists {
		return brokererr.New(brokererr.CollectionAlreadyExistsError, "collection %q already exists", params.CollectionName)
	}

	meta := bookkeeping.CollectionMetadata{
		Name: params.CollectionName,
		OwnerApplicationID: caller.ApplicationID,
		UsesDeviceLockKey: true,
		StoragePlugin: params.StoragePlugin,
		EncryptionPlugin: params.EncryptionPlugin,
		AuthenticationPlugin: "",
		UnlockSemantic: params.UnlockSemantic,
		AccessControlMode: params.AccessControlMode,
	}
	if err := p.bk.InsertCollection(meta); err != nil {
		if err == bookkeeping.ErrAlreadyExists {
			return brokererr.New(brokererr.CollectionAlreadyExistsError, "collection %q already exists", params.CollectionName)
		}
		return brokererr.New(brokererr.UnknownError, "inserting collection row: %v", err)
	}

	base, kerr := p.deviceLockKeyBytes()
	if kerr != nil {
		p.cleanupFailedCreate(params.CollectionName)
		return kerr
	}
	key := p.collectionKey(params.CollectionName, base)

	if err := p.createCollectionInPlugin(ctx, params.StoragePlugin, params.EncryptionPlugin, params.CollectionName, key); err != nil {
		p.cleanupFailedCreate(params.CollectionName)
		return err
	}
	return nil
}

// CreateCustomLockCollection creates a collection whose key is derived
// from a user-supplied lock code, suspending on the authentication
// plugin to collect it.
func (p *Processor) CreateCustomLockCollection(ctx context.Context, callerPID int, requestID string, params CreateCollectionParams) *brokererr.Error {
	if err := validateCollectionName(params.CollectionName); err != nil {
		return err.(*brokererr.Error)
	}
	if err := p.registry.ValidatePluginNames(params.StoragePlugin, params.EncryptionPlugin); err != nil {
		return wrapPluginError(err)
	}
	if _, ok := p.registry.Authentication(params.AuthenticationPlugin); !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such authentication plugin: %s", params.AuthenticationPlugin)
	}

	caller := p.resolveCaller(callerPID)

	if err := p.guard.Acquire(params.CollectionName); err != nil {
		return err.(*brokererr.Error)
	}
	defer p.guard.Release(params.CollectionName)

	exists, err := p.bk.CollectionAlreadyExists(params.CollectionName)
	if err != nil {
		return brokererr.New(brokererr.UnknownError, "checking collection existence: %v", err)
	}
	if exists {
		return brokererr.New(brokererr.CollectionAlreadyExistsError, "collection %q already exists", params.CollectionName)
	}

	meta := bookkeeping.CollectionMetadata{
		Name: params.CollectionName,
		OwnerApplicationID: caller.ApplicationID,
		UsesDeviceLockKey: false,
		StoragePlugin: params.StoragePlugin,
		EncryptionPlugin: params.EncryptionPlugin,
		AuthenticationPlugin: params.AuthenticationPlugin,
		UnlockSemantic: params.UnlockSemantic,
		CustomLockTimeoutMs: params.CustomLockTimeoutMs,
		AccessControlMode: params.AccessControlMode,
	}
	if err := p.bk.InsertCollection(meta); err != nil {
		if err == bookkeeping.ErrAlreadyExists {
			return brokererr.New(brokererr.CollectionAlreadyExistsError, "collection %q already exists", params.CollectionName)
		}
		return brokererr.New(brokererr.UnknownError, "inserting collection row: %v", err)
	}

	key, kerr := p.resolveKey(ctx, callerPID, requestID, keyRequest{
		CacheKey: collectionCacheKey(params.CollectionName),
		AuthenticationPlugin: params.AuthenticationPlugin,
		EncryptionPlugin: params.EncryptionPlugin,
		UnlockSemantic: params.UnlockSemantic,
		CustomLockTimeoutMs: params.CustomLockTimeoutMs,
		Interaction: plugin.InteractionParameters{
			ApplicationID: caller.ApplicationID,
			CollectionName: params.CollectionName,
			Operation: plugin.OpCreateCollection,
			InputType: plugin.InputAlphaNumeric,
			EchoMode: plugin.EchoPassword,
			AuthenticationPluginName: params.AuthenticationPlugin,
			InteractionServiceAddress: params.InteractionServiceAddress,
		},
	})
	if kerr != nil {
		p.cleanupFailedCreate(params.CollectionName)
		return kerr
	}

	if err := p.createCollectionInPlugin(ctx, params.StoragePlugin, params.EncryptionPlugin, params.CollectionName, key); err != nil {
		p.cleanupFailedCreate(params.CollectionName)
		p.keys.Evict(collectionCacheKey(params.CollectionName))
		return err
	}
	return nil
}

func (p *Processor) cleanupFailedCreate(name string) {
	if err := p.bk.CleanupDeleteCollection(name); err != nil {
		p.log.WithError(err).WithField("collection", name).Error("cleaning up bookkeeping row after failed collection create")
	}
}

// createCollectionInPlugin dispatches the actual plugin call, handling
// both the fused EncryptedStorage case and the split Storage+Encryption
// case.
func (p *Processor) createCollectionInPlugin(ctx context.Context, storageName, encryptionName, collectionName string, key []byte) *brokererr.Error {
	if p.registry.IsFused(storageName, encryptionName) {
		es, _ := p.registry.EncryptedStorage(storageName)
		_, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, es.CreateCollection(ctx, collectionName, key)
		})
		return err
	}

	storage, ok := p.registry.Storage(storageName)
	if !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", storageName)
	}
	_, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
		return nil, storage.CreateCollection(ctx, collectionName)
	})
	return err
}

// DeleteCollection removes a collection, following the three-phase
// delete protocol: the plugin is asked to remove its backing store
// first, and only once that succeeds is the bookkeeping row dropped — so
// the only possible disagreement afterward is a dirty bookkeeping row
// whose plugin-side data is already gone.
func (p *Processor) DeleteCollection(ctx context.Context, callerPID int, requestID, collectionName string) *brokererr.Error {
	if err := validateCollectionName(collectionName); err != nil {
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

	if p.registry.IsFused(meta.StoragePlugin, meta.EncryptionPlugin) {
		es, _ := p.registry.EncryptedStorage(meta.StoragePlugin)
		if _, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, es.RemoveCollection(ctx, collectionName)
		}); err != nil {
			return err
		}
	} else {
		storage, ok := p.registry.Storage(meta.StoragePlugin)
		if !ok {
			return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin: %s", meta.StoragePlugin)
		}
		if _, err := p.runPlugin(ctx, func(ctx context.Context) (any, error) {
			return nil, storage.RemoveCollection(ctx, collectionName)
		}); err != nil {
			return err
		}
	}

	p.keys.Evict(collectionCacheKey(collectionName))

	secrets, serr := p.bk.SecretsInCollection(collectionName)
	if serr != nil {
		p.log.WithError(serr).WithField("collection", collectionName).Error("listing secrets while deleting collection")
	}
	for _, s := range secrets {
		if err := p.bk.DeleteSecret(s.CollectionName, s.HashedSecretName); err != nil {
			p.log.WithError(err).WithField("collection", collectionName).Error("deleting secret row while deleting collection")
		}
	}

	if err := p.bk.DeleteCollection(collectionName); err != nil {
		if merr := p.bk.MarkCollectionDirty(collectionName); merr != nil {
			p.log.WithError(merr).WithField("collection", collectionName).Error("marking collection dirty after failed row delete")
		}
		p.log.WithError(err).WithField("collection", collectionName).Warn("plugin deleted collection but bookkeeping row delete failed; marked dirty")
	}
	return nil
}
