package processor

import (
	"context"

	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/memguard"
)

// The bookkeeping database's own lock key doubles as the device lock
// key: unlocking the database with provide_lock_code(database) is what
// makes every device-lock collection's subkey derivable. A
// plugin-targeted lock code operation instead addresses that one
// plugin's own SetLockCode/Unlock/Lock methods, for EncryptedStorage
// and Authentication plugins that manage their own lock state.

// ProvideLockCode supplies a lock code to unlock either the bookkeeping
// database (and thus the device lock) or a single plugin's own lock
// (provide_lock_code). Targeting the bookkeeping database is a
// platform-application-only operation.
func (p *Processor) ProvideLockCode(ctx context.Context, callerPID int, target LockTarget, pluginName string, code []byte) *brokererr.Error {
	if target == TargetBookkeepingDatabase {
		if err := p.requirePlatformCaller(callerPID); err != nil {
			return err
		}
		key := crypto.DeriveKeyFromCode(code, p.salt)
		defer memguard.Zero(key)
		if err := p.bk.Unlock(key); err != nil {
			return wrapPluginError(err)
		}
		p.setDeviceLockKey(key)
		return nil
	}
	return p.withPluginLock(pluginName, func(lockable lockablePlugin) error {
		return lockable.Unlock(ctx, code)
	})
}

// ForgetLockCode discards key material so the target requires a fresh
// provide_lock_code before it will unlock again. Targeting the
// bookkeeping database is a platform-application-only operation.
func (p *Processor) ForgetLockCode(ctx context.Context, callerPID int, target LockTarget, pluginName string) *brokererr.Error {
	if target == TargetBookkeepingDatabase {
		if err := p.requirePlatformCaller(callerPID); err != nil {
			return err
		}
		if err := p.bk.ForgetLockCode(); err != nil {
			return wrapPluginError(err)
		}
		p.clearDeviceLockKey()
		return nil
	}
	return p.withPluginLock(pluginName, func(lockable lockablePlugin) error {
		return lockable.Lock(ctx)
	})
}

// ModifyLockCode changes the lock code for the bookkeeping database (and
// thus the device lock, triggering the master rekey sweep)
// or for a single plugin's own lock (modify_lock_code). Targeting the
// bookkeeping database is a platform-application-only operation.
func (p *Processor) ModifyLockCode(ctx context.Context, callerPID int, target LockTarget, pluginName string, oldCode, newCode []byte) *brokererr.Error {
	if target == TargetBookkeepingDatabase {
		if err := p.requirePlatformCaller(callerPID); err != nil {
			return err
		}
		return p.modifyDeviceLockCode(ctx, oldCode, newCode)
	}
	return p.withPluginLock(pluginName, func(lockable lockablePlugin) error {
		return lockable.SetLockCode(ctx, oldCode, newCode)
	})
}

// requirePlatformCaller rejects any caller that is not the platform
// application, for operations that affect the device lock itself rather
// than a single collection.
func (p *Processor) requirePlatformCaller(callerPID int) *brokererr.Error {
	if !p.perms.IsPlatformApplication(callerPID) {
		return brokererr.New(brokererr.PermissionsError, "only the platform application may change the device lock code")
	}
	return nil
}

// lockablePlugin is the lock-lifecycle subset shared by EncryptedStorage
// and Authentication plugins.
type lockablePlugin interface {
	SupportsLocking() bool
	Unlock(ctx context.Context, code []byte) error
	Lock(ctx context.Context) error
	SetLockCode(ctx context.Context, old, new []byte) error
}

func (p *Processor) withPluginLock(pluginName string, fn func(lockablePlugin) error) *brokererr.Error {
	if es, ok := p.registry.EncryptedStorage(pluginName); ok {
		if !es.SupportsLocking() {
			return brokererr.New(brokererr.OperationNotSupportedError, "plugin %s does not support lock-code operations", pluginName)
		}
		if err := fn(es); err != nil {
			return wrapPluginError(err)
		}
		return nil
	}
	if auth, ok := p.registry.Authentication(pluginName); ok {
		if !auth.SupportsLocking() {
			return brokererr.New(brokererr.OperationNotSupportedError, "plugin %s does not support lock-code operations", pluginName)
		}
		if err := fn(auth); err != nil {
			return wrapPluginError(err)
		}
		return nil
	}
	return brokererr.New(brokererr.InvalidExtensionPluginError, "no such lockable plugin: %s", pluginName)
}
