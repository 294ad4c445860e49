// Package processor implements the Request Processor: the single
// component every client-facing operation passes through on its way to
// a plugin. Of its own it holds only the device lock key and the subkey
// salt; everything else lives in a sibling package. The plugin registry
// and the bookkeeping store are injected as collaborators, while the key
// cache, the pending-request table, the interleave guard and the worker
// pool are created fresh by New.
package processor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/interleave"
	"github.com/jolla/secretsbrokerd/internal/keycache"
	"github.com/jolla/secretsbrokerd/internal/memguard"
	"github.com/jolla/secretsbrokerd/internal/pending"
	"github.com/jolla/secretsbrokerd/internal/plugin"
	"github.com/jolla/secretsbrokerd/internal/workerpool"
)

// Config is what New needs to build a Processor. Salt is the
// process-wide salt mixed into every per-collection subkey derivation;
// it is generated once at daemon startup and persisted in the
// bookkeeping database's meta table by the caller of New, not by the
// processor itself.
type Config struct {
	Registry *plugin.Registry
	Bookkeeping *bookkeeping.DB
	Perms AppPermissions
	Log *logrus.Logger
	Salt []byte
	MaxConcurrentOps int64
}

// Processor is the Request Processor. Every exported method here is an
// operation a transport can call; each runs to completion on its own
// goroutine (the caller's), using the worker pool for plugin I/O and the
// interleave guard to serialize mutations per collection. Suspension on
// user input is a blocking channel receive bridged through the pending
// table rather than a literal single-threaded state machine, but the
// externally observable semantics are the same: only one mutation per
// collection in flight at a time.
type Processor struct {
	registry *plugin.Registry
	bk *bookkeeping.DB
	pool *workerpool.Pool
	keys *keycache.Cache
	pendingT *pending.Table
	guard *interleave.Guard
	perms AppPermissions
	log *logrus.Logger

	salt []byte

	mu sync.Mutex
	deviceLockKey *memguard.Key
}

// New builds a Processor from its collaborators, creating the pool, key
// cache, pending table and interleave guard fresh.
func New(cfg Config) *Processor {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	return &Processor{
		registry: cfg.Registry,
		bk: cfg.Bookkeeping,
		pool: workerpool.New(cfg.MaxConcurrentOps),
		keys: keycache.New(),
		pendingT: pending.New(),
		guard: interleave.New(),
		perms: cfg.Perms,
		log: log,
		salt: cfg.Salt,
	}
}

// resolveCaller computes the caller identity used throughout the
// validation preamble. Every collection and secret operation resolves
// this, not only mutating ones.
func (p *Processor) resolveCaller(callerPID int) CallerIdentity {
	return CallerIdentity{
		ApplicationID: p.perms.ApplicationID(callerPID),
		IsPlatform: p.perms.IsPlatformApplication(callerPID),
	}
}

// checkAccessControl enforces a collection's access_control_mode against
// the resolved caller (step 4). System is a placeholder for a
// system-level access-control collaborator that does not exist yet, so
// it always fails rather than admitting a permission level nothing
// implements.
func checkAccessControl(mode bookkeeping.AccessControlMode, ownerApplicationID string, caller CallerIdentity) error {
	switch mode {
	case bookkeeping.NoAccessControl:
		return nil
	case bookkeeping.System:
		return brokererr.New(brokererr.OperationNotSupportedError, "system access control mode is not yet implemented")
	default: // OwnerOnly
		if caller.IsPlatform || caller.ApplicationID == ownerApplicationID {
			return nil
		}
		return brokererr.New(brokererr.PermissionsError, "collection is owned by a different application")
	}
}

// validateCollectionName rejects the empty string and the reserved
// standalone-secrets pseudo-collection name.
func validateCollectionName(name string) error {
	if name == "" {
		return brokererr.New(brokererr.InvalidCollectionError, "collection name must not be empty")
	}
	if name == bookkeeping.ReservedStandaloneCollection {
		return brokererr.New(brokererr.InvalidCollectionError, "%q is a reserved collection name", name)
	}
	return nil
}

// validateSecretName rejects the empty string.
func validateSecretName(name string) error {
	if name == "" {
		return brokererr.New(brokererr.InvalidSecretError, "secret name must not be empty")
	}
	return nil
}

// setDeviceLockKey installs the device lock key, replacing and
// releasing any previous one. Called by provide_lock_code(database) and
// by the master rekey sweep once it has committed a new device lock key.
func (p *Processor) setDeviceLockKey(key []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deviceLockKey != nil {
		p.deviceLockKey.Release()
	}
	p.deviceLockKey = memguard.NewKey(key)
}

// clearDeviceLockKey forgets the device lock key (forget_lock_code) and
// evicts every device-lock-derived key from the cache, since they are
// all derived from it.
func (p *Processor) clearDeviceLockKey() {
	p.mu.Lock()
	if p.deviceLockKey != nil {
		p.deviceLockKey.Release()
		p.deviceLockKey = nil
	}
	p.mu.Unlock()
	p.keys.EvictAll()
}

// deviceLockKeyBytes returns a defensive copy of the current device lock
// key, or SecretsDaemonLockedError if none is installed.
func (p *Processor) deviceLockKeyBytes() ([]byte, *brokererr.Error) {
	p.mu.Lock()
	k := p.deviceLockKey
	p.mu.Unlock()
	if k == nil {
		return nil, brokererr.New(brokererr.SecretsDaemonLockedError, "device lock key is not available")
	}
	b := k.Bytes()
	if b == nil {
		return nil, brokererr.New(brokererr.SecretsDaemonLockedError, "device lock key is not available")
	}
	return b, nil
}

// collectionKey derives the per-collection (or per-standalone-secret) key
// from a master key (every call site passes the device lock key) and the
// given name, so that no two collections ever share
// literal key bytes even when both are device-locked.
func (p *Processor) collectionKey(name string, masterKey []byte) []byte {
	sub, err := crypto.DeriveSubkey(masterKey, p.salt, name)
	if err != nil {
		// HKDF only fails if asked for an absurd output length; keyLen
		// is fixed and small, so this is unreachable in practice.
		p.log.WithError(err).Error("deriving collection subkey")
		return masterKey
	}
	return sub
}

// runPlugin submits job to the worker pool and blocks for its outcome,
// translating a pool-level error (e.g. context canceled while queued)
// into a brokererr.Error ("dispatch to worker pool" is always a
// suspension point; in Go it is an ordinary blocking channel receive).
func (p *Processor) runPlugin(ctx context.Context, job workerpool.Job) (any, *brokererr.Error) {
	out := <-p.pool.Submit(ctx, job)
	if out.Err != nil {
		if be, ok := out.Err.(*brokererr.Error); ok {
			return nil, be
		}
		return nil, brokererr.New(brokererr.UnknownError, "%v", out.Err)
	}
	return out.Value, nil
}

func wrapPluginError(err error) *brokererr.Error {
	if be, ok := err.(*brokererr.Error); ok {
		return be
	}
	return brokererr.New(brokererr.UnknownError, "plugin operation failed: %v", err)
}
