package processor

import (
	"context"
	"time"

	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/memguard"
	"github.com/jolla/secretsbrokerd/internal/pending"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

// keyRequest is the information resolveKey needs to either derive a
// device-lock key on the spot or prompt for and cache a custom-lock key.
// StoragePlugin and LockCollectionName are set only when the caller is
// addressing an already-created collection (never on a create path,
// where the plugin has no lock state yet to ask about).
type keyRequest struct {
	CacheKey string
	SubkeyName string
	UsesDeviceLockKey bool
	AuthenticationPlugin string
	EncryptionPlugin string
	StoragePlugin string
	LockCollectionName string
	UnlockSemantic bookkeeping.UnlockSemantic
	CustomLockTimeoutMs int64
	Interaction plugin.InteractionParameters
}

// resolveKey is the shared key-material acquisition step every mutating
// or reading operation calls before dispatching to a plugin. Device-lock
// keys are derived deterministically and never cached (relock on device
// lock is just clearDeviceLockKey evicting everything); custom-lock keys
// are cached under CacheKey once obtained and, for NEED_USER_INPUT
// collections, require suspending on the authentication plugin first.
//
// For a fused EncryptedStorage plugin, the plugin manages its own
// per-collection key internally once unlocked, so the first step is
// always to ask is_collection_locked: unlocked means no key material is
// needed at all (the plugin already holds its own), and only a locked
// collection falls through to the ordinary derive-or-prompt steps below
// to reauthenticate it.
func (p *Processor) resolveKey(ctx context.Context, callerPID int, requestID string, kr keyRequest) ([]byte, *brokererr.Error) {
	if es, ok := p.registry.EncryptedStorage(kr.StoragePlugin); ok && p.registry.IsFused(kr.StoragePlugin, kr.EncryptionPlugin) {
		locked, err := es.IsCollectionLocked(ctx, kr.LockCollectionName)
		if err != nil {
			return nil, wrapPluginError(err)
		}
		if !locked {
			return nil, nil
		}
	}

	if kr.UsesDeviceLockKey {
		base, err := p.deviceLockKeyBytes()
		if err != nil {
			return nil, err
		}
		defer memguard.Zero(base)
		return p.collectionKey(kr.SubkeyName, base), nil
	}

	if cached, ok := p.keys.Get(kr.CacheKey); ok {
		return cached, nil
	}

	authPlugin, ok := p.registry.Authentication(kr.AuthenticationPlugin)
	if !ok {
		return nil, brokererr.New(brokererr.InvalidExtensionPluginError, "no such authentication plugin: %s", kr.AuthenticationPlugin)
	}

	code, err := p.awaitUserInput(ctx, callerPID, requestID, kr.CacheKey, authPlugin, kr.Interaction)
	if err != nil {
		return nil, err
	}
	defer memguard.Zero(code)

	key, derr := p.deriveKeyFromCode(kr.EncryptionPlugin, code)
	if derr != nil {
		return nil, derr
	}

	switch kr.UnlockSemantic {
	case bookkeeping.CustomLockKeepUnlocked:
		p.keys.Put(kr.CacheKey, key, 0, nil)
	case bookkeeping.CustomLockTimeoutRelock:
		timeout := time.Duration(kr.CustomLockTimeoutMs) * time.Millisecond
		p.keys.Put(kr.CacheKey, key, timeout, func(name string) {
			p.log.WithField("collection", name).Debug("relock timer fired; evicting cached key")
		})
	}
	return key, nil
}

// awaitUserInput suspends the calling goroutine on the authentication
// plugin's asynchronous prompt, bridging it through the pending table so
// that a stray or duplicate completion event is a safe no-op.
func (p *Processor) awaitUserInput(ctx context.Context, callerPID int, requestID, cacheKey string, authPlugin plugin.Authentication, params plugin.InteractionParameters) ([]byte, *brokererr.Error) {
	resultCh, err := authPlugin.BeginUserInputInteraction(ctx, callerPID, requestID, params)
	if err != nil {
		return nil, brokererr.New(brokererr.OperationRequiresUserInteraction, "starting authentication prompt: %v", err)
	}

	done := make(chan pending.InteractionOutcome, 1)
	p.pendingT.Put(&pending.Request{
		RequestID: requestID,
		CallerPID: callerPID,
		Kind: "user-input",
		CollectionName: cacheKey,
		Continuation: func(o pending.InteractionOutcome) { done <- o },
	})

	go func() {
		res, ok := <-resultCh
		if !ok {
			return
		}
		if req := p.pendingT.Take(requestID); req != nil {
			req.Continuation(pending.InteractionOutcome{UserInput: res.UserInput, Canceled: res.Canceled, Err: res.Err})
		}
	}()

	var outcome pending.InteractionOutcome
	select {
	case outcome = <-done:
	case <-ctx.Done():
		p.pendingT.Take(requestID)
		return nil, brokererr.New(brokererr.UnknownError, "context canceled awaiting user input")
	}

	if outcome.Err != nil {
		return nil, brokererr.New(brokererr.UnknownError, "authentication interaction failed: %v", outcome.Err)
	}
	if outcome.Canceled {
		return nil, brokererr.New(brokererr.InteractionViewUserCanceledError, "user canceled the authentication prompt")
	}
	return outcome.UserInput, nil
}

// deriveKeyFromCode resolves encPluginName to either a split Encryption
// plugin or a fused EncryptedStorage plugin (both expose
// DeriveKeyFromCode) and derives the collection key from the user's
// code and the process-wide salt.
func (p *Processor) deriveKeyFromCode(encPluginName string, code []byte) ([]byte, *brokererr.Error) {
	if enc, ok := p.registry.Encryption(encPluginName); ok {
		key, err := enc.DeriveKeyFromCode(code, p.salt)
		if err != nil {
			return nil, brokererr.New(brokererr.UnknownError, "deriving key from code: %v", err)
		}
		return key, nil
	}
	if es, ok := p.registry.EncryptedStorage(encPluginName); ok {
		key, err := es.DeriveKeyFromCode(code, p.salt)
		if err != nil {
			return nil, brokererr.New(brokererr.UnknownError, "deriving key from code: %v", err)
		}
		return key, nil
	}
	return nil, brokererr.New(brokererr.InvalidExtensionPluginError, "no such encryption plugin: %s", encPluginName)
}

// secretCacheKey names a standalone secret's key-cache entry distinctly
// from any collection's, since both namespaces share the keycache.Cache.
func secretCacheKey(hashedName string) string {
	return "secret:" + hashedName
}

// collectionCacheKey names a collection's key-cache entry.
func collectionCacheKey(name string) string {
	return "collection:" + name
}
