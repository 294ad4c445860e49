package processor

import (
	"github.com/jolla/secretsbrokerd/internal/bookkeeping"
)

// CallerIdentity is the resolved application identity for a request,
// computed by the validation preamble step 2.
type CallerIdentity struct {
	ApplicationID string
	IsPlatform bool
}

// AppPermissions resolves a caller pid to an application identity and
// answers whether it is the privileged platform application. Every
// collection and secret operation resolves this, not only the mutating
// ones.
type AppPermissions interface {
	IsPlatformApplication(callerPID int) bool
	PlatformApplicationID() string
	ApplicationID(callerPID int) string
}

// LockTarget names what a lock-lifecycle operation addresses.
type LockTarget int

const (
	TargetBookkeepingDatabase LockTarget = iota
	TargetPlugin
)

// CreateCollectionParams captures a create_device_lock_collection or
// create_custom_lock_collection call (operation table).
type CreateCollectionParams struct {
	CollectionName string
	StoragePlugin string
	EncryptionPlugin string
	AuthenticationPlugin string // only used for custom-lock creation
	UnlockSemantic bookkeeping.UnlockSemantic
	CustomLockTimeoutMs int64
	AccessControlMode bookkeeping.AccessControlMode
	InteractionServiceAddress string
}

// SetSecretParams captures set_collection_secret /
// set_standalone_*_secret calls.
type SetSecretParams struct {
	CollectionName string
	SecretName string
	Data []byte
	Filter map[string]string
	StoragePlugin string // standalone only
	EncryptionPlugin string // standalone only
	AuthenticationPlugin string // standalone only
	UnlockSemantic bookkeeping.UnlockSemantic
	CustomLockTimeoutMs int64
	AccessControlMode bookkeeping.AccessControlMode
	Overwrite bool // false means reject replacing an existing secret owned by a different application (platform callers excepted); true skips that owner check
}

// FindSecretsParams captures find_collection_secrets.
type FindSecretsParams struct {
	CollectionName string
	Filter map[string]string
	Operator int // plugin.FilterOperator, untyped here to avoid import cycle noise
}
