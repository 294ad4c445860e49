// Package plugin defines the capability interfaces a plugin may
// implement and the read-only registry the Request Processor resolves
// plugin names against. Each capability is a narrow Go interface, and
// plugins are composed from capability objects rather than matched on
// a type tag.
package plugin

import "context"

// Capability identifies which of the four plugin variants a plugin
// implements. A plugin may additionally expose CryptoStorage.
type Capability string

const (
	CapStorage Capability = "Storage"
	CapEncryption Capability = "Encryption"
	CapEncryptedStorage Capability = "EncryptedStorage"
	CapAuthentication Capability = "Authentication"
	CapCryptoStorage Capability = "CryptoStorage"
)

// Info describes an installed plugin for get_plugin_info: its name
// paired with its reported version, rather than a bare name.
type Info struct {
	Name       string     `json:"name"`
	Version    string     `json:"version"`
	Capability Capability `json:"capability"`
}

// Secret is the opaque payload + filter-map pair a storage plugin holds.
type Secret struct {
	CollectionName string
	HashedName string
	Data []byte
	Filter map[string]string
}

// FilterOperator selects how a secret's filter map is matched against a
// query filter in find_collection_secrets.
type FilterOperator int

const (
	FilterOr FilterOperator = iota
	FilterAnd
)

// Storage is the plugin contract for byte storage without its own
// encryption.
type Storage interface {
	Name() string
	Version() string

	CreateCollection(ctx context.Context, collectionName string) error
	RemoveCollection(ctx context.Context, collectionName string) error

	SetSecret(ctx context.Context, collectionName, hashedName string, secret Secret) error
	GetSecret(ctx context.Context, collectionName, hashedName string) (Secret, error)
	RemoveSecret(ctx context.Context, collectionName, hashedName string) error
	FindSecrets(ctx context.Context, collectionName string, filter map[string]string, op FilterOperator) ([]string, error)

	ReencryptSecrets(ctx context.Context, collectionName string, hashedNames []string, oldKey, newKey []byte, encryptionPluginName string) error
}

// Encryption is the plugin contract for key derivation and symmetric
// encrypt/decrypt.
type Encryption interface {
	Name() string
	Version() string

	DeriveKeyFromCode(code, salt []byte) ([]byte, error)
	Encrypt(plaintext, key []byte) ([]byte, error)
	Decrypt(ciphertext, key []byte) ([]byte, error)
}

// EncryptedStorage fuses Storage and Encryption behind a single plugin
// that manages its own per-collection lock state.
type EncryptedStorage interface {
	Name() string
	Version() string

	CreateCollection(ctx context.Context, collectionName string, key []byte) error
	RemoveCollection(ctx context.Context, collectionName string) error
	IsCollectionLocked(ctx context.Context, collectionName string) (bool, error)

	SetSecret(ctx context.Context, collectionName, hashedName string, secret Secret, key []byte) error
	UnlockCollectionAndStoreSecret(ctx context.Context, collectionName, hashedName string, secret Secret, key []byte) error
	UnlockCollectionAndReadSecret(ctx context.Context, collectionName, hashedName string, key []byte) (Secret, error)
	UnlockCollectionAndRemoveSecret(ctx context.Context, collectionName, hashedName string, key []byte) error
	UnlockAndRemoveSecret(ctx context.Context, collectionName, hashedName string, usesDeviceLock bool, key []byte) error
	UnlockAndFindSecrets(ctx context.Context, collectionName string, filter map[string]string, op FilterOperator, key []byte) ([]string, error)
	AccessSecret(ctx context.Context, collectionName, hashedName string, key []byte) (Secret, error)

	UnlockCollectionAndReencrypt(ctx context.Context, collectionName string, oldKey, newKey []byte, usesDeviceLock bool) error

	DeriveKeyFromCode(code, salt []byte) ([]byte, error)

	SetLockCode(ctx context.Context, old, new []byte) error
	Unlock(ctx context.Context, code []byte) error
	Lock(ctx context.Context) error
	SupportsLocking() bool
}

// InteractionParameters describes the prompt an authentication plugin
// must render for the user.
type InteractionParameters struct {
	ApplicationID string
	CollectionName string
	SecretName string
	Operation OperationKind
	InputType InputType
	EchoMode EchoMode
	PromptText string
	AuthenticationPluginName string
	InteractionServiceAddress string // carried through but never dereferenced by this transport
}

// OperationKind names the operation an interaction prompt is shown for.
type OperationKind int

const (
	OpCreateCollection OperationKind = iota
	OpStoreSecret
	OpReadSecret
	OpUnlockCollection
	OpDeleteSecret
	OpRequestUserData
	OpUnlockDatabase
	OpUnlockPlugin
	OpModifyLockDatabase
	OpModifyLockPlugin
)

// InputType is the kind of input the auth plugin should collect.
type InputType int

const (
	InputAlphaNumeric InputType = iota
	InputConfirmation
)

// EchoMode controls whether entered characters are displayed.
type EchoMode int

const (
	EchoNormal EchoMode = iota
	EchoPassword
	EchoNone
)

// InteractionResult is delivered asynchronously by an Authentication
// plugin once the user has responded.
type InteractionResult struct {
	UserInput []byte
	Canceled bool
	Err error
}

// Authentication is the plugin contract for UI-mediated user input and
// optional lock-code lifecycle.
type Authentication interface {
	Name() string
	Version() string

	AuthenticationTypes() uint32

	// BeginUserInputInteraction starts an asynchronous prompt. The result
	// is delivered later via the returned channel rather than a callback.
	BeginUserInputInteraction(ctx context.Context, callerPID int, requestID string, params InteractionParameters) (<-chan InteractionResult, error)

	SupportsLocking() bool
	Lock(ctx context.Context) error
	Unlock(ctx context.Context, code []byte) error
	SetLockCode(ctx context.Context, old, new []byte) error
}
