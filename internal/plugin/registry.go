package plugin

import (
	"sort"
	"sync"

	"github.com/jolla/secretsbrokerd/internal/brokererr"
)

// Registry is the read-only (after startup) mapping from plugin name to
// its capability object(s). A plugin may be registered under more than
// one capability, e.g. an EncryptedStorage plugin that is also an
// Authentication plugin.
type Registry struct {
	mu sync.RWMutex

	storage map[string]Storage
	encryption map[string]Encryption
	encryptedStorage map[string]EncryptedStorage
	authentication map[string]Authentication
}

// NewRegistry builds an empty registry. Plugins are registered at
// startup via the Register* methods and never removed afterward — the
// registry itself is immutable for the life of the daemon.
func NewRegistry() *Registry {
	return &Registry{
		storage: make(map[string]Storage),
		encryption: make(map[string]Encryption),
		encryptedStorage: make(map[string]EncryptedStorage),
		authentication: make(map[string]Authentication),
	}
}

func (r *Registry) RegisterStorage(p Storage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[p.Name()] = p
}

func (r *Registry) RegisterEncryption(p Encryption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encryption[p.Name()] = p
}

func (r *Registry) RegisterEncryptedStorage(p EncryptedStorage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encryptedStorage[p.Name()] = p
}

func (r *Registry) RegisterAuthentication(p Authentication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authentication[p.Name()] = p
}

func (r *Registry) Storage(name string) (Storage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.storage[name]
	return p, ok
}

func (r *Registry) Encryption(name string) (Encryption, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.encryption[name]
	return p, ok
}

func (r *Registry) EncryptedStorage(name string) (EncryptedStorage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.encryptedStorage[name]
	return p, ok
}

func (r *Registry) Authentication(name string) (Authentication, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.authentication[name]
	return p, ok
}

// IsFused reports whether storageName == encryptionName refers to a
// single EncryptedStorage plugin.
func (r *Registry) IsFused(storageName, encryptionName string) bool {
	if storageName != encryptionName {
		return false
	}
	_, ok := r.EncryptedStorage(storageName)
	return ok
}

// ValidatePluginNames checks that the storage/encryption pair named by a
// collection or secret resolves to either a fused EncryptedStorage
// plugin, or a distinct Storage+Encryption pair.
func (r *Registry) ValidatePluginNames(storageName, encryptionName string) error {
	if storageName == encryptionName {
		if _, ok := r.EncryptedStorage(storageName); !ok {
			return brokererr.New(brokererr.InvalidExtensionPluginError, "no such encrypted storage plugin exists: %s", storageName)
		}
		return nil
	}
	if _, ok := r.Storage(storageName); !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such storage plugin exists: %s", storageName)
	}
	if _, ok := r.Encryption(encryptionName); !ok {
		return brokererr.New(brokererr.InvalidExtensionPluginError, "no such encryption plugin exists: %s", encryptionName)
	}
	return nil
}

// GetPluginInfo lists installed plugins by capability, sorted by name
// for deterministic output.
func (r *Registry) GetPluginInfo() (storage, encryption, encryptedStorage, authentication []Info) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, p := range r.storage {
		storage = append(storage, Info{Name: name, Version: p.Version(), Capability: CapStorage})
	}
	for name, p := range r.encryption {
		encryption = append(encryption, Info{Name: name, Version: p.Version(), Capability: CapEncryption})
	}
	for name, p := range r.encryptedStorage {
		encryptedStorage = append(encryptedStorage, Info{Name: name, Version: p.Version(), Capability: CapEncryptedStorage})
	}
	for name, p := range r.authentication {
		authentication = append(authentication, Info{Name: name, Version: p.Version(), Capability: CapAuthentication})
	}

	sortInfo(storage)
	sortInfo(encryption)
	sortInfo(encryptedStorage)
	sortInfo(authentication)
	return
}

func sortInfo(infos []Info) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}
