// Package aesgcm implements the Encryption plugin capability: key
// derivation from a lock code plus symmetric encrypt/decrypt, backed by
// the Argon2id + AES-256-GCM primitives in internal/crypto, wrapped as
// a named, registrable plugin.
package aesgcm

import (
	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

const (
	Name = "org.sailfishos.secrets.encryption.aesgcm"
	Version = "1.0"
)

// Plugin implements plugin.Encryption.
type Plugin struct{}

// New returns a ready-to-register aesgcm encryption plugin.
func New() *Plugin { return &Plugin{} }

var _ plugin.Encryption = (*Plugin)(nil)

func (p *Plugin) Name() string { return Name }
func (p *Plugin) Version() string { return Version }

func (p *Plugin) DeriveKeyFromCode(code, salt []byte) ([]byte, error) {
	return crypto.DeriveKeyFromCode(code, salt), nil
}

func (p *Plugin) Encrypt(plaintext, key []byte) ([]byte, error) {
	return crypto.Encrypt(key, plaintext)
}

func (p *Plugin) Decrypt(ciphertext, key []byte) ([]byte, error) {
	return crypto.Decrypt(key, ciphertext)
}
