package bookkeeping

import (
	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/crypto"
)

// verificationPlaintext is encrypted under the bookkeeping lock key and
// stored alongside it; unlock succeeds only if decryption reproduces it.
const verificationPlaintext = "secretsbrokerd-bookkeeping-verification"

// forgottenSentinel is the 64-byte all-ones key the database is sealed
// under after forget_lock_code.
var forgottenSentinel = func() []byte {
	b := make([]byte, 64)
	for i := range b {
		b[i] = 0xff
	}
	return b
}()

// IsLocked reports whether the database requires provide_lock_code
// before secrets/collections rows may be read or written.
func (d *DB) IsLocked() (bool, error) {
	v, err := d.GetMeta("locked")
	if err != nil {
		return true, err
	}
	return v != "0", nil
}

// Unlock verifies key against the stored verification ciphertext and, on
// success, marks the database unlocked.
func (d *DB) Unlock(key []byte) error {
	verifyCipher, err := d.GetMeta("verification")
	if err != nil {
		return err
	}
	if verifyCipher == "" {
		// First-ever unlock: adopt this key as the lock key.
		cipher, err := crypto.EncryptToBase64(key, []byte(verificationPlaintext))
		if err != nil {
			return err
		}
		if err := d.SetMeta("verification", cipher); err != nil {
			return err
		}
		if err := d.MarkInitialised(); err != nil {
			return err
		}
		return d.SetMeta("locked", "0")
	}

	plaintext, err := crypto.DecryptFromBase64(key, verifyCipher)
	if err != nil || string(plaintext) != verificationPlaintext {
		return brokererr.New(brokererr.SecretsDaemonLockedError, "incorrect bookkeeping lock key")
	}
	return d.SetMeta("locked", "0")
}

// Lock marks the database locked without touching stored key material.
func (d *DB) Lock() error {
	return d.SetMeta("locked", "1")
}

// ForgetLockCode re-initializes key material with the all-ones sentinel,
// sealing the database until a subsequent provide_lock_code.
func (d *DB) ForgetLockCode() error {
	cipher, err := crypto.EncryptToBase64(forgottenSentinel, []byte(verificationPlaintext))
	if err != nil {
		return err
	}
	if err := d.SetMeta("verification", cipher); err != nil {
		return err
	}
	return d.SetMeta("locked", "1")
}

// Reencrypt re-encrypts the stored verification ciphertext under newKey
// after authenticating oldKey: the same "rekey pages under a new key"
// step an EncryptedStorage plugin performs on its own pages.
func (d *DB) Reencrypt(oldKey, newKey []byte) error {
	verifyCipher, err := d.GetMeta("verification")
	if err != nil {
		return err
	}
	plaintext, err := crypto.DecryptFromBase64(oldKey, verifyCipher)
	if err != nil || string(plaintext) != verificationPlaintext {
		return brokererr.New(brokererr.SecretsDaemonLockedError, "incorrect old bookkeeping lock key")
	}

	newCipher, err := crypto.EncryptToBase64(newKey, []byte(verificationPlaintext))
	if err != nil {
		return err
	}
	return d.SetMeta("verification", newCipher)
}
