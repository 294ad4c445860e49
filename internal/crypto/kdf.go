package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime = 3
	argonMemory = 64 * 1024 // 64 MB
	argonThreads = 1 // sequential: deterministic performance across machines
	keyLen = 32 // 256-bit
	saltLen = 32
)

// DeriveKeyFromCode derives a 256-bit key from a passphrase/lock code and
// salt using Argon2id. This is the encryption plugin's
// derive_key_from_code(code, salt) operation.
func DeriveKeyFromCode(code, salt []byte) []byte {
	key := argon2.IDKey(code, salt, argonTime, argonMemory, argonThreads, keyLen)
	return key
}

// GenerateSalt returns 32 bytes of cryptographically secure random data,
// used as the process-wide salt supplied to key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// KeyLen is the byte length of a derived key.
const KeyLen = keyLen
