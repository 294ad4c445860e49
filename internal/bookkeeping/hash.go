package bookkeeping

import (
	"crypto/sha256"
	"encoding/hex"
)

// ReservedStandaloneCollection is the synthetic collection name under
// which standalone secrets are addressed internally.
const ReservedStandaloneCollection = "standalone"

// HashSecretName computes a stable hashed secret name: a
// collision-resistant hash of (collection_name, secret_name), stable
// across restarts. SHA-256 satisfies both properties and needs no
// dependency beyond the standard library.
func HashSecretName(collectionName, secretName string) string {
	h := sha256.New()
	h.Write([]byte(collectionName))
	h.Write([]byte{0}) // separator: prevents ("ab","c") colliding with ("a","bc")
	h.Write([]byte(secretName))
	return hex.EncodeToString(h.Sum(nil))
}
