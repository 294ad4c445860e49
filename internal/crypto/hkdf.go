package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey derives a 256-bit subkey from masterKey for a category
// (a collection or standalone secret name). Uses HKDF-SHA256 with the
// process-wide salt and category name as info.
func DeriveSubkey(masterKey, salt []byte, category string) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, salt, []byte(category))
	subkey := make([]byte, keyLen)
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, fmt.Errorf("deriving subkey for %s: %w", category, err)
	}
	return subkey, nil
}
