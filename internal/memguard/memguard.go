// Package memguard holds the handling of in-memory key material: locking
// pages against swap, zeroizing on release, and disabling core dumps.
// Every cached unlock key, for every collection and standalone secret,
// goes through these same helpers.
package memguard

// Zero overwrites a byte slice with zeroes in place. Safe to call on nil
// or empty slices.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Key is a zeroizing holder for secret key material. It is never copied
// casually: callers obtain a defensive copy via Bytes and are expected to
// zero it themselves when done, or call Release to destroy the original.
type Key struct {
	b []byte
}

// NewKey copies src into a new guarded Key, locking its backing memory.
func NewKey(src []byte) *Key {
	k := &Key{b: make([]byte, len(src))}
	copy(k.b, src)
	lockMemory(k.b)
	return k
}

// Bytes returns a defensive copy of the key, or nil if the key has been
// released.
func (k *Key) Bytes() []byte {
	if k == nil || k.b == nil {
		return nil
	}
	cp := make([]byte, len(k.b))
	copy(cp, k.b)
	return cp
}

// Release zeroizes and unlocks the guarded memory. Idempotent.
func (k *Key) Release() {
	if k == nil || k.b == nil {
		return
	}
	unlockMemory(k.b)
	Zero(k.b)
	k.b = nil
}
