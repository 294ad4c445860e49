//go:build !linux && !darwin

package memguard

func lockMemory(b []byte)   {}
func unlockMemory(b []byte) {}

// DisableCoreDumps is a no-op on platforms without RLIMIT_CORE.
func DisableCoreDumps() {}
