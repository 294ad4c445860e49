package aesgcm

import (
	"bytes"
	"testing"
)

func TestDeriveKeyFromCode_Deterministic(t *testing.T) {
	p := New()
	salt := []byte("saltsaltsaltsaltsaltsaltsaltsalt")

	k1, err := p.DeriveKeyFromCode([]byte("1234"), salt)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := p.DeriveKeyFromCode([]byte("1234"), salt)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(k1, k2) {
		t.Fatal("same code and salt should derive the same key")
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	p := New()
	key := make([]byte, 32)
	copy(key, "aesgcm-plugin-test-key-32-bytes!")
	plaintext := []byte("a stored secret value")

	ciphertext, err := p.Encrypt(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext should not equal plaintext")
	}

	decrypted, err := p.Decrypt(ciphertext, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestNameAndVersion(t *testing.T) {
	p := New()
	if p.Name() != Name {
		t.Fatalf("expected name %q, got %q", Name, p.Name())
	}
	if p.Version() != Version {
		t.Fatalf("expected version %q, got %q", Version, p.Version())
	}
}
