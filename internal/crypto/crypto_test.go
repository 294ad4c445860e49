package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyFromCode_Deterministic(t *testing.T) {
	code := []byte("hunter2")
	salt := []byte("saltsaltsaltsaltsaltsaltsaltsalt")

	k1 := DeriveKeyFromCode(code, salt)
	k2 := DeriveKeyFromCode(code, salt)

	if !bytes.Equal(k1, k2) {
		t.Fatal("same inputs should produce same key")
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k1))
	}
}

func TestDeriveKeyFromCode_DifferentCode(t *testing.T) {
	salt := []byte("saltsaltsaltsaltsaltsaltsaltsalt")

	k1 := DeriveKeyFromCode([]byte("code1"), salt)
	k2 := DeriveKeyFromCode([]byte("code2"), salt)

	if bytes.Equal(k1, k2) {
		t.Fatal("different codes should produce different keys")
	}
}

func TestDeriveKeyFromCode_DifferentSalt(t *testing.T) {
	code := []byte("hunter2")

	k1 := DeriveKeyFromCode(code, []byte("saltsaltsaltsaltsaltsaltsaltsalt"))
	k2 := DeriveKeyFromCode(code, []byte("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))

	if bytes.Equal(k1, k2) {
		t.Fatal("different salts should produce different keys")
	}
}

func TestGenerateSalt_Length(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	if len(salt) != 32 {
		t.Fatalf("expected 32-byte salt, got %d", len(salt))
	}
}

func TestGenerateSalt_Unique(t *testing.T) {
	s1, _ := GenerateSalt()
	s2, _ := GenerateSalt()
	if bytes.Equal(s1, s2) {
		t.Fatal("two generated salts should differ")
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "test-key-32-bytes-long-padding!!")
	plaintext := []byte("hello, secret")

	encrypted, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	decrypted, err := Decrypt(key, encrypted)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestEncrypt_DifferentNonces(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "test-key-32-bytes-long-padding!!")
	plaintext := []byte("same content")

	e1, _ := Encrypt(key, plaintext)
	e2, _ := Encrypt(key, plaintext)

	if bytes.Equal(e1, e2) {
		t.Fatal("two encryptions of same plaintext should differ (random nonce)")
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "test-key-32-bytes-long-padding!!")

	encrypted, _ := Encrypt(key, []byte("secret"))
	encrypted[len(encrypted)-1] ^= 0xff // flip last byte

	_, err := Decrypt(key, encrypted)
	if err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	copy(key1, "key-one-32-bytes-long-padding!!!")
	copy(key2, "key-two-32-bytes-long-padding!!!")

	encrypted, _ := Encrypt(key1, []byte("secret"))

	_, err := Decrypt(key2, encrypted)
	if err == nil {
		t.Fatal("expected error for wrong key")
	}
}

func TestEncryptDecryptBase64_Roundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "test-key-32-bytes-long-padding!!")
	plaintext := []byte("base64 test value")

	encoded, err := EncryptToBase64(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	decrypted, err := DecryptFromBase64(key, encoded)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestDeriveSubkey_DifferentCategories(t *testing.T) {
	masterKey := make([]byte, 32)
	copy(masterKey, "master-key-32-bytes-long-padding")
	salt := []byte("test-salt-16bytes")

	k1, err := DeriveSubkey(masterKey, salt, "collection-a")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveSubkey(masterKey, salt, "collection-b")
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(k1, k2) {
		t.Fatal("different categories should produce different subkeys")
	}
}

func TestDeriveSubkey_Deterministic(t *testing.T) {
	masterKey := make([]byte, 32)
	copy(masterKey, "master-key-32-bytes-long-padding")
	salt := []byte("test-salt-16bytes")

	k1, _ := DeriveSubkey(masterKey, salt, "collection-a")
	k2, _ := DeriveSubkey(masterKey, salt, "collection-a")

	if !bytes.Equal(k1, k2) {
		t.Fatal("same inputs should produce same subkey")
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32-byte subkey, got %d", len(k1))
	}
}
