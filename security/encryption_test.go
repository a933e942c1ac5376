package security

import (
	"bytes"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	plaintext := []byte(`{"RefreshToken":{"uid.utid-login.microsoftonline.com-refreshtoken-client-":{"secret":"rt-secret"}}}`)

	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == string(plaintext) {
		t.Error("Encrypt() returned plaintext unchanged")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor(nil) error = %v", err)
	}
	if enc.IsEnabled() {
		t.Error("IsEnabled() = true for nil key")
	}

	out, err := enc.Encrypt([]byte("passthrough"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if out != "passthrough" {
		t.Errorf("disabled Encrypt() = %q, want passthrough", out)
	}
}

func TestEncryptor_InvalidKeySize(t *testing.T) {
	if _, err := NewEncryptor([]byte("too-short")); err == nil {
		t.Error("NewEncryptor() with 9-byte key should return error")
	}
}

func TestEncryptor_TamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	ciphertext, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flip a character in the base64 payload
	tampered := []byte(ciphertext)
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}

	if _, err := enc.Decrypt(string(tampered)); err == nil {
		t.Error("Decrypt() of tampered ciphertext should return error")
	}
}

func TestKeyFromPassphrase(t *testing.T) {
	salt := []byte("stable-salt")

	key1, err := KeyFromPassphrase("hunter2", salt)
	if err != nil {
		t.Fatalf("KeyFromPassphrase() error = %v", err)
	}
	if len(key1) != 32 {
		t.Fatalf("derived key length = %d, want 32", len(key1))
	}

	// Deterministic for same inputs
	key2, _ := KeyFromPassphrase("hunter2", salt)
	if !bytes.Equal(key1, key2) {
		t.Error("KeyFromPassphrase() not deterministic for same passphrase+salt")
	}

	// Different salt produces a different key
	key3, _ := KeyFromPassphrase("hunter2", []byte("other-salt"))
	if bytes.Equal(key1, key3) {
		t.Error("KeyFromPassphrase() ignored salt")
	}

	if _, err := KeyFromPassphrase("", salt); err == nil {
		t.Error("KeyFromPassphrase() with empty passphrase should return error")
	}
	if _, err := KeyFromPassphrase("hunter2", nil); err == nil {
		t.Error("KeyFromPassphrase() with empty salt should return error")
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()

	encoded := KeyToBase64(key)
	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(key, decoded) {
		t.Error("base64 key round trip mismatch")
	}

	if _, err := KeyFromBase64("not-base64!!!"); err == nil {
		t.Error("KeyFromBase64() with invalid input should return error")
	}
}
