package secretbox

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestLoadMasterKey_Base64(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	key, err := LoadMasterKey(encoded)
	if err != nil {
		t.Fatalf("load master key: %v", err)
	}
	if !bytes.Equal(key, raw) {
		t.Errorf("unexpected key bytes")
	}
}

func TestLoadMasterKey_Hex(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 2)
	}
	encoded := hex.EncodeToString(raw)

	key, err := LoadMasterKey(encoded)
	if err != nil {
		t.Fatalf("load master key: %v", err)
	}
	if !bytes.Equal(key, raw) {
		t.Errorf("unexpected key bytes")
	}
}

func TestLoadMasterKey_WrongLength(t *testing.T) {
	t.Parallel()

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := LoadMasterKey(short); err == nil {
		t.Errorf("expected error for short key")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x42}, 32)
	plaintext := []byte("refresh-token-value")
	aad := []byte("oauth_refresh_token")

	envelope, err := Encrypt(key, plaintext, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(envelope, plaintext) {
		t.Errorf("envelope must not contain plaintext")
	}

	got, err := Decrypt(key, envelope, aad)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("got %q, want %q", got, plaintext)
	}
}

func TestDecrypt_WrongAAD(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x11}, 32)
	envelope, err := Encrypt(key, []byte("secret"), []byte("correct-aad"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(key, envelope, []byte("wrong-aad")); err == nil {
		t.Errorf("expected authentication failure with mismatched aad")
	}
}

func TestDecrypt_TooShort(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x01}, 32)
	if _, err := Decrypt(key, []byte("x"), nil); err == nil {
		t.Errorf("expected error for short ciphertext")
	}
}
