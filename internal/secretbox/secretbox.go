// Package secretbox encrypts values at rest in the secrets table: OAuth
// tokens and the source app password never touch the database in
// plaintext.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const keySize = chacha20poly1305.KeySize // 32

// LoadMasterKey decodes a master key supplied as base64 or hex text. The
// encoding is detected by trying base64 first and falling back to hex when
// the base64 reading fails or does not give 32 bytes, and the decoded key
// must be exactly 32 bytes.
func LoadMasterKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(key) != keySize {
		if hexKey, hexErr := hex.DecodeString(raw); hexErr == nil {
			key, err = hexKey, nil
		} else if err != nil {
			return nil, fmt.Errorf("master key must be base64 or hex encoded")
		}
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("master key must decode to %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under key, returning nonce||ciphertext. aad, if
// non-nil, is authenticated but not encrypted.
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, sealed...), nil
}

// Decrypt opens a value produced by Encrypt under the same key and aad.
func Decrypt(key, envelope, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(envelope) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := envelope[:aead.NonceSize()], envelope[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Sealer binds a master key to Encrypt/Decrypt with no AAD, satisfying the
// Sealer interface internal/credential and the secret-seeding helpers in
// internal/orchestrator depend on.
type Sealer struct {
	Key []byte
}

func (s Sealer) Seal(plaintext []byte) ([]byte, error) { return Encrypt(s.Key, plaintext, nil) }
func (s Sealer) Open(ciphertext []byte) ([]byte, error) { return Decrypt(s.Key, ciphertext, nil) }
