package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetSecret returns the ciphertext stored under key, or ok=false if absent.
func (s *Store) GetSecret(key string) (ciphertext []byte, ok bool, err error) {
	row := s.db.QueryRow(`SELECT ciphertext FROM secrets WHERE key = ?`, key)
	if err := row.Scan(&ciphertext); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load secret %s: %w", key, err)
	}
	return ciphertext, true, nil
}

// PutSecret overwrites the row for key with a fresh created_at, which the
// credential broker uses to detect rotation performed outside this
// process: if created_at advances without the broker having written it,
// the prior refresh token is treated as stale.
func (s *Store) PutSecret(key string, ciphertext []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets(key, ciphertext, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		  ciphertext = excluded.ciphertext,
		  created_at = excluded.created_at
	`, key, ciphertext, utcNowISO())
	if err != nil {
		return fmt.Errorf("put secret %s: %w", key, err)
	}
	return nil
}

// SecretCreatedAt returns the created_at of the row under key, or ok=false
// if absent.
func (s *Store) SecretCreatedAt(key string) (createdAt string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT created_at FROM secrets WHERE key = ?`, key)
	if err := row.Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load secret created_at %s: %w", key, err)
	}
	return createdAt, true, nil
}
