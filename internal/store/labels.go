package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// LabelID returns the cached Gmail label id for name, or ok=false on a
// cache miss.
func (s *Store) LabelID(accountID int64, name string) (labelID string, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT label_id FROM labels_cache WHERE account_id = ? AND label_name = ?
	`, accountID, name)
	if err := row.Scan(&labelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load label cache %s: %w", name, err)
	}
	return labelID, true, nil
}

// PutLabelID caches the resolved id for a label name, created via the
// Gmail API the first time it is needed.
func (s *Store) PutLabelID(accountID int64, name, labelID string) error {
	_, err := s.db.Exec(`
		INSERT INTO labels_cache(account_id, label_name, label_id)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, label_name) DO UPDATE SET label_id = excluded.label_id
	`, accountID, name, labelID)
	if err != nil {
		return fmt.Errorf("put label cache %s: %w", name, err)
	}
	return nil
}
