package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// MailboxCursor returns the stored (uidvalidity, last_seen_uid) for a
// mailbox, or ok=false if no row exists yet.
func (s *Store) MailboxCursor(accountID int64, name string) (uidvalidity uint32, lastSeenUID uint32, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT uidvalidity, last_seen_uid FROM mailboxes
		 WHERE account_id = ? AND name = ?
	`, accountID, name)
	if err := row.Scan(&uidvalidity, &lastSeenUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("load mailbox cursor: %w", err)
	}
	return uidvalidity, lastSeenUID, true, nil
}

// UpsertMailboxCursor sets the mailbox row to the given uidvalidity and
// last_seen_uid, replacing any previous cursor. Used on first SELECT and on
// a UIDVALIDITY change, where last_seen_uid resets to 0.
func (s *Store) UpsertMailboxCursor(accountID int64, name string, uidvalidity, lastSeenUID uint32) error {
	now := utcNowISO()
	_, err := s.db.Exec(`
		INSERT INTO mailboxes(account_id, name, uidvalidity, last_seen_uid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, name) DO UPDATE SET
		  uidvalidity = excluded.uidvalidity,
		  last_seen_uid = excluded.last_seen_uid,
		  updated_at = excluded.updated_at
	`, accountID, name, uidvalidity, lastSeenUID, now, now)
	if err != nil {
		return fmt.Errorf("upsert mailbox cursor: %w", err)
	}
	return nil
}

// AdvanceLastSeenUID moves the cursor forward after a successful drain. The
// caller is responsible for passing max(prev, newly seen) so the cursor
// stays monotonic.
func (s *Store) AdvanceLastSeenUID(accountID int64, name string, lastSeenUID uint32) error {
	_, err := s.db.Exec(`
		UPDATE mailboxes SET last_seen_uid = ?, updated_at = ?
		 WHERE account_id = ? AND name = ?
	`, lastSeenUID, utcNowISO(), accountID, name)
	if err != nil {
		return fmt.Errorf("advance last_seen_uid: %w", err)
	}
	return nil
}
