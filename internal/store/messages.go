package store

import (
	"database/sql"
	"fmt"
)

// InsertFetched inserts a newly-discovered message in state FETCHED. A
// conflict on (account_id, mailbox_name, uidvalidity, uid) is a no-op,
// making the watcher's persistence step idempotent.
func (s *Store) InsertFetched(m Message) error {
	now := utcNowISO()
	_, err := s.db.Exec(`
		INSERT INTO messages(
		  account_id, mailbox_name, uidvalidity, uid, message_id,
		  rfc822_sha256, imap_internaldate, imap_flags_json, state,
		  created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, mailbox_name, uidvalidity, uid) DO NOTHING
	`,
		m.AccountID, m.MailboxName, m.UIDValidity, m.UID, m.MessageID,
		m.RFC822SHA256, m.IMAPInternalDate, m.IMAPFlagsJSON, StateFetched,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert fetched message: %w", err)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var m Message
	err := rows.Scan(
		&m.ID, &m.AccountID, &m.MailboxName, &m.UIDValidity, &m.UID,
		&m.MessageID, &m.RFC822SHA256, &m.IMAPInternalDate, &m.IMAPFlagsJSON,
		&m.State, &m.AttemptCount, &m.NextAttemptAt, &m.LastError,
		&m.GmailMessageID, &m.GmailThreadID,
		&m.YahooDeletedAt, &m.YahooDeleteAttemptCount, &m.YahooDeleteNextAttemptAt, &m.YahooDeleteLastError,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

const messageColumns = `
	id, account_id, mailbox_name, uidvalidity, uid, message_id,
	rfc822_sha256, imap_internaldate, imap_flags_json,
	state, attempt_count, next_attempt_at, last_error,
	gmail_message_id, gmail_thread_id,
	yahoo_deleted_at, yahoo_delete_attempt_count, yahoo_delete_next_attempt_at, yahoo_delete_last_error,
	created_at, updated_at
`

// DueDeliveries returns up to limit rows eligible for a delivery attempt:
// rows with no schedule yet come first, then by next_attempt_at, then by
// creation order.
func (s *Store) DueDeliveries(limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+`
		  FROM messages
		 WHERE state IN ('FETCHED','FAILED_RETRY')
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY (next_attempt_at IS NULL) DESC, next_attempt_at ASC, created_at ASC
		 LIMIT ?
	`, utcNowISO(), limit)
	if err != nil {
		return nil, fmt.Errorf("select due deliveries: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due delivery: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DueDeletions returns up to limit INSERTED rows whose source copy has not
// yet been deleted and whose deletion backoff has elapsed.
func (s *Store) DueDeletions(limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+`
		  FROM messages
		 WHERE state = 'INSERTED'
		   AND yahoo_deleted_at IS NULL
		   AND (yahoo_delete_next_attempt_at IS NULL OR yahoo_delete_next_attempt_at <= ?)
		 ORDER BY (yahoo_delete_next_attempt_at IS NULL) DESC, yahoo_delete_next_attempt_at ASC, created_at ASC
		 LIMIT ?
	`, utcNowISO(), limit)
	if err != nil {
		return nil, fmt.Errorf("select due deletions: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due deletion: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AcquireInsertLease is the sole mechanism preventing concurrent delivery
// of the same message: a conditional UPDATE that only one concurrent
// caller can win, relying on the database to serialize single-row
// UPDATEs.
func (s *Store) AcquireInsertLease(id int64) (bool, error) {
	now := utcNowISO()
	res, err := s.db.Exec(`
		UPDATE messages
		   SET state = 'INSERTING', updated_at = ?
		 WHERE id = ?
		   AND state IN ('FETCHED','FAILED_RETRY')
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	`, now, id, now)
	if err != nil {
		return false, fmt.Errorf("acquire insert lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire insert lease rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkInserted records a successful delivery.
func (s *Store) MarkInserted(id int64, gmailMessageID, gmailThreadID string) error {
	_, err := s.db.Exec(`
		UPDATE messages
		   SET state = 'INSERTED', gmail_message_id = ?, gmail_thread_id = ?, updated_at = ?
		 WHERE id = ?
	`, gmailMessageID, gmailThreadID, utcNowISO(), id)
	if err != nil {
		return fmt.Errorf("mark inserted: %w", err)
	}
	return nil
}

// MarkFailedRetry schedules another delivery attempt.
func (s *Store) MarkFailedRetry(id int64, lastError string, nextAttemptAt string) error {
	_, err := s.db.Exec(`
		UPDATE messages
		   SET state = 'FAILED_RETRY',
		       attempt_count = attempt_count + 1,
		       next_attempt_at = ?,
		       last_error = ?,
		       updated_at = ?
		 WHERE id = ?
	`, nextAttemptAt, lastError, utcNowISO(), id)
	if err != nil {
		return fmt.Errorf("mark failed retry: %w", err)
	}
	return nil
}

// MarkFailedPerm moves a row to a terminal, operator-review state.
func (s *Store) MarkFailedPerm(id int64, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE messages
		   SET state = 'FAILED_PERM', last_error = ?, updated_at = ?
		 WHERE id = ?
	`, lastError, utcNowISO(), id)
	if err != nil {
		return fmt.Errorf("mark failed perm: %w", err)
	}
	return nil
}

// RecoverStuckLeases is the idempotent crash-recovery step run once at
// worker startup: any row held in INSERTING whose updated_at is at or
// before cutoffISO is returned to FAILED_RETRY. Returns the number of rows
// recovered.
func (s *Store) RecoverStuckLeases(cutoffISO string) (int64, error) {
	now := utcNowISO()
	res, err := s.db.Exec(`
		UPDATE messages
		   SET state = 'FAILED_RETRY',
		       attempt_count = attempt_count + 1,
		       next_attempt_at = ?,
		       last_error = 'lease_timeout',
		       updated_at = ?
		 WHERE state = 'INSERTING'
		   AND updated_at <= ?
	`, now, now, cutoffISO)
	if err != nil {
		return 0, fmt.Errorf("recover stuck leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stuck leases rows affected: %w", err)
	}
	return n, nil
}

// MarkSourceDeleted records that the source UID has been EXPUNGEd.
func (s *Store) MarkSourceDeleted(id int64) error {
	_, err := s.db.Exec(`
		UPDATE messages SET yahoo_deleted_at = ?, updated_at = ? WHERE id = ?
	`, utcNowISO(), utcNowISO(), id)
	if err != nil {
		return fmt.Errorf("mark source deleted: %w", err)
	}
	return nil
}

// CountByState returns the number of messages rows in each delivery state,
// keyed by MessageState, for the admin status surface.
func (s *Store) CountByState() (map[MessageState]int64, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM messages GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count messages by state: %w", err)
	}
	defer rows.Close()

	out := map[MessageState]int64{}
	for rows.Next() {
		var state MessageState
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		out[state] = count
	}
	return out, rows.Err()
}

// MarkDeleteFailedRetry schedules another deletion attempt with its own
// attempt counter, independent of the delivery counter.
func (s *Store) MarkDeleteFailedRetry(id int64, lastError string, nextAttemptAt string) error {
	_, err := s.db.Exec(`
		UPDATE messages
		   SET yahoo_delete_attempt_count = yahoo_delete_attempt_count + 1,
		       yahoo_delete_next_attempt_at = ?,
		       yahoo_delete_last_error = ?,
		       updated_at = ?
		 WHERE id = ?
	`, nextAttemptAt, lastError, utcNowISO(), id)
	if err != nil {
		return fmt.Errorf("mark delete failed retry: %w", err)
	}
	return nil
}
