package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertAlert appends an alert record. Alerts are never updated or deleted;
// the table is a log, queried for cooldown decisions and displayed in the
// admin surface.
func (s *Store) InsertAlert(kind, title, message string, success bool) error {
	successInt := 0
	if success {
		successInt = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts(kind, title, message, success, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, kind, title, message, successInt, utcNowISO())
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// LastAlertAt returns the created_at of the most recent successful alert of
// kind, or ok=false if none has ever succeeded. The alert manager uses this
// to enforce its cooldown window, so a run of delivery failures doesn't
// keep resetting the clock.
func (s *Store) LastAlertAt(kind string) (createdAt string, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT created_at FROM alerts
		 WHERE kind = ? AND success = 1
		 ORDER BY created_at DESC
		 LIMIT 1
	`, kind)
	if err := row.Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load last alert for %s: %w", kind, err)
	}
	return createdAt, true, nil
}

// RecentAlerts returns up to limit most recent alerts, newest first, for
// the admin status surface.
func (s *Store) RecentAlerts(limit int) ([]Alert, error) {
	rows, err := s.db.Query(`
		SELECT kind, title, message, success, created_at
		  FROM alerts
		 ORDER BY created_at DESC
		 LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var successInt int
		if err := rows.Scan(&a.Kind, &a.Title, &a.Message, &successInt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Success = successInt != 0
		out = append(out, a)
	}
	return out, rows.Err()
}
